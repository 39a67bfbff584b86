package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"voice-platform/internal/calls"
)

func TestMockPayloadIsCopied(t *testing.T) {
	m := NewMockPublisher()
	payload := []byte("original")
	if err := m.Publish(context.Background(), "t", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload[0] = 'X'
	if got := string(m.Messages()[0].Payload); got != "original" {
		t.Fatalf("payload was not copied, got %q", got)
	}
}

func TestMockSetErrorAndClose(t *testing.T) {
	m := NewMockPublisher()
	boom := errors.New("broker down")
	m.SetError(boom)
	if err := m.Publish(context.Background(), "t", nil); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if len(m.Messages()) != 0 {
		t.Fatalf("failed publish must not be recorded")
	}
	_ = m.Close()
	if !m.Closed() {
		t.Fatalf("expected closed")
	}
}

func TestCallEventSink(t *testing.T) {
	m := NewMockPublisher()
	sink := NewCallEventSink(m, "voice/")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := sink.Emit(context.Background(), calls.Event{
		Type:            calls.EventCallEnded,
		Call:            calls.Call{ID: "c1", CallControlID: "v3:cc/1", TenantID: "t1", Direction: calls.DirectionInbound, State: calls.StateEnded, EndReason: "hangup"},
		DurationMs:      1500,
		DurationSeconds: 2,
		OccurredAt:      at,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Topic != "voice/t1/calls/v3:cc_1/ended" {
		t.Fatalf("unexpected topic %q", msgs[0].Topic)
	}
	var got callEventPayload
	if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.DurationSeconds != 2 || got.EndReason != "hangup" || !got.OccurredAt.Equal(at) {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestCallEventSinkDefaultPrefixAndEmptyTenant(t *testing.T) {
	sink := NewCallEventSink(NewMockPublisher(), "")
	topic := sink.Topic(calls.Event{Type: calls.EventCallStarted, Call: calls.Call{CallControlID: "cc-1"}})
	if topic != "voice/_/calls/cc-1/started" {
		t.Fatalf("unexpected topic %q", topic)
	}
}
