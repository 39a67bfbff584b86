package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"voice-platform/internal/calls"
)

// CallEventSink publishes calls.Event as JSON to
// <prefix>/<tenant_id>/calls/<call_control_id>/<started|ended>.
type CallEventSink struct {
	pub    Publisher
	prefix string
}

func NewCallEventSink(pub Publisher, prefix string) *CallEventSink {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "voice"
	}
	return &CallEventSink{pub: pub, prefix: prefix}
}

type callEventPayload struct {
	Type            calls.EventType `json:"type"`
	CallID          string          `json:"call_id"`
	CallControlID   string          `json:"call_control_id"`
	TenantID        string          `json:"tenant_id"`
	Direction       calls.Direction `json:"direction"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	State           calls.CallState `json:"state"`
	EndReason       string          `json:"end_reason,omitempty"`
	DurationMs      int64           `json:"duration_ms,omitempty"`
	DurationSeconds int64           `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

func (s *CallEventSink) Topic(e calls.Event) string {
	suffix := strings.TrimPrefix(string(e.Type), "call.")
	return fmt.Sprintf("%s/%s/calls/%s/%s", s.prefix, topicSegment(e.Call.TenantID), topicSegment(e.Call.CallControlID), suffix)
}

func (s *CallEventSink) Emit(ctx context.Context, e calls.Event) error {
	payload, err := json.Marshal(callEventPayload{
		Type:            e.Type,
		CallID:          e.Call.ID,
		CallControlID:   e.Call.CallControlID,
		TenantID:        e.Call.TenantID,
		Direction:       e.Call.Direction,
		From:            e.Call.From,
		To:              e.Call.To,
		State:           e.Call.State,
		EndReason:       e.Call.EndReason,
		DurationMs:      e.DurationMs,
		DurationSeconds: e.DurationSeconds,
		OccurredAt:      e.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("publisher: marshal call event: %w", err)
	}
	return s.pub.Publish(ctx, s.Topic(e), payload)
}

// topicSegment keeps MQTT wildcards and separators out of a single level.
func topicSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
