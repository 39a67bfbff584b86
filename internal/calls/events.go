package calls

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventCallStarted EventType = "call.started"
	EventCallEnded   EventType = "call.ended"
)

// Event is a lifecycle notification. Duration fields are only set on call.ended;
// DurationSeconds is rounded up for usage metering.
type Event struct {
	Type            EventType `json:"type"`
	Call            Call      `json:"call"`
	DurationMs      int64     `json:"duration_ms,omitempty"`
	DurationSeconds int64     `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type EventSink interface {
	Emit(ctx context.Context, e Event) error
}

// MultiSink delivers to every sink; failures are logged, never returned.
type MultiSink struct {
	Sinks  []EventSink
	Logger *slog.Logger
}

func (m MultiSink) Emit(ctx context.Context, e Event) error {
	for _, s := range m.Sinks {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil {
			log := m.Logger
			if log == nil {
				log = slog.Default()
			}
			log.Warn("call event sink failed", "type", e.Type, "call_control_id", e.Call.CallControlID, "err", err)
		}
	}
	return nil
}

// RecordingSink keeps emitted events in memory. Used in tests.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingSink) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything received so far.
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were received.
func (r *RecordingSink) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
