package audit

import "time"

// Event is an immutable, append-only record of something that happened to a call.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Writing events is best-effort; call handling never blocks on it.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	Type     EventType `json:"type" db:"type"`

	CallID        string `json:"call_id,omitempty" db:"call_id"`
	CallControlID string `json:"call_control_id,omitempty" db:"call_control_id"`

	// Message is a short human-readable description for ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallStarted EventType = "call.started"
	EventTypeCallEnded   EventType = "call.ended"
)
