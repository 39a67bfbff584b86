package calls

import "time"

// Call is the persisted record of one phone call.
//
// Tenant invariant: TenantID is set on every row, falling back to the configured
// default tenant when the dialed number is not owned by anyone.
//
// CallControlID is the carrier's handle for the call and is the registry key for
// everything in this package.
type Call struct {
	ID            string `json:"id" db:"id"`
	CallControlID string `json:"call_control_id" db:"call_control_id"`
	CallLegID     string `json:"call_leg_id,omitempty" db:"call_leg_id"`
	TenantID      string `json:"tenant_id" db:"tenant_id"`

	From      string    `json:"from" db:"from_number"`
	To        string    `json:"to" db:"to_number"`
	Direction Direction `json:"direction" db:"direction"`

	// SessionID identifies the conversation session bound to this call.
	SessionID string    `json:"session_id,omitempty" db:"session_id"`
	State     CallState `json:"state" db:"state"`
	Recording bool      `json:"recording" db:"recording"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	EndReason   string     `json:"end_reason,omitempty" db:"end_reason"`

	// DurationMs is measured from ConnectedAt; zero when the call never connected.
	DurationMs int64 `json:"duration_ms" db:"duration_ms"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallState string

const (
	StateRinging   CallState = "ringing"
	StateAnswering CallState = "answering"
	StateConnected CallState = "connected"
	StateHold      CallState = "hold"
	StateEnding    CallState = "ending"
	StateEnded     CallState = "ended"
	StateFailed    CallState = "failed"
)

// End reasons recorded on Call.EndReason and sent with carrier hangups.
const (
	ReasonHangup       = "hangup"        // carrier reported the call over
	ReasonCapacity     = "capacity"      // rejected at the local or tenant cap
	ReasonUnavailable  = "unavailable"   // registration failed for any other reason
	ReasonAnswerFailed = "answer_failed" // carrier refused the answer command
	ReasonAPIHangup    = "api_hangup"    // ended through DELETE /v1/calls
	ReasonShutdown     = "shutdown"      // process shutdown
	ReasonStreamClosed = "stream_closed" // media stream stopped or dropped
)

// InboundCall carries what the carrier tells us about a new inbound call.
type InboundCall struct {
	CallControlID string
	CallLegID     string
	From          string
	To            string
	TenantID      string
}

// OutboundCall carries the carrier result of placing an outbound call.
type OutboundCall struct {
	CallControlID string
	CallLegID     string
	From          string
	To            string
	TenantID      string
}

// CallUpdate is a partial update; nil fields are left untouched.
type CallUpdate struct {
	State       *CallState
	ConnectedAt *time.Time
	EndedAt     *time.Time
	EndReason   *string
	DurationMs  *int64
}

func (c Call) clone() Call {
	out := c
	if c.ConnectedAt != nil {
		t := *c.ConnectedAt
		out.ConnectedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	return out
}
