package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Tenant isolation: TenantID is required.

type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	// Direction filters to inbound or outbound; empty means both.
	Direction string `json:"direction,omitempty"`
}

type CallsSummary struct {
	TenantID  string    `json:"tenant_id"`
	Range     TimeRange `json:"range"`
	Direction string    `json:"direction,omitempty"`

	TotalCalls     int `json:"total_calls"`
	InboundCalls   int `json:"inbound_calls"`
	OutboundCalls  int `json:"outbound_calls"`
	ConnectedCalls int `json:"connected_calls"`

	// OpenCalls have no end time yet (live, or lost in a crash).
	OpenCalls     int `json:"open_calls"`
	RecordedCalls int `json:"recorded_calls"`

	// Durations count connected time only, rounded up per call.
	TotalDurationSeconds   int64 `json:"total_duration_seconds"`
	AverageDurationSeconds int64 `json:"average_duration_seconds"`

	ConnectionRate float64        `json:"connection_rate"`
	EndReasons     map[string]int `json:"end_reasons"`
}
