package telephony

import "context"

// Carrier is the provider-agnostic call-control surface used by business logic.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Every error returned wraps ErrUpstream.
type Carrier interface {
	Name() string
	HealthCheck(ctx context.Context) error

	AnswerCall(ctx context.Context, callControlID string) error
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error)
	Hangup(ctx context.Context, callControlID, reason string) error

	StartRecording(ctx context.Context, callControlID string) error
	StopRecording(ctx context.Context, callControlID string) error
	StartMediaStream(ctx context.Context, callControlID, streamURL string) error

	SearchNumbers(ctx context.Context, req SearchNumbersRequest) ([]AvailableNumber, error)
	OrderNumber(ctx context.Context, req OrderNumberRequest) (OrderNumberResult, error)
	ReleaseNumber(ctx context.Context, req ReleaseNumberRequest) error
}

type CreateCallRequest struct {
	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	// WebhookURL overrides the connection-level event URL when set.
	WebhookURL string `json:"webhook_url,omitempty"`
}

type CreateCallResult struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id,omitempty"`
	CallSessionID string `json:"call_session_id,omitempty"`
}

type SearchNumbersRequest struct {
	CountryCode string `json:"country_code"`
	AreaCode    string `json:"area_code,omitempty"`
	Contains    string `json:"contains,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

type AvailableNumber struct {
	Number      string `json:"number"`
	Locality    string `json:"locality,omitempty"`
	Region      string `json:"region,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

type OrderNumberRequest struct {
	Number string `json:"number"`
}

type OrderNumberResult struct {
	Number string `json:"number"`

	// CarrierNumberID is the provider's identifier for the purchased number.
	CarrierNumberID string `json:"carrier_number_id"`
}

type ReleaseNumberRequest struct {
	Number string `json:"number"`
	// CarrierNumberID is optional; adapters look the number up when empty.
	CarrierNumberID string `json:"carrier_number_id,omitempty"`
}
