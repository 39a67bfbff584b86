package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	HeaderTimestamp = "telnyx-timestamp"
	HeaderSignature = "telnyx-signature-hmac"
)

// Carrier webhook event types.
const (
	EventCallInitiated    = "call.initiated"
	EventCallAnswered     = "call.answered"
	EventCallHangup       = "call.hangup"
	EventStreamingStarted = "streaming.started"
	EventStreamingStopped = "streaming.stopped"
)

// Event is the normalized form of a call-control webhook.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time

	CallControlID string
	CallLegID     string
	CallSessionID string
	From          string
	To            string
	Direction     string
	State         string
	HangupCause   string
}

// Inbound reports whether the carrier marked the call as caller-originated.
func (e Event) Inbound() bool {
	switch strings.ToLower(e.Direction) {
	case "incoming", "inbound":
		return true
	}
	return false
}

type telnyxEnvelope struct {
	Data *struct {
		ID         string `json:"id"`
		EventType  string `json:"event_type"`
		OccurredAt string `json:"occurred_at"`
		Payload    struct {
			CallControlID string `json:"call_control_id"`
			CallLegID     string `json:"call_leg_id"`
			CallSessionID string `json:"call_session_id"`
			From          string `json:"from"`
			To            string `json:"to"`
			Direction     string `json:"direction"`
			State         string `json:"state"`
			HangupCause   string `json:"hangup_cause"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseEvent decodes a Telnyx call-control webhook body.
func ParseEvent(body []byte) (Event, error) {
	var env telnyxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Data == nil || env.Data.EventType == "" {
		return Event{}, fmt.Errorf("%w: missing data.event_type", ErrMalformedEvent)
	}
	d := env.Data
	ev := Event{
		ID:            d.ID,
		Type:          d.EventType,
		CallControlID: d.Payload.CallControlID,
		CallLegID:     d.Payload.CallLegID,
		CallSessionID: d.Payload.CallSessionID,
		From:          strings.TrimSpace(d.Payload.From),
		To:            strings.TrimSpace(d.Payload.To),
		Direction:     d.Payload.Direction,
		State:         d.Payload.State,
		HangupCause:   d.Payload.HangupCause,
	}
	if d.OccurredAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, d.OccurredAt); err == nil {
			ev.OccurredAt = ts
		}
	}
	return ev, nil
}

// VerifySignature checks the hex HMAC-SHA256 of timestamp + "." + body.
// An empty secret disables verification.
func VerifySignature(secret string, body []byte, headers map[string]string) error {
	if secret == "" {
		return nil
	}
	ts := headerValue(headers, HeaderTimestamp)
	sig := headerValue(headers, HeaderSignature)
	if ts == "" || sig == "" {
		return fmt.Errorf("%w: missing signature headers", ErrSignatureInvalid)
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrSignatureInvalid)
	}
	if !hmac.Equal(got, Sign(secret, ts, body)) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the raw HMAC for a timestamp and body.
func Sign(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
