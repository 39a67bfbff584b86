package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Instruction is what the call should do next, rendered as TwiML for Twilio.
type Instruction struct {
	Action InstructionAction `json:"action"`

	// StreamURL is used when Action == "stream".
	StreamURL string `json:"stream_url,omitempty"`
	// Reason is used when Action == "reject" (busy or rejected).
	Reason string `json:"reason,omitempty"`
}

type InstructionAction string

const (
	ActionStream InstructionAction = "stream"
	ActionReject InstructionAction = "reject"
	ActionHangup InstructionAction = "hangup"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// RenderTwiML maps an Instruction to a TwiML document.
func RenderTwiML(in Instruction) (string, error) {
	var r twimlResponse

	switch in.Action {
	case ActionReject:
		reason := in.Reason
		if reason == "" {
			reason = "busy"
		}
		r.Verbs = append(r.Verbs, twimlReject{Reason: reason})
	case ActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case ActionStream:
		u := strings.TrimSpace(in.StreamURL)
		if !strings.HasPrefix(u, "wss://") && !strings.HasPrefix(u, "ws://") {
			return "", errors.New("telephony: websocket stream_url required for stream action")
		}
		r.Verbs = append(r.Verbs, twimlConnect{Stream: twimlStream{URL: u}})
	default:
		return "", errors.New("telephony: unknown instruction")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
