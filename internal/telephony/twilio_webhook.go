package telephony

import (
	"net/http"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
)

// TwilioVoiceForm captures the subset of voice and status webhook fields we use.
// Twilio sends application/x-www-form-urlencoded.
type TwilioVoiceForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
}

func ParseTwilioVoiceForm(r *http.Request) (TwilioVoiceForm, map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioVoiceForm{}, nil, err
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	f := TwilioVoiceForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: strings.ToLower(r.PostFormValue("CallStatus")),
	}
	return f, params, nil
}

// Inbound reports whether Twilio marked the call as caller-originated.
func (f TwilioVoiceForm) Inbound() bool {
	return strings.EqualFold(f.Direction, "inbound")
}

// Finished reports whether CallStatus is a final Twilio status.
func (f TwilioVoiceForm) Finished() bool {
	switch f.CallStatus {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	}
	return false
}

// VerifyTwilioSignature validates X-Twilio-Signature for a form POST to fullURL.
// An empty auth token disables verification.
func VerifyTwilioSignature(authToken, fullURL string, params map[string]string, signature string) error {
	if authToken == "" {
		return nil
	}
	if signature == "" {
		return ErrSignatureInvalid
	}
	v := twilioclient.NewRequestValidator(authToken)
	if !v.Validate(fullURL, params, signature) {
		return ErrSignatureInvalid
	}
	return nil
}
