package telephony

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioAPI is the slice of the twilio-go v2010 service the adapter calls.
type TwilioAPI interface {
	FetchAccount(sid string) (*twilioopenapi.ApiV2010Account, error)
	CreateCall(params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioopenapi.UpdateCallParams) (*twilioopenapi.ApiV2010Call, error)
	CreateCallRecording(callSid string, params *twilioopenapi.CreateCallRecordingParams) (*twilioopenapi.ApiV2010CallRecording, error)
	UpdateCallRecording(callSid string, sid string, params *twilioopenapi.UpdateCallRecordingParams) (*twilioopenapi.ApiV2010CallRecording, error)
	ListAvailablePhoneNumberLocal(countryCode string, params *twilioopenapi.ListAvailablePhoneNumberLocalParams) ([]twilioopenapi.ApiV2010AvailablePhoneNumberLocal, error)
	CreateIncomingPhoneNumber(params *twilioopenapi.CreateIncomingPhoneNumberParams) (*twilioopenapi.ApiV2010IncomingPhoneNumber, error)
	ListIncomingPhoneNumber(params *twilioopenapi.ListIncomingPhoneNumberParams) ([]twilioopenapi.ApiV2010IncomingPhoneNumber, error)
	DeleteIncomingPhoneNumber(sid string, params *twilioopenapi.DeleteIncomingPhoneNumberParams) error
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// VoiceURL answers outbound calls created without an explicit webhook.
	VoiceURL string
	// StatusURL receives call status callbacks.
	StatusURL string
}

// TwilioCarrier adapts Twilio's REST API to Carrier. Call control IDs are call SIDs.
type TwilioCarrier struct {
	api        TwilioAPI
	accountSID string
	voiceURL   string
	statusURL  string
}

func NewTwilioCarrier(cfg TwilioConfig) (*TwilioCarrier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: twilio account sid and auth token are required", ErrNotConfigured)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return NewTwilioCarrierWithAPI(client.Api, cfg), nil
}

func NewTwilioCarrierWithAPI(api TwilioAPI, cfg TwilioConfig) *TwilioCarrier {
	return &TwilioCarrier{api: api, accountSID: cfg.AccountSID, voiceURL: cfg.VoiceURL, statusURL: cfg.StatusURL}
}

func (p *TwilioCarrier) Name() string { return "twilio" }

func (p *TwilioCarrier) HealthCheck(ctx context.Context) error {
	if _, err := p.api.FetchAccount(p.accountSID); err != nil {
		return twilioErr("health check", err)
	}
	return nil
}

// AnswerCall is a no-op: Twilio answers when the voice webhook returns TwiML.
func (p *TwilioCarrier) AnswerCall(ctx context.Context, callControlID string) error {
	return nil
}

func (p *TwilioCarrier) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	u := req.WebhookURL
	if u == "" {
		u = p.voiceURL
	}
	params := (&twilioopenapi.CreateCallParams{}).
		SetTo(req.To).
		SetFrom(req.From).
		SetUrl(u)
	if p.statusURL != "" {
		params.SetStatusCallback(p.statusURL)
	}
	call, err := p.api.CreateCall(params)
	if err != nil {
		return CreateCallResult{}, twilioErr("create call", err)
	}
	res := CreateCallResult{}
	if call != nil && call.Sid != nil {
		res.CallControlID = *call.Sid
		res.CallLegID = *call.Sid
	}
	return res, nil
}

func (p *TwilioCarrier) Hangup(ctx context.Context, callControlID, reason string) error {
	if _, err := p.api.UpdateCall(callControlID, (&twilioopenapi.UpdateCallParams{}).SetStatus("completed")); err != nil {
		return twilioErr("hangup", err)
	}
	return nil
}

func (p *TwilioCarrier) StartRecording(ctx context.Context, callControlID string) error {
	params := (&twilioopenapi.CreateCallRecordingParams{}).SetRecordingChannels("dual")
	if _, err := p.api.CreateCallRecording(callControlID, params); err != nil {
		return twilioErr("start recording", err)
	}
	return nil
}

func (p *TwilioCarrier) StopRecording(ctx context.Context, callControlID string) error {
	params := (&twilioopenapi.UpdateCallRecordingParams{}).SetStatus("stopped")
	if _, err := p.api.UpdateCallRecording(callControlID, "Twilio.CURRENT", params); err != nil {
		return twilioErr("stop recording", err)
	}
	return nil
}

// StartMediaStream redirects the live call to TwiML that connects a bidirectional stream.
func (p *TwilioCarrier) StartMediaStream(ctx context.Context, callControlID, streamURL string) error {
	twiml, err := RenderTwiML(Instruction{Action: ActionStream, StreamURL: streamURL})
	if err != nil {
		return twilioErr("start media stream", err)
	}
	if _, err := p.api.UpdateCall(callControlID, (&twilioopenapi.UpdateCallParams{}).SetTwiml(twiml)); err != nil {
		return twilioErr("start media stream", err)
	}
	return nil
}

func (p *TwilioCarrier) SearchNumbers(ctx context.Context, req SearchNumbersRequest) ([]AvailableNumber, error) {
	country := req.CountryCode
	if country == "" {
		country = "US"
	}
	params := &twilioopenapi.ListAvailablePhoneNumberLocalParams{}
	if req.AreaCode != "" {
		code, err := strconv.Atoi(req.AreaCode)
		if err != nil {
			return nil, fmt.Errorf("twilio search numbers: %w: area code %q", ErrUpstream, req.AreaCode)
		}
		params.SetAreaCode(code)
	}
	if req.Contains != "" {
		params.SetContains(req.Contains)
	}
	if req.Limit > 0 {
		params.SetLimit(req.Limit)
	}
	list, err := p.api.ListAvailablePhoneNumberLocal(country, params)
	if err != nil {
		return nil, twilioErr("search numbers", err)
	}
	out := make([]AvailableNumber, 0, len(list))
	for _, n := range list {
		out = append(out, AvailableNumber{
			Number:      deref(n.PhoneNumber),
			Locality:    deref(n.Locality),
			Region:      deref(n.Region),
			CountryCode: deref(n.IsoCountry),
		})
	}
	return out, nil
}

func (p *TwilioCarrier) OrderNumber(ctx context.Context, req OrderNumberRequest) (OrderNumberResult, error) {
	params := (&twilioopenapi.CreateIncomingPhoneNumberParams{}).SetPhoneNumber(req.Number)
	if p.voiceURL != "" {
		params.SetVoiceUrl(p.voiceURL)
	}
	if p.statusURL != "" {
		params.SetStatusCallback(p.statusURL)
	}
	pn, err := p.api.CreateIncomingPhoneNumber(params)
	if err != nil {
		return OrderNumberResult{}, twilioErr("order number", err)
	}
	res := OrderNumberResult{Number: req.Number}
	if pn != nil {
		res.CarrierNumberID = deref(pn.Sid)
		if n := deref(pn.PhoneNumber); n != "" {
			res.Number = n
		}
	}
	return res, nil
}

func (p *TwilioCarrier) ReleaseNumber(ctx context.Context, req ReleaseNumberRequest) error {
	sid := req.CarrierNumberID
	if sid == "" {
		list, err := p.api.ListIncomingPhoneNumber((&twilioopenapi.ListIncomingPhoneNumberParams{}).SetPhoneNumber(req.Number))
		if err != nil {
			return twilioErr("release number", err)
		}
		if len(list) == 0 || list[0].Sid == nil {
			return fmt.Errorf("twilio release number: %w", &APIError{Provider: "twilio", Status: 404, Detail: "phone number " + req.Number + " not found"})
		}
		sid = *list[0].Sid
	}
	if err := p.api.DeleteIncomingPhoneNumber(sid, nil); err != nil {
		return twilioErr("release number", err)
	}
	return nil
}

// twilioErr converts SDK errors into APIError where the SDK reports an HTTP status.
func twilioErr(op string, err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		return upstream("twilio", op, &APIError{
			Provider: "twilio",
			Status:   restErr.Status,
			Code:     strconv.Itoa(restErr.Code),
			Detail:   restErr.Message,
		})
	}
	return upstream("twilio", op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
