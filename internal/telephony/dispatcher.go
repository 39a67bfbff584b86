package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"voice-platform/internal/calls"
)

// CallManager is the slice of calls.Manager the dispatcher drives.
type CallManager interface {
	RegisterInboundCall(ctx context.Context, in calls.InboundCall) (calls.Call, bool, error)
	TransitionCall(ctx context.Context, callControlID string, state calls.CallState)
	EndCall(ctx context.Context, callControlID, reason string, skipCarrierHangup bool)
	GetCall(callControlID string) (calls.Call, bool)
	SetPendingGreeting(callControlID, text string)
}

// TenantResolver maps a dialed number to its owning tenant. It never fails;
// unknown numbers resolve to a fallback tenant.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, number string) string
}

type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected"
	OutcomeIgnored  Outcome = "ignored"
)

// Response is the webhook acknowledgment. A zero Status means "200 with no body".
type Response struct {
	Status Outcome `json:"status,omitempty"`
}

func (r Response) Empty() bool { return r.Status == "" }

type DispatcherConfig struct {
	// WebhookSecret signs Telnyx webhooks; empty disables verification.
	WebhookSecret string
	// PublicBaseURL is where the carrier reaches this service; media URLs derive from it.
	PublicBaseURL string
	Greeting      string
}

type DispatcherDeps struct {
	Carrier Carrier
	Calls   CallManager
	Tenants TenantResolver
	Logger  *slog.Logger
}

// Dispatcher maps carrier lifecycle events to call manager operations and
// carrier commands. It holds no per-call state.
type Dispatcher struct {
	cfg     DispatcherConfig
	carrier Carrier
	calls   CallManager
	tenants TenantResolver
	log     *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig, deps DispatcherDeps) *Dispatcher {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:     cfg,
		carrier: deps.Carrier,
		calls:   deps.Calls,
		tenants: deps.Tenants,
		log:     log,
	}
}

// HandleWebhook verifies, parses and dispatches one Telnyx webhook.
// Errors are ErrSignatureInvalid or ErrMalformedEvent; everything past parsing
// produces a Response.
func (d *Dispatcher) HandleWebhook(ctx context.Context, body []byte, headers map[string]string) (Response, error) {
	if err := VerifySignature(d.cfg.WebhookSecret, body, headers); err != nil {
		d.log.Warn("webhook signature rejected", "err", err)
		return Response{}, err
	}
	ev, err := ParseEvent(body)
	if err != nil {
		return Response{}, err
	}
	return d.Dispatch(ctx, ev), nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) Response {
	log := d.log.With("event_type", ev.Type, "event_id", ev.ID, "call_control_id", ev.CallControlID)

	switch ev.Type {
	case EventCallInitiated:
		if !ev.Inbound() {
			log.Debug("outbound call initiated, already tracked")
			return Response{Status: OutcomeIgnored}
		}
		return d.inbound(ctx, ev, log)

	case EventCallAnswered:
		return d.answered(ctx, ev.CallControlID, log)

	case EventStreamingStarted:
		log.Info("media streaming started")
		return Response{Status: OutcomeOK}

	case EventCallHangup:
		// The carrier already tore the call down.
		d.calls.EndCall(ctx, ev.CallControlID, calls.ReasonHangup, true)
		return Response{Status: OutcomeOK}

	case EventStreamingStopped:
		log.Debug("media streaming stopped")
		return Response{Status: OutcomeOK}

	default:
		log.Info("unhandled webhook event")
		return Response{}
	}
}

func (d *Dispatcher) inbound(ctx context.Context, ev Event, log *slog.Logger) Response {
	tenantID := d.resolveTenant(ctx, ev.To)
	log = log.With("tenant_id", tenantID)

	_, accepted, err := d.calls.RegisterInboundCall(ctx, calls.InboundCall{
		CallControlID: ev.CallControlID,
		CallLegID:     ev.CallLegID,
		From:          ev.From,
		To:            ev.To,
		TenantID:      tenantID,
	})
	switch {
	case errors.Is(err, calls.ErrDuplicate):
		log.Info("duplicate call.initiated ignored")
		return Response{Status: OutcomeIgnored}
	case err != nil:
		log.Error("inbound call registration failed", "err", err)
		d.hangup(ctx, ev.CallControlID, calls.ReasonUnavailable, log)
		return Response{Status: OutcomeRejected}
	case !accepted:
		d.hangup(ctx, ev.CallControlID, calls.ReasonCapacity, log)
		return Response{Status: OutcomeRejected}
	}

	d.calls.TransitionCall(ctx, ev.CallControlID, calls.StateAnswering)
	if err := d.carrier.AnswerCall(ctx, ev.CallControlID); err != nil {
		log.Error("answer call failed", "err", err)
		d.calls.EndCall(ctx, ev.CallControlID, calls.ReasonAnswerFailed, false)
		return Response{Status: OutcomeRejected}
	}
	return Response{Status: OutcomeOK}
}

func (d *Dispatcher) answered(ctx context.Context, ccid string, log *slog.Logger) Response {
	c, ok := d.connect(ctx, ccid, log)
	if !ok {
		return Response{Status: OutcomeIgnored}
	}
	if c.Recording {
		d.startRecording(ctx, ccid, log)
	}
	if err := d.carrier.StartMediaStream(ctx, ccid, d.MediaURL(ccid)); err != nil {
		log.Error("start media stream failed", "err", err)
	}
	return Response{Status: OutcomeOK}
}

// connect moves a tracked call to connected and stashes the greeting.
// Outbound calls are still ringing when answered, so they pass through answering.
func (d *Dispatcher) connect(ctx context.Context, ccid string, log *slog.Logger) (calls.Call, bool) {
	c, ok := d.calls.GetCall(ccid)
	if !ok {
		log.Warn("answered event for untracked call")
		return calls.Call{}, false
	}
	if c.State == calls.StateRinging {
		d.calls.TransitionCall(ctx, ccid, calls.StateAnswering)
	}
	d.calls.TransitionCall(ctx, ccid, calls.StateConnected)
	if greeting := strings.TrimSpace(d.cfg.Greeting); greeting != "" {
		d.calls.SetPendingGreeting(ccid, greeting)
	}
	return c, true
}

// HandleTwilioVoice answers a Twilio voice webhook with the next instruction.
// Inbound calls are registered here; outbound calls reach it once answered.
func (d *Dispatcher) HandleTwilioVoice(ctx context.Context, f TwilioVoiceForm) Instruction {
	log := d.log.With("call_control_id", f.CallSid, "direction", f.Direction)

	if !f.Inbound() {
		c, ok := d.connect(ctx, f.CallSid, log)
		if !ok {
			return Instruction{Action: ActionHangup}
		}
		if c.Recording {
			d.startRecording(ctx, f.CallSid, log)
		}
		return Instruction{Action: ActionStream, StreamURL: d.MediaURL(f.CallSid)}
	}

	tenantID := d.resolveTenant(ctx, f.To)
	_, accepted, err := d.calls.RegisterInboundCall(ctx, calls.InboundCall{
		CallControlID: f.CallSid,
		From:          f.From,
		To:            f.To,
		TenantID:      tenantID,
	})
	switch {
	case errors.Is(err, calls.ErrDuplicate):
		return Instruction{Action: ActionStream, StreamURL: d.MediaURL(f.CallSid)}
	case err != nil:
		log.Error("inbound call registration failed", "err", err)
		return Instruction{Action: ActionHangup}
	case !accepted:
		return Instruction{Action: ActionReject, Reason: "busy"}
	}

	// <Connect> answers the call.
	d.calls.TransitionCall(ctx, f.CallSid, calls.StateAnswering)
	d.connect(ctx, f.CallSid, log)
	return Instruction{Action: ActionStream, StreamURL: d.MediaURL(f.CallSid)}
}

// HandleTwilioStatus processes a Twilio status callback.
func (d *Dispatcher) HandleTwilioStatus(ctx context.Context, f TwilioVoiceForm) {
	switch {
	case f.Finished():
		d.calls.EndCall(ctx, f.CallSid, calls.ReasonHangup, true)
	case f.CallStatus == "in-progress":
		if c, ok := d.calls.GetCall(f.CallSid); ok && c.Recording && c.Direction == calls.DirectionInbound {
			d.startRecording(ctx, f.CallSid, d.log.With("call_control_id", f.CallSid))
		}
	}
}

// MediaURL is the websocket endpoint the carrier streams call audio to.
func (d *Dispatcher) MediaURL(ccid string) string {
	scheme, host := "wss", ""
	if u, err := url.Parse(d.cfg.PublicBaseURL); err == nil && u.Host != "" {
		host = u.Host
		if u.Scheme == "http" {
			scheme = "ws"
		}
	} else {
		host = strings.TrimRight(d.cfg.PublicBaseURL, "/")
	}
	return scheme + "://" + host + "/media/" + url.PathEscape(ccid)
}

func (d *Dispatcher) resolveTenant(ctx context.Context, to string) string {
	if d.tenants == nil {
		return ""
	}
	return d.tenants.ResolveTenant(ctx, to)
}

// startRecording is best effort.
func (d *Dispatcher) startRecording(ctx context.Context, ccid string, log *slog.Logger) {
	if err := d.carrier.StartRecording(ctx, ccid); err != nil {
		log.Warn("start recording failed, continuing without recording", "err", err)
	}
}

func (d *Dispatcher) hangup(ctx context.Context, ccid, reason string, log *slog.Logger) {
	if err := d.carrier.Hangup(ctx, ccid, reason); err != nil {
		log.Warn("carrier hangup failed", "reason", reason, "err", err)
	}
}
