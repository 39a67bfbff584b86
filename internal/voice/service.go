// Package voice is the orchestrator façade the HTTP layer talks to. It ties the
// carrier, the call registry and the number registry together.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voice-platform/internal/calls"
	"voice-platform/internal/numbers"
	"voice-platform/internal/telephony"
)

var ErrInvalidArgument = errors.New("voice: invalid argument")

// CallRegistry is the subset of calls.Manager the façade drives.
type CallRegistry interface {
	CanAcceptCall() bool
	ActiveCount() int
	InitiateOutboundCall(ctx context.Context, out calls.OutboundCall) (calls.Call, error)
	EndCall(ctx context.Context, ccid, reason string, skipCarrierHangup bool)
	GetCall(ccid string) (calls.Call, bool)
	ActiveCalls(tenantID string) []calls.Call
}

type NumberRegistry interface {
	Search(ctx context.Context, req telephony.SearchNumbersRequest) ([]telephony.AvailableNumber, error)
	Provision(ctx context.Context, tenantID, number string) (numbers.PhoneNumber, error)
	Release(ctx context.Context, tenantID, number string) error
	List(ctx context.Context, tenantID string) ([]numbers.PhoneNumber, error)
}

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte, headers map[string]string) (telephony.Response, error)
}

type Deps struct {
	Carrier  telephony.Carrier
	Calls    CallRegistry
	Numbers  NumberRegistry
	Webhooks WebhookProcessor
	// History is optional; without it only in-memory calls are visible.
	History calls.Repository
	Logger  *slog.Logger
}

type Service struct {
	carrier  telephony.Carrier
	calls    CallRegistry
	numbers  NumberRegistry
	webhooks WebhookProcessor
	history  calls.Repository
	log      *slog.Logger
}

func NewService(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		carrier:  d.Carrier,
		calls:    d.Calls,
		numbers:  d.Numbers,
		webhooks: d.Webhooks,
		history:  d.History,
		log:      log,
	}
}

type InitiateCallRequest struct {
	TenantID   string
	To         string
	From       string
	WebhookURL string
}

// InitiateCall places an outbound call and tracks it. When the registry fills
// up between the pre-check and registration the carrier leg is hung up.
func (s *Service) InitiateCall(ctx context.Context, req InitiateCallRequest) (calls.Call, error) {
	req.To = strings.TrimSpace(req.To)
	req.From = strings.TrimSpace(req.From)
	if req.TenantID == "" || !numbers.ValidE164(req.To) || !numbers.ValidE164(req.From) {
		return calls.Call{}, fmt.Errorf("%w: tenant_id, to and from (E.164) are required", ErrInvalidArgument)
	}
	if !s.calls.CanAcceptCall() {
		return calls.Call{}, calls.ErrCapacityExceeded
	}

	res, err := s.carrier.CreateCall(ctx, telephony.CreateCallRequest{To: req.To, From: req.From, WebhookURL: req.WebhookURL})
	if err != nil {
		return calls.Call{}, err
	}
	log := s.log.With("call_control_id", res.CallControlID, "tenant_id", req.TenantID)

	c, err := s.calls.InitiateOutboundCall(ctx, calls.OutboundCall{
		CallControlID: res.CallControlID,
		CallLegID:     res.CallLegID,
		From:          req.From,
		To:            req.To,
		TenantID:      req.TenantID,
	})
	if err != nil {
		reason := calls.ReasonCapacity
		if !errors.Is(err, calls.ErrCapacityExceeded) {
			reason = calls.ReasonUnavailable
		}
		if herr := s.carrier.Hangup(ctx, res.CallControlID, reason); herr != nil {
			log.Error("hangup of untracked outbound call failed", "err", herr)
		}
		return calls.Call{}, err
	}
	log.Info("outbound call placed", "to", req.To)
	return c, nil
}

func (s *Service) ActiveCallCount() int { return s.calls.ActiveCount() }

func (s *Service) ActiveCalls(tenantID string) []calls.Call { return s.calls.ActiveCalls(tenantID) }

// GetCall returns the live call when tracked, otherwise the stored record.
// Calls of other tenants are reported as not found.
func (s *Service) GetCall(ctx context.Context, tenantID, ccid string) (calls.Call, error) {
	if c, ok := s.calls.GetCall(ccid); ok {
		if c.TenantID != tenantID {
			return calls.Call{}, calls.ErrNotFound
		}
		return c, nil
	}
	if s.history == nil {
		return calls.Call{}, calls.ErrNotFound
	}
	c, err := s.history.FindByCallControlID(ctx, ccid)
	if err != nil {
		return calls.Call{}, err
	}
	if c.TenantID != tenantID {
		return calls.Call{}, calls.ErrNotFound
	}
	return c, nil
}

func (s *Service) ListCalls(ctx context.Context, tenantID string, limit int) ([]calls.Call, error) {
	if s.history == nil {
		return s.calls.ActiveCalls(tenantID), nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.history.ListByTenant(ctx, tenantID, limit)
}

// EndCall hangs up a live call owned by tenantID.
func (s *Service) EndCall(ctx context.Context, tenantID, ccid string) error {
	c, ok := s.calls.GetCall(ccid)
	if !ok || c.TenantID != tenantID {
		return calls.ErrNotFound
	}
	s.calls.EndCall(ctx, ccid, calls.ReasonAPIHangup, false)
	return nil
}

func (s *Service) HandleWebhook(ctx context.Context, body []byte, headers map[string]string) (telephony.Response, error) {
	return s.webhooks.HandleWebhook(ctx, body, headers)
}

func (s *Service) SearchNumbers(ctx context.Context, req telephony.SearchNumbersRequest) ([]telephony.AvailableNumber, error) {
	return s.numbers.Search(ctx, req)
}

func (s *Service) ProvisionNumber(ctx context.Context, tenantID, number string) (numbers.PhoneNumber, error) {
	return s.numbers.Provision(ctx, tenantID, number)
}

func (s *Service) ReleaseNumber(ctx context.Context, tenantID, number string) error {
	return s.numbers.Release(ctx, tenantID, number)
}

func (s *Service) ListNumbers(ctx context.Context, tenantID string) ([]numbers.PhoneNumber, error) {
	return s.numbers.List(ctx, tenantID)
}

// Ready reports whether the carrier answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.carrier.HealthCheck(ctx)
}
