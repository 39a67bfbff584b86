package numbers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-platform/internal/telephony"

	"github.com/google/uuid"
)

// Carrier is the number-management slice of telephony.Carrier.
type Carrier interface {
	SearchNumbers(ctx context.Context, req telephony.SearchNumbersRequest) ([]telephony.AvailableNumber, error)
	OrderNumber(ctx context.Context, req telephony.OrderNumberRequest) (telephony.OrderNumberResult, error)
	ReleaseNumber(ctx context.Context, req telephony.ReleaseNumberRequest) error
}

// Service owns the phone-number registry and keeps it in step with the carrier.
//
// Tenancy invariant:
// - tenant_id is required for every mutation and enforced on release
type Service struct {
	repo           Repository
	carrier        Carrier
	fallbackTenant string
	log            *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, carrier Carrier, fallbackTenant string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, carrier: carrier, fallbackTenant: fallbackTenant, log: log, clock: time.Now}
}

// ResolveTenant returns the tenant owning an active number, or the fallback
// tenant when there is none.
func (s *Service) ResolveTenant(ctx context.Context, number string) string {
	p, err := s.repo.FindByNumber(ctx, strings.TrimSpace(number))
	switch {
	case err == nil && p.Status == StatusActive:
		return p.TenantID
	case err != nil && !errors.Is(err, ErrNotFound):
		s.log.Error("tenant lookup failed, using fallback tenant", "number", number, "err", err)
	default:
		s.log.Warn("no active number record, using fallback tenant", "number", number, "tenant_id", s.fallbackTenant)
	}
	return s.fallbackTenant
}

func (s *Service) Search(ctx context.Context, req telephony.SearchNumbersRequest) ([]telephony.AvailableNumber, error) {
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 10
	}
	return s.carrier.SearchNumbers(ctx, req)
}

// Provision orders number from the carrier and records it for tenantID.
func (s *Service) Provision(ctx context.Context, tenantID, number string) (PhoneNumber, error) {
	if tenantID == "" {
		return PhoneNumber{}, errors.New("numbers: tenant_id is required")
	}
	number = strings.TrimSpace(number)
	if !ValidE164(number) {
		return PhoneNumber{}, ErrInvalidNumber
	}
	if p, err := s.repo.FindByNumber(ctx, number); err == nil && p.Status == StatusActive {
		return PhoneNumber{}, ErrAlreadyProvisioned
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return PhoneNumber{}, err
	}

	ord, err := s.carrier.OrderNumber(ctx, telephony.OrderNumberRequest{Number: number})
	if err != nil {
		return PhoneNumber{}, err
	}

	now := s.clock().UTC()
	p, err := s.repo.Upsert(ctx, PhoneNumber{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Number:          number,
		CarrierNumberID: ord.CarrierNumberID,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		// Do not keep paying for a number we could not record.
		if rerr := s.carrier.ReleaseNumber(ctx, telephony.ReleaseNumberRequest{Number: number, CarrierNumberID: ord.CarrierNumberID}); rerr != nil {
			s.log.Error("release after failed provision failed", "number", number, "err", rerr)
		}
		return PhoneNumber{}, fmt.Errorf("numbers: record provisioned number: %w", err)
	}
	s.log.Info("number provisioned", "tenant_id", tenantID, "number", number, "carrier_number_id", ord.CarrierNumberID)
	return p, nil
}

// Release returns number to the carrier. Numbers owned by another tenant are
// reported as not found.
func (s *Service) Release(ctx context.Context, tenantID, number string) error {
	p, err := s.repo.FindByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return err
	}
	if p.TenantID != tenantID || p.Status != StatusActive {
		return ErrNotFound
	}
	if err := s.carrier.ReleaseNumber(ctx, telephony.ReleaseNumberRequest{Number: p.Number, CarrierNumberID: p.CarrierNumberID}); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, p.ID, StatusReleased, s.clock().UTC()); err != nil {
		return fmt.Errorf("numbers: mark released: %w", err)
	}
	s.log.Info("number released", "tenant_id", tenantID, "number", p.Number)
	return nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]PhoneNumber, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}
