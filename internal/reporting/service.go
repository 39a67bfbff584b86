package reporting

import (
	"context"
	"errors"
	"time"

	"voice-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxRange bounds a single summary query.
const maxRange = 93 * 24 * time.Hour

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce tenant filtering.
// - calls.PostgresRepo and calls.MemoryRepo satisfy it.
type Repository interface {
	ListByTenantBetween(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > maxRange {
		return CallsSummary{}, ErrInvalidRequest
	}
	switch calls.Direction(req.Direction) {
	case "", calls.DirectionInbound, calls.DirectionOutbound:
	default:
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListByTenantBetween(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		TenantID:   req.TenantID,
		Range:      req.Range,
		Direction:  req.Direction,
		EndReasons: map[string]int{},
	}
	for _, c := range rows {
		if req.Direction != "" && string(c.Direction) != req.Direction {
			continue
		}
		out.TotalCalls++
		switch c.Direction {
		case calls.DirectionInbound:
			out.InboundCalls++
		case calls.DirectionOutbound:
			out.OutboundCalls++
		}
		if c.ConnectedAt != nil {
			out.ConnectedCalls++
			out.TotalDurationSeconds += ceilSeconds(c.DurationMs)
		}
		if c.Recording {
			out.RecordedCalls++
		}
		if c.EndedAt == nil {
			out.OpenCalls++
			continue
		}
		reason := c.EndReason
		if reason == "" {
			reason = "unknown"
		}
		out.EndReasons[reason]++
	}
	if out.ConnectedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / int64(out.ConnectedCalls)
	}
	if out.TotalCalls > 0 {
		out.ConnectionRate = float64(out.ConnectedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}

func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
