package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-platform/internal/calls"
)

func seed(t *testing.T, repo *calls.MemoryRepo, cs ...calls.Call) {
	t.Helper()
	for _, c := range cs {
		if err := repo.Insert(context.Background(), c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func at(t time.Time) *time.Time { return &t }

func TestReporting_TenantIsolation(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, repo,
		calls.Call{ID: "c1", CallControlID: "cc-1", TenantID: "t1", Direction: calls.DirectionInbound, StartedAt: now},
		calls.Call{ID: "c2", CallControlID: "cc-2", TenantID: "t2", Direction: calls.DirectionInbound, StartedAt: now},
	)
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{TenantID: "t1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.OpenCalls != 1 {
		t.Fatalf("expected 1 open call, got %+v", out)
	}
}

func TestReporting_CallsSummaryAggregates(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, repo,
		calls.Call{ID: "c1", CallControlID: "cc-1", TenantID: "t", Direction: calls.DirectionInbound, StartedAt: now,
			ConnectedAt: at(now), EndedAt: at(now.Add(30 * time.Second)), EndReason: "hangup", DurationMs: 30_000, Recording: true},
		calls.Call{ID: "c2", CallControlID: "cc-2", TenantID: "t", Direction: calls.DirectionOutbound, StartedAt: now,
			ConnectedAt: at(now), EndedAt: at(now.Add(time.Second)), EndReason: "api_hangup", DurationMs: 1_001},
		calls.Call{ID: "c3", CallControlID: "cc-3", TenantID: "t", Direction: calls.DirectionInbound, StartedAt: now,
			EndedAt: at(now), EndReason: "capacity"},
		// outside the range
		calls.Call{ID: "c4", CallControlID: "cc-4", TenantID: "t", Direction: calls.DirectionInbound, StartedAt: now.Add(2 * time.Hour)},
	)
	svc := NewService(repo)
	rng := TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{TenantID: "t", Range: rng})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 3 || out.InboundCalls != 2 || out.OutboundCalls != 1 {
		t.Fatalf("unexpected counts %+v", out)
	}
	if out.ConnectedCalls != 2 || out.RecordedCalls != 1 || out.OpenCalls != 0 {
		t.Fatalf("unexpected counts %+v", out)
	}
	if out.TotalDurationSeconds != 32 || out.AverageDurationSeconds != 16 {
		t.Fatalf("expected 32s total and 16s average, got %d and %d", out.TotalDurationSeconds, out.AverageDurationSeconds)
	}
	if out.EndReasons["capacity"] != 1 || out.EndReasons["hangup"] != 1 || out.EndReasons["api_hangup"] != 1 {
		t.Fatalf("unexpected end reasons %v", out.EndReasons)
	}

	out, err = svc.CallsSummary(context.Background(), CallsSummaryRequest{TenantID: "t", Range: rng, Direction: "outbound"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.ConnectionRate != 1 {
		t.Fatalf("unexpected outbound summary %+v", out)
	}
}

func TestReporting_InvalidRequests(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo())
	now := time.Unix(1700000000, 0).UTC()
	cases := []CallsSummaryRequest{
		{Range: TimeRange{From: now, To: now.Add(time.Hour)}},
		{TenantID: "t", Range: TimeRange{From: now, To: now}},
		{TenantID: "t", Range: TimeRange{From: now, To: now.Add(365 * 24 * time.Hour)}},
		{TenantID: "t", Range: TimeRange{From: now, To: now.Add(time.Hour)}, Direction: "sideways"},
	}
	for i, req := range cases {
		if _, err := svc.CallsSummary(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}
