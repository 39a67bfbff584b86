package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voice-platform/internal/calls"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, tenantID, callControlID string) ([]Event, error)
}

// Service records call lifecycle events. It implements calls.EventSink.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

type lifecycleMetadata struct {
	Direction       calls.Direction `json:"direction"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	State           calls.CallState `json:"state"`
	EndReason       string          `json:"end_reason,omitempty"`
	DurationMs      int64           `json:"duration_ms,omitempty"`
	DurationSeconds int64           `json:"duration_seconds,omitempty"`
}

// Emit stores a calls.Event.
func (s *Service) Emit(ctx context.Context, e calls.Event) error {
	meta, err := json.Marshal(lifecycleMetadata{
		Direction:       e.Call.Direction,
		From:            e.Call.From,
		To:              e.Call.To,
		State:           e.Call.State,
		EndReason:       e.Call.EndReason,
		DurationMs:      e.DurationMs,
		DurationSeconds: e.DurationSeconds,
	})
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}

	var msg string
	switch e.Type {
	case calls.EventCallStarted:
		msg = fmt.Sprintf("%s call started", e.Call.Direction)
	case calls.EventCallEnded:
		msg = fmt.Sprintf("call ended: %s", e.Call.EndReason)
	}
	return s.Append(ctx, Event{
		TenantID:      e.Call.TenantID,
		Type:          EventType(e.Type),
		CallID:        e.Call.ID,
		CallControlID: e.Call.CallControlID,
		Message:       msg,
		Metadata:      string(meta),
		CreatedAt:     e.OccurredAt.UTC(),
	})
}

func (s *Service) CallEvents(ctx context.Context, tenantID, callControlID string) ([]Event, error) {
	return s.repo.ListByCall(ctx, tenantID, callControlID)
}
