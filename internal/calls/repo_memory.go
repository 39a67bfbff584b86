package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call

	// Fail* make the corresponding method return the error, for failure-path tests.
	FailInsert error
	FailUpdate error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{calls: map[string]Call{}} }

func (r *MemoryRepo) Insert(_ context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailInsert != nil {
		return r.FailInsert
	}
	r.calls[c.ID] = c.clone()
	return nil
}

func (r *MemoryRepo) Update(_ context.Context, id string, u CallUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdate != nil {
		return r.FailUpdate
	}
	c, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	if u.State != nil {
		c.State = *u.State
	}
	if u.ConnectedAt != nil {
		t := *u.ConnectedAt
		c.ConnectedAt = &t
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		c.EndedAt = &t
	}
	if u.EndReason != nil {
		c.EndReason = *u.EndReason
	}
	if u.DurationMs != nil {
		c.DurationMs = *u.DurationMs
	}
	r.calls[id] = c
	return nil
}

func (r *MemoryRepo) FindByCallControlID(_ context.Context, callControlID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.CallControlID == callControlID {
			return c.clone(), nil
		}
	}
	return Call{}, ErrNotFound
}

func (r *MemoryRepo) ListByTenant(_ context.Context, tenantID string, limit int) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.TenantID == tenantID {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *MemoryRepo) ListByTenantBetween(_ context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.TenantID == tenantID && !c.StartedAt.Before(from) && c.StartedAt.Before(to) {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
