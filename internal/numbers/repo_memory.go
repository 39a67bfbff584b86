package numbers

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	byNumber map[string]PhoneNumber

	FailUpsert error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byNumber: map[string]PhoneNumber{}} }

func (r *MemoryRepo) Upsert(_ context.Context, p PhoneNumber) (PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpsert != nil {
		return PhoneNumber{}, r.FailUpsert
	}
	if existing, ok := r.byNumber[p.Number]; ok {
		if existing.Status == StatusActive {
			return PhoneNumber{}, ErrAlreadyProvisioned
		}
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}
	p.UpdatedAt = p.CreatedAt
	r.byNumber[p.Number] = p
	return p, nil
}

func (r *MemoryRepo) FindByNumber(_ context.Context, number string) (PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byNumber[number]
	if !ok {
		return PhoneNumber{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) ListByTenant(_ context.Context, tenantID string) ([]PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PhoneNumber
	for _, p := range r.byNumber {
		if p.TenantID == tenantID && p.Status == StatusActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, id string, status Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n, p := range r.byNumber {
		if p.ID == id {
			p.Status = status
			p.UpdatedAt = at
			r.byNumber[n] = p
			return nil
		}
	}
	return ErrNotFound
}
