package leads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists leads. Implementations enforce uniqueness of
// (tenant_id, phone) and report a violation as ErrLeadExists.
type Repository interface {
	FindByPhone(ctx context.Context, tenantID, phone string) (Lead, error)
	Get(ctx context.Context, tenantID, id string) (Lead, error)
	Insert(ctx context.Context, l Lead) (Lead, error)
	RecordContact(ctx context.Context, tenantID, id string, c Contact) (Lead, error)
	// SetStatus reports changed=false when the lead already has status.
	SetStatus(ctx context.Context, tenantID, id string, status Status) (changed bool, err error)
	SetScore(ctx context.Context, tenantID, id string, score int, factors map[string]int) error
	AddTag(ctx context.Context, tenantID, id, tag string) error
}

// MemoryRepo is an in-memory Repository used by tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	byID    map[string]Lead
	byPhone map[string]string // tenant|phone -> id
	clock   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Lead{}, byPhone: map[string]string{}, clock: time.Now}
}

func phoneKey(tenantID, phone string) string { return tenantID + "|" + phone }

func (r *MemoryRepo) FindByPhone(ctx context.Context, tenantID, phone string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPhone[phoneKey(tenantID, phone)]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	if !ok || l.TenantID != tenantID {
		return Lead{}, ErrNotFound
	}
	return clone(l), nil
}

func (r *MemoryRepo) Insert(ctx context.Context, l Lead) (Lead, error) {
	if l.TenantID == "" || !l.Status.Valid() {
		return Lead{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.Phone != "" {
		if _, exists := r.byPhone[phoneKey(l.TenantID, l.Phone)]; exists {
			return Lead{}, ErrLeadExists
		}
	}
	now := r.clock().UTC()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt, l.UpdatedAt = now, now
	r.byID[l.ID] = clone(l)
	if l.Phone != "" {
		r.byPhone[phoneKey(l.TenantID, l.Phone)] = l.ID
	}
	return clone(l), nil
}

func (r *MemoryRepo) RecordContact(ctx context.Context, tenantID, id string, c Contact) (Lead, error) {
	var out Lead
	err := r.update(tenantID, id, func(l *Lead) bool {
		if c.Notes != "" {
			l.Notes = c.Notes
		}
		if c.CallID != "" {
			l.LastCallID = c.CallID
		}
		at := c.At.UTC()
		l.LastContactAt = &at
		out = clone(*l)
		return true
	})
	return out, err
}

func (r *MemoryRepo) SetStatus(ctx context.Context, tenantID, id string, status Status) (bool, error) {
	if !status.Valid() {
		return false, ErrInvalidArgument
	}
	changed := false
	err := r.update(tenantID, id, func(l *Lead) bool {
		if l.Status == status {
			return false
		}
		l.Status = status
		changed = true
		return true
	})
	return changed, err
}

func (r *MemoryRepo) SetScore(ctx context.Context, tenantID, id string, score int, factors map[string]int) error {
	if score < MinScore || score > MaxScore {
		return ErrInvalidArgument
	}
	return r.update(tenantID, id, func(l *Lead) bool {
		l.Score = score
		l.ScoreFactors = copyFactors(factors)
		return true
	})
}

func (r *MemoryRepo) AddTag(ctx context.Context, tenantID, id, tag string) error {
	if tag == "" {
		return ErrInvalidArgument
	}
	return r.update(tenantID, id, func(l *Lead) bool {
		for _, t := range l.Tags {
			if t == tag {
				return false
			}
		}
		l.Tags = append(l.Tags, tag)
		sort.Strings(l.Tags)
		return true
	})
}

func (r *MemoryRepo) update(tenantID, id string, fn func(*Lead) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	if !ok || l.TenantID != tenantID {
		return ErrNotFound
	}
	l = clone(l)
	if fn(&l) {
		l.UpdatedAt = r.clock().UTC()
		r.byID[id] = l
	}
	return nil
}

// Len returns the number of stored leads.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func clone(l Lead) Lead {
	l.ScoreFactors = copyFactors(l.ScoreFactors)
	if l.Tags != nil {
		l.Tags = append([]string(nil), l.Tags...)
	}
	return l
}

func copyFactors(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
