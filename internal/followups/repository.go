package followups

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists rules and scheduled follow-ups.
type Repository interface {
	EnabledRules(ctx context.Context, tenantID string, trigger TriggerStatus) ([]Rule, error)
	GetRule(ctx context.Context, tenantID, id string) (Rule, error)
	// CountAttempts counts follow-ups ever scheduled for (rule, lead), any status.
	CountAttempts(ctx context.Context, tenantID, ruleID, leadID string) (int, error)
	// Insert reports ErrAlreadyScheduled on a uniqueness conflict.
	Insert(ctx context.Context, f FollowUp) (FollowUp, error)
	Get(ctx context.Context, tenantID, id string) (FollowUp, error)
	Cancel(ctx context.Context, tenantID, id string) (FollowUp, error)
	CancelPendingForLead(ctx context.Context, tenantID, leadID string) (int, error)
	// Complete moves a pending follow-up to completed; ok is false when it was not pending.
	Complete(ctx context.Context, tenantID, id, result string) (ok bool, err error)
	// DuePending lists pending follow-ups scheduled before t, oldest first.
	DuePending(ctx context.Context, before time.Time, limit int) ([]FollowUp, error)
}

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	rules     map[string]Rule
	followUps map[string]FollowUp
	clock     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rules: map[string]Rule{}, followUps: map[string]FollowUp{}, clock: time.Now}
}

// PutRule creates or replaces a rule.
func (r *MemoryRepo) PutRule(rule Rule) Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	r.rules[rule.ID] = rule
	return rule
}

func (r *MemoryRepo) EnabledRules(ctx context.Context, tenantID string, trigger TriggerStatus) ([]Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Rule
	for _, rule := range r.rules {
		if rule.TenantID == tenantID && rule.Trigger == trigger && rule.Enabled {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) GetRule(ctx context.Context, tenantID, id string) (Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok || rule.TenantID != tenantID {
		return Rule{}, ErrNotFound
	}
	return rule, nil
}

func (r *MemoryRepo) CountAttempts(ctx context.Context, tenantID, ruleID, leadID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.followUps {
		if f.TenantID == tenantID && f.RuleID == ruleID && f.LeadID == leadID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) Insert(ctx context.Context, f FollowUp) (FollowUp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.followUps {
		if existing.RuleID != f.RuleID {
			continue
		}
		if existing.SourceCallID == f.SourceCallID || (existing.LeadID == f.LeadID && existing.Attempt == f.Attempt) {
			return FollowUp{}, ErrAlreadyScheduled
		}
	}
	now := r.clock().UTC()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt, f.UpdatedAt = now, now
	r.followUps[f.ID] = f
	return f, nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (FollowUp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.followUps[id]
	if !ok || f.TenantID != tenantID {
		return FollowUp{}, ErrNotFound
	}
	return f, nil
}

func (r *MemoryRepo) Cancel(ctx context.Context, tenantID, id string) (FollowUp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.followUps[id]
	if !ok || f.TenantID != tenantID {
		return FollowUp{}, ErrNotFound
	}
	if f.Status != StatusPending {
		return f, ErrNotCancellable
	}
	f.Status = StatusCancelled
	f.UpdatedAt = r.clock().UTC()
	r.followUps[id] = f
	return f, nil
}

func (r *MemoryRepo) CancelPendingForLead(ctx context.Context, tenantID, leadID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, f := range r.followUps {
		if f.TenantID == tenantID && f.LeadID == leadID && f.Status == StatusPending {
			f.Status = StatusCancelled
			f.UpdatedAt = r.clock().UTC()
			r.followUps[id] = f
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) Complete(ctx context.Context, tenantID, id, result string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.followUps[id]
	if !ok || f.TenantID != tenantID {
		return false, ErrNotFound
	}
	if f.Status != StatusPending {
		return false, nil
	}
	f.Status = StatusCompleted
	f.Result = result
	f.UpdatedAt = r.clock().UTC()
	r.followUps[id] = f
	return true, nil
}

func (r *MemoryRepo) DuePending(ctx context.Context, before time.Time, limit int) ([]FollowUp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FollowUp
	for _, f := range r.followUps {
		if f.Status == StatusPending && f.ScheduledFor.Before(before) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every follow-up, oldest attempt first.
func (r *MemoryRepo) All() []FollowUp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FollowUp, 0, len(r.followUps))
	for _, f := range r.followUps {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempt != out[j].Attempt {
			return out[i].Attempt < out[j].Attempt
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}
