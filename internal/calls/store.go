package calls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists calls keyed by provider call id.
type Store interface {
	// Upsert inserts or updates the call for in.ProviderCallID in one atomic step.
	// created is true when this call created the row.
	Upsert(ctx context.Context, in UpsertInput) (call Call, created bool, err error)
	LinkLead(ctx context.Context, tenantID, callID, leadID string) error
	Get(ctx context.Context, tenantID, callID string) (Call, error)
}

// MemoryStore mirrors PostgresStore semantics in memory. Used by tests.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]Call // key: provider call id
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: map[string]Call{}, clock: time.Now}
}

func (s *MemoryStore) Upsert(ctx context.Context, in UpsertInput) (Call, bool, error) {
	if err := in.validate(); err != nil {
		return Call{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	existing, ok := s.calls[in.ProviderCallID]
	if !ok {
		c := Call{
			ID:             uuid.NewString(),
			TenantID:       in.TenantID,
			ProviderCallID: in.ProviderCallID,
			Direction:      in.Direction,
			FromNumber:     in.FromNumber,
			ToNumber:       in.ToNumber,
			Status:         in.Status,
			RecordingURL:   in.RecordingURL,
			Transcript:     in.Transcript,
			Summary:        in.Summary,
			EndedReason:    in.EndedReason,
			Outcome:        in.Outcome,
			RawPayload:     in.RawPayload,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if in.DurationSeconds != nil {
			c.DurationSeconds = *in.DurationSeconds
		}
		s.calls[in.ProviderCallID] = c
		return c, true, nil
	}

	if existing.TenantID != in.TenantID {
		return Call{}, false, ErrTenantMismatch
	}
	existing.Status = in.Status
	if in.Direction == DirectionInbound {
		existing.Direction = DirectionInbound
	}
	existing.FromNumber = coalesce(in.FromNumber, existing.FromNumber)
	existing.ToNumber = coalesce(in.ToNumber, existing.ToNumber)
	if in.DurationSeconds != nil {
		existing.DurationSeconds = *in.DurationSeconds
	}
	existing.RecordingURL = coalesce(in.RecordingURL, existing.RecordingURL)
	existing.Transcript = coalesce(in.Transcript, existing.Transcript)
	existing.Summary = coalesce(in.Summary, existing.Summary)
	existing.EndedReason = coalesce(in.EndedReason, existing.EndedReason)
	existing.Outcome = coalesce(in.Outcome, existing.Outcome)
	existing.RawPayload = in.RawPayload
	existing.UpdatedAt = now
	s.calls[in.ProviderCallID] = existing
	return existing, false, nil
}

func (s *MemoryStore) LinkLead(ctx context.Context, tenantID, callID, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.calls {
		if c.ID == callID && c.TenantID == tenantID {
			c.LeadID = leadID
			c.UpdatedAt = s.clock().UTC()
			s.calls[k] = c
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, callID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.ID == callID && c.TenantID == tenantID {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}

// Len returns the number of stored calls.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func coalesce(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
