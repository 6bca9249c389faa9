package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decider turns a locked account and its period counter into a metering
// decision. It runs inside the store's transaction and must not block.
type Decider func(acct Account, previousMinutes int, in MeterInput) Decision

// Store persists tenant usage counters and per-call usage records.
type Store interface {
	// Meter records in for its tenant exactly once. When the call was
	// already metered it returns the stored record with existing=true and
	// changes nothing.
	Meter(ctx context.Context, in MeterInput, decide Decider) (rec UsageRecord, acct Account, existing bool, err error)
	// SetChargeResult moves a pending_charge record to charged or charge_failed.
	SetChargeResult(ctx context.Context, tenantID, callID string, status RecordStatus, chargeRef, reason string) error
	Account(ctx context.Context, tenantID string) (Account, error)
	PeriodTotals(ctx context.Context, tenantID string, p Period) (PeriodTotals, error)
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	records  map[string]UsageRecord // key: call id
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: map[string]Account{}, records: map[string]UsageRecord{}, clock: time.Now}
}

// PutAccount creates or replaces a tenant's billing account.
func (s *MemoryStore) PutAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.TenantID] = a
}

func (s *MemoryStore) Meter(ctx context.Context, in MeterInput, decide Decider) (UsageRecord, Account, bool, error) {
	if in.TenantID == "" || in.CallID == "" || in.Minutes <= 0 {
		return UsageRecord{}, Account{}, false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[in.TenantID]
	if !ok {
		return UsageRecord{}, Account{}, false, ErrAccountNotFound
	}
	if rec, ok := s.records[in.CallID]; ok {
		return rec, acct, true, nil
	}

	period := PeriodOf(in.At)
	previous := acct.MinutesIn(period)
	d := decide(acct, previous, in)

	now := s.clock().UTC()
	rec := UsageRecord{
		ID:              uuid.NewString(),
		TenantID:        in.TenantID,
		CallID:          in.CallID,
		Direction:       in.Direction,
		DurationSeconds: in.DurationSeconds,
		Minutes:         in.Minutes,
		PreviousMinutes: previous,
		Period:          period,
		IsOverage:       d.IsOverage,
		AmountMinor:     d.AmountMinor,
		Currency:        d.Currency,
		Status:          d.Status,
		Reason:          d.Reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.records[in.CallID] = rec

	acct.ConsumedMinutes = previous + in.Minutes
	acct.Period = period
	s.accounts[in.TenantID] = acct
	return rec, acct, false, nil
}

func (s *MemoryStore) SetChargeResult(ctx context.Context, tenantID, callID string, status RecordStatus, chargeRef, reason string) error {
	if status != RecordCharged && status != RecordChargeFailed {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok || rec.TenantID != tenantID || rec.Status != RecordPendingCharge {
		return ErrInvalidArgument
	}
	rec.Status = status
	rec.ChargeRef = chargeRef
	rec.Reason = reason
	rec.UpdatedAt = s.clock().UTC()
	s.records[callID] = rec
	return nil
}

func (s *MemoryStore) Account(ctx context.Context, tenantID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tenantID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *MemoryStore) PeriodTotals(ctx context.Context, tenantID string, p Period) (PeriodTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t PeriodTotals
	for _, r := range s.records {
		if r.TenantID != tenantID || r.Period != p {
			continue
		}
		addToTotals(&t, r)
	}
	return t, nil
}

// Record returns the usage record for callID.
func (s *MemoryStore) Record(callID string) (UsageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[callID]
	return r, ok
}

func addToTotals(t *PeriodTotals, r UsageRecord) {
	t.Calls++
	t.Minutes += r.Minutes
	if r.IsOverage {
		t.OverageMinutes += r.Minutes
	}
	switch r.Status {
	case RecordCharged:
		t.ChargedMinor += r.AmountMinor
	case RecordPendingCharge:
		t.PendingMinor += r.AmountMinor
	case RecordChargeFailed:
		t.FailedCharges++
	}
}
