package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/pkg/logger"
)

// Auditor records charges that need manual reconciliation.
type Auditor interface {
	LogChargeFailed(ctx context.Context, tenantID, callID string, amountMinor int64, currency, reason string) error
}

// Outcome reports what RecordCall did.
type Outcome struct {
	// Metered is false for calls that carry no billable usage.
	Metered bool
	// AlreadyMetered is true when the call had been recorded by an earlier delivery.
	AlreadyMetered bool
	Record         UsageRecord
	Account        Account
}

// Meter tracks per-tenant minutes and emits overage charges.
//
// Billing invariants:
// - Each call id is metered at most once (usage_records.call_id is unique).
// - A charge is attempted only for a record in pending_charge, and always
//   with the idempotency key overage:<call id>.
// - Charge failures never undo the usage increment.
type Meter struct {
	store         Store
	processor     PaymentProcessor
	catalog       Catalog
	currency      string
	chargeTimeout time.Duration
	auditor       Auditor
	metrics       *metrics.Metrics
	clock         func() time.Time
}

type MeterOptions struct {
	Catalog       Catalog
	Currency      string
	ChargeTimeout time.Duration
	Auditor       Auditor
	Metrics       *metrics.Metrics
}

func NewMeter(store Store, processor PaymentProcessor, opts MeterOptions) *Meter {
	m := &Meter{
		store:         store,
		processor:     processor,
		catalog:       opts.Catalog,
		currency:      opts.Currency,
		chargeTimeout: opts.ChargeTimeout,
		auditor:       opts.Auditor,
		metrics:       opts.Metrics,
		clock:         time.Now,
	}
	if m.catalog == nil {
		m.catalog = DefaultCatalog
	}
	if m.currency == "" {
		m.currency = "usd"
	}
	if m.chargeTimeout <= 0 {
		m.chargeTimeout = 10 * time.Second
	}
	return m
}

// IdempotencyKey is the processor idempotency key for a call's overage charge.
func IdempotencyKey(callID string) string { return "overage:" + callID }

// RecordCall meters a terminal call and charges overage when the call
// takes the tenant past its allotment. The whole call is charged:
// minutes x overage rate.
func (m *Meter) RecordCall(ctx context.Context, call calls.Call) (Outcome, error) {
	if !call.Status.IsTerminal() || call.DurationSeconds <= 0 {
		return Outcome{}, nil
	}
	log := logger.From(ctx).With("tenant_id", call.TenantID, "call_id", call.ID)

	minutes := BillableMinutes(call.DurationSeconds)
	rec, acct, existing, err := m.store.Meter(ctx, MeterInput{
		TenantID:        call.TenantID,
		CallID:          call.ID,
		Direction:       string(call.Direction),
		DurationSeconds: call.DurationSeconds,
		Minutes:         minutes,
		At:              m.clock(),
	}, m.decide)
	if err != nil {
		return Outcome{}, fmt.Errorf("meter call: %w", err)
	}
	out := Outcome{Metered: true, AlreadyMetered: existing, Record: rec, Account: acct}

	if !existing {
		m.metrics.MinutesMetered(minutes)
		log.Info("usage metered",
			"minutes", minutes,
			"consumed_minutes", acct.ConsumedMinutes,
			"status", rec.Status,
		)
	}
	if rec.Status != RecordPendingCharge {
		if existing {
			m.metrics.OverageCharge("duplicate")
		}
		return out, nil
	}

	// Either a fresh chargeable record, or an earlier delivery committed
	// usage and stopped before confirming the charge.
	res, err := m.charge(ctx, acct, rec, call)
	if err != nil {
		reason := err.Error()
		if serr := m.store.SetChargeResult(ctx, call.TenantID, call.ID, RecordChargeFailed, "", reason); serr != nil {
			log.Error("persist charge failure", "err", serr)
		}
		out.Record.Status = RecordChargeFailed
		out.Record.Reason = reason
		m.metrics.OverageCharge("failed")
		log.Error("overage charge failed; left for manual reconciliation",
			"alarm", true,
			"amount_minor", rec.AmountMinor,
			"err", err,
		)
		if m.auditor != nil {
			if aerr := m.auditor.LogChargeFailed(ctx, call.TenantID, call.ID, rec.AmountMinor, rec.Currency, reason); aerr != nil {
				log.Warn("audit charge failure", "err", aerr)
			}
		}
		return out, err
	}

	if err := m.store.SetChargeResult(ctx, call.TenantID, call.ID, RecordCharged, res.Reference, ""); err != nil {
		// The processor dedupes on the idempotency key, so a later retry is safe.
		return out, fmt.Errorf("persist charge result: %w", err)
	}
	out.Record.Status = RecordCharged
	out.Record.ChargeRef = res.Reference
	m.metrics.OverageCharge("charged")
	log.Info("overage charged", "amount_minor", rec.AmountMinor, "charge_ref", res.Reference)
	return out, nil
}

// decide runs inside the store transaction against the locked account.
func (m *Meter) decide(acct Account, previous int, in MeterInput) Decision {
	plan, ok := m.catalog.Lookup(acct.Tier, acct.Industry)
	if !ok {
		return Decision{Status: RecordSkipped, Reason: ReasonNoPlan}
	}
	if plan.Unlimited() || previous+in.Minutes <= plan.MinuteLimit {
		return Decision{Status: RecordIncluded}
	}

	d := Decision{
		IsOverage:   true,
		AmountMinor: int64(in.Minutes) * plan.OverageRateMinor,
		Currency:    m.currency,
	}
	if acct.CustomerRef == "" {
		d.Status = RecordSkipped
		d.Reason = ReasonNoCustomer
		return d
	}
	d.Status = RecordPendingCharge
	return d
}

func (m *Meter) charge(ctx context.Context, acct Account, rec UsageRecord, call calls.Call) (ChargeResult, error) {
	if m.processor == nil {
		return ChargeResult{}, fmt.Errorf("%w: not configured", ErrProcessorUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, m.chargeTimeout)
	defer cancel()

	res, err := m.processor.CreateCharge(ctx, ChargeRequest{
		TenantID:       acct.TenantID,
		CustomerRef:    acct.CustomerRef,
		AmountMinor:    rec.AmountMinor,
		Currency:       rec.Currency,
		Description:    fmt.Sprintf("Voice agent overage: %d min (call %s)", rec.Minutes, call.ID),
		IdempotencyKey: IdempotencyKey(call.ID),
		Metadata: map[string]string{
			"tenant_id":        acct.TenantID,
			"call_id":          call.ID,
			"direction":        string(call.Direction),
			"duration_seconds": strconv.Itoa(call.DurationSeconds),
			"minutes":          strconv.Itoa(rec.Minutes),
			"is_overage":       strconv.FormatBool(rec.IsOverage),
		},
	})
	if err != nil {
		if !errors.Is(err, ErrProcessorUnavailable) {
			err = fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
		}
		return ChargeResult{}, err
	}
	return res, nil
}
