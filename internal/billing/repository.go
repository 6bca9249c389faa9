package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore keeps the period counter on the tenants row and per-call
// records in usage_records (UNIQUE (call_id)).
//
// Meter serializes per tenant by locking the tenant row, so the counter
// read, the record insert and the increment happen as one step.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Meter(ctx context.Context, in MeterInput, decide Decider) (UsageRecord, Account, bool, error) {
	if in.TenantID == "" || in.CallID == "" || in.Minutes <= 0 {
		return UsageRecord{}, Account{}, false, ErrInvalidArgument
	}

	var (
		outRec   UsageRecord
		outAcct  Account
		existing bool
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		acct, err := lockAccount(ctx, tx, in.TenantID)
		if err != nil {
			return err
		}

		if rec, ok, err := findUsageByCall(ctx, tx, in.CallID); err != nil {
			return err
		} else if ok {
			outRec, outAcct, existing = rec, acct, true
			return nil
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
		if err := insertUsage(ctx, tx, rec); err != nil {
			return err
		}

		consumed, err := applyMinutes(ctx, tx, in.TenantID, period, in.Minutes, now)
		if err != nil {
			return err
		}
		acct.ConsumedMinutes = consumed
		acct.Period = period

		outRec, outAcct = rec, acct
		return nil
	})
	if err != nil {
		return UsageRecord{}, Account{}, false, err
	}
	return outRec, outAcct, existing, nil
}

func (s *PostgresStore) SetChargeResult(ctx context.Context, tenantID, callID string, status RecordStatus, chargeRef, reason string) error {
	if status != RecordCharged && status != RecordChargeFailed {
		return ErrInvalidArgument
	}
	const q = `
UPDATE usage_records
SET status = $3, charge_ref = $4, reason = $5, updated_at = $6
WHERE tenant_id = $1 AND call_id = $2 AND status = 'pending_charge'
`
	res, err := s.db.ExecContext(ctx, q, tenantID, callID, string(status), chargeRef, reason, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("set charge result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidArgument
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, tenantID string) (Account, error) {
	const q = `
SELECT id, plan_tier, industry, consumed_minutes, period_year, period_month, billing_customer_ref
FROM tenants
WHERE id = $1
`
	return scanAccount(s.db.QueryRowContext(ctx, q, tenantID))
}

func (s *PostgresStore) PeriodTotals(ctx context.Context, tenantID string, p Period) (PeriodTotals, error) {
	const q = `
SELECT
  COUNT(*),
  COALESCE(SUM(minutes), 0),
  COALESCE(SUM(minutes) FILTER (WHERE is_overage), 0),
  COALESCE(SUM(amount_minor) FILTER (WHERE status = 'charged'), 0),
  COALESCE(SUM(amount_minor) FILTER (WHERE status = 'pending_charge'), 0),
  COUNT(*) FILTER (WHERE status = 'charge_failed')
FROM usage_records
WHERE tenant_id = $1 AND period_year = $2 AND period_month = $3
`
	var t PeriodTotals
	err := s.db.QueryRowContext(ctx, q, tenantID, p.Year, int(p.Month)).Scan(
		&t.Calls,
		&t.Minutes,
		&t.OverageMinutes,
		&t.ChargedMinor,
		&t.PendingMinor,
		&t.FailedCharges,
	)
	if err != nil {
		return PeriodTotals{}, fmt.Errorf("period totals: %w", err)
	}
	return t, nil
}

func lockAccount(ctx context.Context, tx *sql.Tx, tenantID string) (Account, error) {
	const q = `
SELECT id, plan_tier, industry, consumed_minutes, period_year, period_month, billing_customer_ref
FROM tenants
WHERE id = $1
FOR UPDATE
`
	return scanAccount(tx.QueryRowContext(ctx, q, tenantID))
}

func scanAccount(row *sql.Row) (Account, error) {
	var (
		a           Account
		tier        sql.NullString
		industry    sql.NullString
		year, month sql.NullInt64
		customerRef sql.NullString
	)
	if err := row.Scan(&a.TenantID, &tier, &industry, &a.ConsumedMinutes, &year, &month, &customerRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Tier = Tier(tier.String)
	if a.Tier == "" {
		a.Tier = TierNone
	}
	a.Industry = Industry(industry.String)
	a.Period = Period{Year: int(year.Int64), Month: time.Month(month.Int64)}
	a.CustomerRef = customerRef.String
	return a, nil
}

func findUsageByCall(ctx context.Context, tx *sql.Tx, callID string) (UsageRecord, bool, error) {
	const q = `
SELECT id, tenant_id, call_id, direction, duration_seconds, minutes, previous_minutes,
       period_year, period_month, is_overage, amount_minor, currency, status, charge_ref, reason,
       created_at, updated_at
FROM usage_records
WHERE call_id = $1
`
	var (
		r      UsageRecord
		year   int
		month  int
		status string
	)
	err := tx.QueryRowContext(ctx, q, callID).Scan(
		&r.ID,
		&r.TenantID,
		&r.CallID,
		&r.Direction,
		&r.DurationSeconds,
		&r.Minutes,
		&r.PreviousMinutes,
		&year,
		&month,
		&r.IsOverage,
		&r.AmountMinor,
		&r.Currency,
		&status,
		&r.ChargeRef,
		&r.Reason,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UsageRecord{}, false, nil
		}
		return UsageRecord{}, false, err
	}
	r.Period = Period{Year: year, Month: time.Month(month)}
	r.Status = RecordStatus(status)
	return r, true, nil
}

func insertUsage(ctx context.Context, tx *sql.Tx, r UsageRecord) error {
	const q = `
INSERT INTO usage_records (
  id, tenant_id, call_id, direction, duration_seconds, minutes, previous_minutes,
  period_year, period_month, is_overage, amount_minor, currency, status, charge_ref, reason,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16
)
`
	_, err := tx.ExecContext(ctx, q,
		r.ID,
		r.TenantID,
		r.CallID,
		r.Direction,
		r.DurationSeconds,
		r.Minutes,
		r.PreviousMinutes,
		r.Period.Year,
		int(r.Period.Month),
		r.IsOverage,
		r.AmountMinor,
		r.Currency,
		string(r.Status),
		r.ChargeRef,
		r.Reason,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// applyMinutes increments the period counter, restarting it when the
// stored period differs from p.
func applyMinutes(ctx context.Context, tx *sql.Tx, tenantID string, p Period, minutes int, now time.Time) (int, error) {
	const q = `
UPDATE tenants
SET consumed_minutes = CASE
      WHEN period_year = $2 AND period_month = $3 THEN consumed_minutes + $4
      ELSE $4
    END,
    period_year = $2,
    period_month = $3,
    updated_at = $5
WHERE id = $1
RETURNING consumed_minutes
`
	var consumed int
	if err := tx.QueryRowContext(ctx, q, tenantID, p.Year, int(p.Month), minutes, now).Scan(&consumed); err != nil {
		return 0, fmt.Errorf("apply minutes: %w", err)
	}
	return consumed, nil
}
