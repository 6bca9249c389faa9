package billing

import (
	"errors"
	"time"
)

// Account is the billing view of a tenant row.
//
// Invariants:
// - ConsumedMinutes counts minutes of Period only; it restarts from zero when
//   a call lands in a later period.
// - ConsumedMinutes changes only together with a usage record insert.
type Account struct {
	TenantID        string   `json:"tenant_id" db:"id"`
	Tier            Tier     `json:"plan_tier" db:"plan_tier"`
	Industry        Industry `json:"industry" db:"industry"`
	ConsumedMinutes int      `json:"consumed_minutes" db:"consumed_minutes"`
	Period          Period   `json:"period"`
	// CustomerRef is the payment processor customer id; empty when not set up.
	CustomerRef string `json:"billing_customer_ref,omitempty" db:"billing_customer_ref"`
}

// MinutesIn returns the consumed minutes as seen from period p.
func (a Account) MinutesIn(p Period) int {
	if a.Period != p {
		return 0
	}
	return a.ConsumedMinutes
}

// Period is a calendar billing month in UTC.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// UsageRecord is the per-call metering entry. CallID is unique: it is the
// idempotency anchor for both the minute increment and the overage charge.
type UsageRecord struct {
	ID              string `json:"id" db:"id"`
	TenantID        string `json:"tenant_id" db:"tenant_id"`
	CallID          string `json:"call_id" db:"call_id"`
	Direction       string `json:"direction" db:"direction"`
	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`
	Minutes         int    `json:"minutes" db:"minutes"`
	// PreviousMinutes is the period counter before this call.
	PreviousMinutes int    `json:"previous_minutes" db:"previous_minutes"`
	Period          Period `json:"period"`

	IsOverage   bool         `json:"is_overage" db:"is_overage"`
	AmountMinor int64        `json:"amount_minor" db:"amount_minor"`
	Currency    string       `json:"currency" db:"currency"`
	Status      RecordStatus `json:"status" db:"status"`
	ChargeRef   string       `json:"charge_ref,omitempty" db:"charge_ref"`
	// Reason explains skipped and charge_failed records.
	Reason string `json:"reason,omitempty" db:"reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RecordStatus string

const (
	// RecordIncluded: within the allotment, or the plan is unlimited.
	RecordIncluded RecordStatus = "included"
	// RecordPendingCharge: chargeable, committed, charge not yet confirmed.
	RecordPendingCharge RecordStatus = "pending_charge"
	RecordCharged       RecordStatus = "charged"
	// RecordChargeFailed: left uncharged for manual reconciliation.
	RecordChargeFailed RecordStatus = "charge_failed"
	// RecordSkipped: no plan or no processor customer.
	RecordSkipped RecordStatus = "skipped"
)

// Skip reasons.
const (
	ReasonNoPlan     = "no_plan"
	ReasonNoCustomer = "no_customer"
)

// Decision is the metering verdict for one call against a locked account.
type Decision struct {
	Status      RecordStatus
	IsOverage   bool
	AmountMinor int64
	Currency    string
	Reason      string
}

// MeterInput is one call's usage.
type MeterInput struct {
	TenantID        string
	CallID          string
	Direction       string
	DurationSeconds int
	Minutes         int
	At              time.Time
}

// PeriodTotals aggregates a tenant's usage records for one period.
type PeriodTotals struct {
	Calls          int   `json:"calls"`
	Minutes        int   `json:"minutes"`
	OverageMinutes int   `json:"overage_minutes"`
	ChargedMinor   int64 `json:"charged_minor"`
	PendingMinor   int64 `json:"pending_minor"`
	FailedCharges  int   `json:"failed_charges"`
}

var (
	ErrAccountNotFound = errors.New("billing: account not found")
	ErrInvalidArgument = errors.New("billing: invalid argument")
	// ErrProcessorUnavailable means the overage charge could not be emitted.
	// Usage is kept and the record is left for manual reconciliation.
	ErrProcessorUnavailable = errors.New("billing: payment processor unavailable")
)
