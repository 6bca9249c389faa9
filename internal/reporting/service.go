package reporting

import (
	"context"
	"errors"
	"time"

	"voiceagent-platform/internal/billing"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the read side of the billing store.
// Implementations must filter by tenant.
type Repository interface {
	Account(ctx context.Context, tenantID string) (billing.Account, error)
	PeriodTotals(ctx context.Context, tenantID string, p billing.Period) (billing.PeriodTotals, error)
}

type Service struct {
	repo     Repository
	catalog  billing.Catalog
	currency string
	clock    func() time.Time
}

func NewService(repo Repository, catalog billing.Catalog, currency string) *Service {
	if catalog == nil {
		catalog = billing.DefaultCatalog
	}
	if currency == "" {
		currency = "usd"
	}
	return &Service{repo: repo, catalog: catalog, currency: currency, clock: time.Now}
}

func (s *Service) UsageSummary(ctx context.Context, req UsageSummaryRequest) (UsageSummary, error) {
	if req.TenantID == "" {
		return UsageSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return UsageSummary{}, errors.New("reporting: repository not configured")
	}
	period := req.Period
	if period.Year == 0 {
		period = billing.PeriodOf(s.clock())
	}
	if period.Month < time.January || period.Month > time.December {
		return UsageSummary{}, ErrInvalidRequest
	}

	acct, err := s.repo.Account(ctx, req.TenantID)
	if err != nil {
		return UsageSummary{}, err
	}
	totals, err := s.repo.PeriodTotals(ctx, req.TenantID, period)
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{
		TenantID:        req.TenantID,
		Period:          period,
		Tier:            acct.Tier,
		Industry:        acct.Industry,
		ConsumedMinutes: acct.MinutesIn(period),
		OverageMinutes:  totals.OverageMinutes,
		Calls:           totals.Calls,
		Currency:        s.currency,
		ChargedMinor:    totals.ChargedMinor,
		PendingMinor:    totals.PendingMinor,
		FailedCharges:   totals.FailedCharges,
	}
	// Past periods are no longer on the tenant row.
	if out.ConsumedMinutes == 0 {
		out.ConsumedMinutes = totals.Minutes
	}

	plan, ok := s.catalog.Lookup(acct.Tier, acct.Industry)
	switch {
	case !ok:
	case plan.Unlimited():
		out.MinuteLimit = billing.Unlimited
		out.Unlimited = true
	default:
		out.MinuteLimit = plan.MinuteLimit
		out.OverageRateMinor = plan.OverageRateMinor
		out.RemainingMinutes = max(plan.MinuteLimit-out.ConsumedMinutes, 0)
	}
	return out, nil
}
