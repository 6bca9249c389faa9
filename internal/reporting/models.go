package reporting

import "voiceagent-platform/internal/billing"

// UsageSummaryRequest asks for one tenant's usage in a billing period.
// Tenant isolation: TenantID is required. A zero Period means the current one.
type UsageSummaryRequest struct {
	TenantID string         `json:"tenant_id"`
	Period   billing.Period `json:"period"`
}

// UsageSummary is the tenant-facing view of a billing period.
type UsageSummary struct {
	TenantID string           `json:"tenant_id"`
	Period   billing.Period   `json:"period"`
	Tier     billing.Tier     `json:"plan_tier"`
	Industry billing.Industry `json:"industry"`

	// MinuteLimit is -1 for unlimited plans and 0 without a plan.
	MinuteLimit      int   `json:"minute_limit"`
	Unlimited        bool  `json:"unlimited"`
	OverageRateMinor int64 `json:"overage_rate_minor"`

	ConsumedMinutes  int `json:"consumed_minutes"`
	RemainingMinutes int `json:"remaining_minutes"`
	OverageMinutes   int `json:"overage_minutes"`
	Calls            int `json:"calls"`

	Currency      string `json:"currency"`
	ChargedMinor  int64  `json:"charged_minor"`
	PendingMinor  int64  `json:"pending_minor"`
	FailedCharges int    `json:"failed_charges"`
}
