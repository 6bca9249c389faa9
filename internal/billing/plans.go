package billing

// Tier is a tenant's subscription plan.
type Tier string

const (
	TierNone Tier = "none"
	Tier1    Tier = "tier1"
	Tier2    Tier = "tier2"
	Tier3    Tier = "tier3"
)

// Industry is the tenant's vertical. Verticals differ in typical call length,
// so allotments and overage rates are set per industry.
type Industry string

const (
	IndustryGeneral      Industry = "general"
	IndustryHomeServices Industry = "home_services"
	IndustryHealthcare   Industry = "healthcare"
	IndustryLegal        Industry = "legal"
	IndustryRealEstate   Industry = "real_estate"
	IndustryAutomotive   Industry = "automotive"
)

// Unlimited is the MinuteLimit sentinel for plans without an allotment.
const Unlimited = -1

// Plan is the monthly allotment and overage price for one tier and industry.
type Plan struct {
	MinuteLimit int `json:"minute_limit"`
	// OverageRateMinor is the price per overage minute in minor units.
	OverageRateMinor int64 `json:"overage_rate_minor"`
}

func (p Plan) Unlimited() bool { return p.MinuteLimit == Unlimited }

// Catalog maps tier and industry to a plan.
type Catalog map[Tier]map[Industry]Plan

// DefaultCatalog is the published plan table.
var DefaultCatalog = Catalog{
	Tier1: {
		IndustryGeneral:      {MinuteLimit: 250, OverageRateMinor: 20},
		IndustryHomeServices: {MinuteLimit: 300, OverageRateMinor: 18},
		IndustryHealthcare:   {MinuteLimit: 200, OverageRateMinor: 25},
		IndustryLegal:        {MinuteLimit: 150, OverageRateMinor: 30},
		IndustryRealEstate:   {MinuteLimit: 250, OverageRateMinor: 20},
		IndustryAutomotive:   {MinuteLimit: 300, OverageRateMinor: 18},
	},
	Tier2: {
		IndustryGeneral:      {MinuteLimit: 1000, OverageRateMinor: 15},
		IndustryHomeServices: {MinuteLimit: 1200, OverageRateMinor: 12},
		IndustryHealthcare:   {MinuteLimit: 800, OverageRateMinor: 20},
		IndustryLegal:        {MinuteLimit: 600, OverageRateMinor: 25},
		IndustryRealEstate:   {MinuteLimit: 1000, OverageRateMinor: 15},
		IndustryAutomotive:   {MinuteLimit: 1200, OverageRateMinor: 12},
	},
	Tier3: {
		IndustryGeneral: {MinuteLimit: Unlimited},
	},
}

// Lookup returns the plan for tier and industry. Industries missing from
// the tier fall back to general. ok is false for TierNone and unknown tiers.
func (c Catalog) Lookup(tier Tier, industry Industry) (Plan, bool) {
	byIndustry, ok := c[tier]
	if !ok {
		return Plan{}, false
	}
	if p, ok := byIndustry[industry]; ok {
		return p, true
	}
	p, ok := byIndustry[IndustryGeneral]
	return p, ok
}

// BillableMinutes rounds a duration up to started minutes.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	m := durationSeconds / 60
	if durationSeconds%60 != 0 {
		m++
	}
	return m
}
