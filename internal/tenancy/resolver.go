package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/internal/phone"
	"voiceagent-platform/internal/telephony"
	"voiceagent-platform/pkg/logger"
)

var (
	// ErrTenantNotResolved means no attribution strategy matched the event.
	ErrTenantNotResolved = errors.New("tenant not resolved")
	// ErrUnknownExplicitTenant wraps ErrTenantNotResolved; it is never
	// rescued by the fallback tenant.
	ErrUnknownExplicitTenant = fmt.Errorf("%w: explicit tenant does not exist", ErrTenantNotResolved)
)

type Strategy string

const (
	StrategyExplicit       Strategy = "explicit_metadata"
	StrategyProviderNumber Strategy = "provider_number_id"
	StrategyPhoneNumber    Strategy = "phone_number"
	StrategyFallback       Strategy = "fallback"
)

// Resolution is the tenant an event belongs to and how it was determined.
type Resolution struct {
	TenantID string   `json:"tenant_id"`
	Strategy Strategy `json:"strategy"`
}

// explicitKeys are metadata keys carrying a tenant id on self-initiated calls.
var explicitKeys = []string{"tenantId", "tenant_id", "organizationId", "organization_id"}

// Resolver attributes call events to tenants.
//
// Order, first match wins:
//  1. Explicit tenant id in event metadata (authoritative; an unknown id fails)
//  2. Provider per-number identifier mapping
//  3. Destination number, plus the caller id for outbound calls
//  4. Fallback tenant when configured, otherwise ErrTenantNotResolved
type Resolver struct {
	dir         Directory
	fallback    string
	defaultZone *time.Location
	metrics     *metrics.Metrics
}

type Options struct {
	// FallbackTenantID is a test-only attribution target. Empty means hard fail.
	FallbackTenantID string
	DefaultLocation  *time.Location
	Metrics          *metrics.Metrics
}

func NewResolver(dir Directory, opts Options) *Resolver {
	loc := opts.DefaultLocation
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{dir: dir, fallback: opts.FallbackTenantID, defaultZone: loc, metrics: opts.Metrics}
}

func (r *Resolver) Resolve(ctx context.Context, ev telephony.CallEvent) (Resolution, error) {
	log := logger.From(ctx)

	res, err := r.resolve(ctx, ev)
	if err == nil {
		r.metrics.TenantResolved(string(res.Strategy))
		return res, nil
	}
	if !errors.Is(err, ErrTenantNotResolved) {
		return Resolution{}, err
	}

	if r.fallback != "" && !errors.Is(err, ErrUnknownExplicitTenant) {
		log.Warn("tenant attributed to fallback tenant",
			"provider_call_id", ev.ProviderCallID,
			"fallback_tenant_id", r.fallback,
			"reason", err.Error(),
		)
		r.metrics.TenantResolved(string(StrategyFallback))
		return Resolution{TenantID: r.fallback, Strategy: StrategyFallback}, nil
	}

	log.Error("tenant not resolved",
		"alarm", true,
		"provider_call_id", ev.ProviderCallID,
		"provider_number_id", ev.ProviderNumberID,
		"to", ev.ToNumber,
		"direction", ev.Direction,
		"reason", err.Error(),
	)
	r.metrics.TenantResolved("unresolved")
	return Resolution{}, err
}

func (r *Resolver) resolve(ctx context.Context, ev telephony.CallEvent) (Resolution, error) {
	if explicit := ev.MetadataString(explicitKeys...); explicit != "" {
		ok, err := r.dir.TenantExists(ctx, explicit)
		if err != nil {
			return Resolution{}, fmt.Errorf("lookup explicit tenant: %w", err)
		}
		if !ok {
			return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownExplicitTenant, explicit)
		}
		return Resolution{TenantID: explicit, Strategy: StrategyExplicit}, nil
	}

	if ev.ProviderNumberID != "" {
		tenantID, found, err := r.dir.TenantByProviderNumberID(ctx, ev.ProviderNumberID)
		if err != nil {
			return Resolution{}, fmt.Errorf("lookup provider number: %w", err)
		}
		if found {
			return Resolution{TenantID: tenantID, Strategy: StrategyProviderNumber}, nil
		}
	}

	for _, number := range candidateNumbers(ev) {
		tenantID, found, err := r.dir.TenantByPhoneNumber(ctx, number)
		if err != nil {
			return Resolution{}, fmt.Errorf("lookup phone number: %w", err)
		}
		if found {
			return Resolution{TenantID: tenantID, Strategy: StrategyPhoneNumber}, nil
		}
	}

	return Resolution{}, fmt.Errorf("%w: no strategy matched", ErrTenantNotResolved)
}

// candidateNumbers lists tenant-owned numbers to try: the dialed number, and
// for outbound calls the tenant's own caller id.
func candidateNumbers(ev telephony.CallEvent) []string {
	var out []string
	add := func(s string) {
		n := phone.NormalizeE164(s)
		if !phone.IsDialable(n) {
			return
		}
		for _, existing := range out {
			if existing == n {
				return
			}
		}
		out = append(out, n)
	}
	add(ev.ToNumber)
	if ev.Direction == calls.DirectionOutbound {
		add(ev.FromNumber)
	}
	return out
}

// Location returns the tenant's business-hours time zone, falling back to the default.
func (r *Resolver) Location(ctx context.Context, tenantID string) *time.Location {
	tz, err := r.dir.TenantTimezone(ctx, tenantID)
	if err != nil || tz == "" {
		return r.defaultZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logger.From(ctx).Warn("invalid tenant timezone", "tenant_id", tenantID, "timezone", tz)
		return r.defaultZone
	}
	return loc
}
