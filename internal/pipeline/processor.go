// Package pipeline turns normalized provider call events into durable
// calls and leads and fans terminal calls out to billing, follow-ups and
// workflows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/followups"
	"voiceagent-platform/internal/leads"
	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/internal/telephony"
	"voiceagent-platform/internal/tenancy"
	"voiceagent-platform/internal/workflows"
	"voiceagent-platform/pkg/logger"

	"golang.org/x/sync/errgroup"
)

type TenantResolver interface {
	Resolve(ctx context.Context, ev telephony.CallEvent) (tenancy.Resolution, error)
	Location(ctx context.Context, tenantID string) *time.Location
}

type LeadReconciler interface {
	Reconcile(ctx context.Context, call calls.Call, leadHint string) (leads.Result, error)
}

type UsageMeter interface {
	RecordCall(ctx context.Context, call calls.Call) (billing.Outcome, error)
}

type FollowUpScheduler interface {
	Schedule(ctx context.Context, in followups.Input) (followups.Report, error)
	CancelPendingForLead(ctx context.Context, tenantID, leadID string) (int, error)
}

type WorkflowFirer interface {
	Fire(ctx context.Context, ev workflows.Event) (workflows.Report, error)
}

type FallbackAuditor interface {
	LogFallbackAttribution(ctx context.Context, tenantID, callID, providerCallID string) error
}

// Deps wires a Processor. Billing, FollowUps, Workflows, Auditor and
// Limiter are optional.
type Deps struct {
	Resolver  TenantResolver
	Calls     calls.Store
	Leads     LeadReconciler
	Billing   UsageMeter
	FollowUps FollowUpScheduler
	Workflows WorkflowFirer
	Auditor   FallbackAuditor
	Limiter   *IngestLimiter
	Metrics   *metrics.Metrics
	// ProcessTimeout bounds attribution, call persistence and lead
	// reconciliation for one event.
	ProcessTimeout time.Duration
	// ConsumerTimeout bounds each fan-out consumer.
	ConsumerTimeout time.Duration
}

// Processor runs one provider event through the pipeline.
//
// Attribution, call persistence and lead reconciliation are fatal: their
// errors are returned so the provider redelivers. Fan-out consumers are
// isolated; their failures are logged and counted, never returned.
type Processor struct {
	resolver        TenantResolver
	calls           calls.Store
	leads           LeadReconciler
	billing         UsageMeter
	followUps       FollowUpScheduler
	workflows       WorkflowFirer
	auditor         FallbackAuditor
	limiter         *IngestLimiter
	metrics         *metrics.Metrics
	processTimeout  time.Duration
	consumerTimeout time.Duration
}

func NewProcessor(d Deps) *Processor {
	timeout := d.ConsumerTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	processTimeout := d.ProcessTimeout
	if processTimeout <= 0 {
		processTimeout = 10 * time.Second
	}
	return &Processor{
		resolver:        d.Resolver,
		calls:           d.Calls,
		leads:           d.Leads,
		billing:         d.Billing,
		followUps:       d.FollowUps,
		workflows:       d.Workflows,
		auditor:         d.Auditor,
		limiter:         d.Limiter,
		metrics:         d.Metrics,
		processTimeout:  processTimeout,
		consumerTimeout: timeout,
	}
}

// Result is what Process did with one event.
type Result struct {
	TenantID string
	Strategy tenancy.Strategy
	Call     calls.Call
	Created  bool
	Lead     leads.Result
}

// Process runs the primary path under ProcessTimeout, then fans the result
// out. A deadline hit on the primary path is returned so the provider
// redelivers.
func (p *Processor) Process(ctx context.Context, ev telephony.CallEvent) (Result, error) {
	pctx, cancel := context.WithTimeout(ctx, p.processTimeout)
	defer cancel()

	res, err := p.resolver.Resolve(pctx, ev)
	if err != nil {
		return Result{}, err
	}
	ctx, log := logger.WithAttrs(ctx, "tenant_id", res.TenantID, "provider_call_id", ev.ProviderCallID)
	pctx = logger.With(pctx, log)

	release, err := p.limiter.Acquire(pctx, res.TenantID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	out, err := p.persist(pctx, ev, res)
	if err != nil {
		return Result{}, err
	}
	ctx, log = logger.WithAttrs(ctx, "call_id", out.Call.ID)

	log.Info("call event processed",
		"status", out.Call.Status,
		"direction", out.Call.Direction,
		"created", out.Created,
		"strategy", res.Strategy,
		"lead_id", out.Call.LeadID,
	)

	p.fanOut(ctx, out)
	return out, nil
}

// persist upserts the call and reconciles its lead.
func (p *Processor) persist(ctx context.Context, ev telephony.CallEvent, res tenancy.Resolution) (Result, error) {
	call, created, err := p.calls.Upsert(ctx, ev.UpsertInput(res.TenantID))
	if err != nil {
		return Result{}, fmt.Errorf("upsert call: %w", err)
	}
	p.metrics.CallUpserted(created)
	out := Result{TenantID: res.TenantID, Strategy: res.Strategy, Call: call, Created: created}

	if created && res.Strategy == tenancy.StrategyFallback && p.auditor != nil {
		if err := p.auditor.LogFallbackAttribution(ctx, res.TenantID, call.ID, ev.ProviderCallID); err != nil {
			logger.From(ctx).Warn("audit fallback attribution", "call_id", call.ID, "err", err)
		}
	}

	lead, err := p.leads.Reconcile(ctx, call, ev.MetadataString("leadId", "lead_id"))
	if err != nil {
		return Result{}, fmt.Errorf("reconcile lead: %w", err)
	}
	out.Lead = lead
	if lead.Found {
		out.Call.LeadID = lead.Lead.ID
	}
	if lead.Created {
		p.metrics.LeadCreated()
	}
	return out, nil
}

// fanOut runs billing, follow-ups and workflows concurrently and waits for
// all of them. Consumers never return errors to the group.
func (p *Processor) fanOut(ctx context.Context, r Result) {
	terminal := r.Call.Status.IsTerminal()
	if !terminal && !r.Lead.Created {
		return
	}

	var g errgroup.Group
	if terminal && p.billing != nil {
		g.Go(func() error {
			p.consume(ctx, "billing", func(ctx context.Context) error {
				_, err := p.billing.RecordCall(ctx, r.Call)
				return err
			})
			return nil
		})
	}
	if terminal && p.followUps != nil && r.Lead.Found {
		g.Go(func() error {
			p.consume(ctx, "followups", func(ctx context.Context) error {
				return p.scheduleFollowUps(ctx, r)
			})
			return nil
		})
	}
	if p.workflows != nil {
		g.Go(func() error {
			p.consume(ctx, "workflows", func(ctx context.Context) error {
				return p.fireWorkflows(ctx, r)
			})
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) consume(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, p.consumerTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		p.metrics.ConsumerError(name)
		logger.From(ctx).Error("pipeline consumer failed", "consumer", name, "err", err)
	}
}

// leadClosed reports statuses after which pending follow-ups are pointless.
func leadClosed(s leads.Status) bool {
	return s == leads.StatusBooked || s == leads.StatusNotInterested || s == leads.StatusCustomer
}

func (p *Processor) scheduleFollowUps(ctx context.Context, r Result) error {
	lead := r.Lead.Lead
	if leadClosed(lead.Status) {
		_, err := p.followUps.CancelPendingForLead(ctx, r.TenantID, lead.ID)
		return err
	}
	trigger, ok := followups.ClassifyOutcome(r.Call)
	if !ok {
		return nil
	}
	_, err := p.followUps.Schedule(ctx, followups.Input{
		TenantID:     r.TenantID,
		LeadID:       lead.ID,
		SourceCallID: r.Call.ID,
		Trigger:      trigger,
		Location:     p.resolver.Location(ctx, r.TenantID),
	})
	return err
}

// workflowEvents derives the domain events of one processed call.
func workflowEvents(r Result) []workflows.Event {
	call := r.Call
	base := workflows.Event{
		TenantID:  r.TenantID,
		CallID:    call.ID,
		LeadID:    call.LeadID,
		Direction: string(call.Direction),
	}
	if r.Lead.Found {
		l := r.Lead.Lead
		base.LeadName, base.LeadPhone, base.LeadEmail = l.Name, l.Phone, l.Email
		base.Score = l.Score
	}

	var out []workflows.Event
	if r.Lead.Created {
		ev := base
		ev.Trigger = workflows.TriggerNewLead
		ev.Status = string(r.Lead.Lead.Status)
		out = append(out, ev)
	}
	if !call.Status.IsTerminal() {
		return out
	}

	ev := base
	ev.Trigger = workflows.TriggerCallCompleted
	ev.Status = string(call.Status)
	out = append(out, ev)

	if sc := r.Lead.StatusChange; sc != nil {
		ev := base
		ev.Trigger = workflows.TriggerLeadStatusChanged
		ev.Status, ev.PreviousStatus = string(sc.To), string(sc.From)
		out = append(out, ev)

		if sc.To == leads.StatusBooked {
			ev.Trigger = workflows.TriggerAppointmentBooked
			out = append(out, ev)
		}
	}
	if sc := r.Lead.ScoreChange; sc != nil {
		ev := base
		ev.Trigger = workflows.TriggerLeadScoreThreshold
		ev.Status = string(r.Lead.Lead.Status)
		ev.Score = sc.Current
		prev := sc.Previous
		ev.PreviousScore = &prev
		out = append(out, ev)
	}
	return out
}

func (p *Processor) fireWorkflows(ctx context.Context, r Result) error {
	var errs []error
	for _, ev := range workflowEvents(r) {
		if _, err := p.workflows.Fire(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.Trigger, err))
		}
	}
	return errors.Join(errs...)
}
