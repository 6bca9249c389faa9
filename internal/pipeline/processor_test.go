package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voiceagent-platform/internal/audit"
	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/followups"
	"voiceagent-platform/internal/leads"
	"voiceagent-platform/internal/telephony"
	"voiceagent-platform/internal/tenancy"
	"voiceagent-platform/internal/workflows"
)

type fixture struct {
	dir       *tenancy.MemoryDirectory
	calls     *calls.MemoryStore
	leads     *leads.MemoryRepo
	usage     *billing.MemoryStore
	followUps *followups.MemoryRepo
	flows     *workflows.MemoryRepo
	audit     *audit.MemoryRepo
	proc      *Processor
}

func newFixture(t *testing.T, meter UsageMeter, fallback string) *fixture {
	t.Helper()
	f := &fixture{
		dir:       tenancy.NewMemoryDirectory(),
		calls:     calls.NewMemoryStore(),
		leads:     leads.NewMemoryRepo(),
		usage:     billing.NewMemoryStore(),
		followUps: followups.NewMemoryRepo(),
		flows:     workflows.NewMemoryRepo(),
		audit:     audit.NewMemoryRepo(),
	}
	f.dir.AddTenant("t1", "America/New_York")
	f.dir.MapPhoneNumber("+15557654321", "t1")
	f.usage.PutAccount(billing.Account{TenantID: "t1", Tier: billing.Tier1, Industry: billing.IndustryGeneral, CustomerRef: "cus_1"})

	if meter == nil {
		meter = billing.NewMeter(f.usage, billing.LogProcessor{}, billing.MeterOptions{})
	}
	f.proc = NewProcessor(Deps{
		Resolver:  tenancy.NewResolver(f.dir, tenancy.Options{FallbackTenantID: fallback}),
		Calls:     f.calls,
		Leads:     leads.NewReconciler(f.leads, f.calls),
		Billing:   meter,
		FollowUps: followups.NewScheduler(f.followUps, nil, nil),
		Workflows: workflows.NewEngine(f.flows, workflows.NewHandlers(f.leads, nil, nil), nil),
		Auditor:   audit.NewService(f.audit),
	})
	return f
}

func inbound(providerCallID string, status calls.Status, seconds int, outcome string) telephony.CallEvent {
	ev := telephony.CallEvent{
		ProviderCallID: providerCallID,
		Direction:      calls.DirectionInbound,
		FromNumber:     "+15551234567",
		ToNumber:       "+15557654321",
		Status:         status,
		Outcome:        outcome,
		ReceivedAt:     time.Now(),
	}
	if seconds > 0 {
		ev.DurationSeconds = &seconds
	}
	return ev
}

func TestProcess_InboundVoicemailFansOut(t *testing.T) {
	f := newFixture(t, nil, "")
	f.followUps.PutRule(followups.Rule{ID: "r-vm", TenantID: "t1", Trigger: followups.TriggerVoicemail,
		Action: followups.ActionSMS, DelayHours: 1, MaxAttempts: 3, Enabled: true})
	f.flows.PutWorkflow(workflows.Workflow{ID: "w-new", TenantID: "t1", Trigger: workflows.TriggerNewLead, Enabled: true,
		Actions: []workflows.Action{{Type: workflows.ActionAddLeadTag, Tag: "inbound"}}})
	f.flows.PutWorkflow(workflows.Workflow{ID: "w-done", TenantID: "t1", Trigger: workflows.TriggerCallCompleted, Enabled: true,
		Config:  workflows.TriggerConfig{Status: "voicemail"},
		Actions: []workflows.Action{{Type: workflows.ActionAddLeadTag, Tag: "left_voicemail"}}})

	ctx := context.Background()
	res, err := f.proc.Process(ctx, inbound("pc-1", calls.StatusVoicemail, 45, ""))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Created || res.TenantID != "t1" || !res.Lead.Created || res.Call.LeadID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	rec, ok := f.usage.Record(res.Call.ID)
	if !ok || rec.Minutes != 1 || rec.Status != billing.RecordIncluded {
		t.Fatalf("expected 1 included minute, got %+v", rec)
	}
	if all := f.followUps.All(); len(all) != 1 || all[0].RuleID != "r-vm" {
		t.Fatalf("expected voicemail follow-up, got %+v", all)
	}
	lead, _ := f.leads.Get(ctx, "t1", res.Call.LeadID)
	if len(lead.Tags) != 2 {
		t.Fatalf("expected both workflows to tag the lead, got %v", lead.Tags)
	}

	// Redelivery changes nothing downstream.
	again, err := f.proc.Process(ctx, inbound("pc-1", calls.StatusVoicemail, 45, ""))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if again.Created || again.Lead.Created || again.Call.ID != res.Call.ID {
		t.Fatalf("redelivery should update in place, got %+v", again)
	}
	if f.calls.Len() != 1 || f.leads.Len() != 1 || len(f.followUps.All()) != 1 {
		t.Fatalf("duplicate rows after redelivery")
	}
	acct, _ := f.usage.Account(ctx, "t1")
	if acct.ConsumedMinutes != 1 {
		t.Fatalf("expected usage counted once, got %d", acct.ConsumedMinutes)
	}
	if n := len(f.flows.Executions("w-done")); n != 1 {
		t.Fatalf("expected one call_completed execution, got %d", n)
	}
}

func TestProcess_NonTerminalSkipsBilling(t *testing.T) {
	f := newFixture(t, nil, "")
	res, err := f.proc.Process(context.Background(), inbound("pc-1", calls.StatusRinging, 0, ""))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, ok := f.usage.Record(res.Call.ID); ok {
		t.Fatalf("ringing call must not be metered")
	}
}

func TestProcess_UnresolvedTenantIsFatal(t *testing.T) {
	f := newFixture(t, nil, "")
	ev := inbound("pc-1", calls.StatusCompleted, 30, "")
	ev.ToNumber = "+15550000000"

	_, err := f.proc.Process(context.Background(), ev)
	if !errors.Is(err, tenancy.ErrTenantNotResolved) {
		t.Fatalf("expected ErrTenantNotResolved, got %v", err)
	}
	if f.calls.Len() != 0 {
		t.Fatalf("unresolved event must not be stored")
	}
}

func TestProcess_FallbackAttributionIsAudited(t *testing.T) {
	f := newFixture(t, nil, "t1")
	ev := inbound("pc-1", calls.StatusRinging, 0, "")
	ev.ToNumber = "+15550000000"

	res, err := f.proc.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Strategy != tenancy.StrategyFallback {
		t.Fatalf("expected fallback strategy, got %s", res.Strategy)
	}
	evs := f.audit.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeFallbackAttribution || evs[0].CallID != res.Call.ID {
		t.Fatalf("unexpected audit events %+v", evs)
	}
}

type failingMeter struct{}

func (failingMeter) RecordCall(ctx context.Context, call calls.Call) (billing.Outcome, error) {
	return billing.Outcome{}, billing.ErrProcessorUnavailable
}

func TestProcess_ConsumerFailureIsIsolated(t *testing.T) {
	f := newFixture(t, failingMeter{}, "")
	f.followUps.PutRule(followups.Rule{ID: "r1", TenantID: "t1", Trigger: followups.TriggerNoAnswer,
		Action: followups.ActionCall, MaxAttempts: 2, Enabled: true})

	_, err := f.proc.Process(context.Background(), inbound("pc-1", calls.StatusFailed, 0, ""))
	if err != nil {
		t.Fatalf("billing failure must not fail the event: %v", err)
	}
	if len(f.followUps.All()) != 1 {
		t.Fatalf("follow-ups should still be scheduled")
	}
}

func TestProcess_BookedCancelsPendingFollowUps(t *testing.T) {
	f := newFixture(t, nil, "")
	f.followUps.PutRule(followups.Rule{ID: "r1", TenantID: "t1", Trigger: followups.TriggerNoAnswer,
		Action: followups.ActionCall, DelayHours: 24, MaxAttempts: 3, Enabled: true})
	f.flows.PutWorkflow(workflows.Workflow{ID: "w-booked", TenantID: "t1", Trigger: workflows.TriggerAppointmentBooked, Enabled: true,
		Actions: []workflows.Action{{Type: workflows.ActionAddLeadTag, Tag: "booked"}}})

	ctx := context.Background()
	if _, err := f.proc.Process(ctx, inbound("pc-1", calls.StatusFailed, 0, "")); err != nil {
		t.Fatalf("process: %v", err)
	}
	res, err := f.proc.Process(ctx, inbound("pc-2", calls.StatusCompleted, 300, "appointment booked"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Lead.StatusChange == nil || res.Lead.StatusChange.To != leads.StatusBooked {
		t.Fatalf("expected lead booked, got %+v", res.Lead)
	}
	for _, fu := range f.followUps.All() {
		if fu.Status != followups.StatusCancelled {
			t.Fatalf("expected pending follow-ups cancelled, got %+v", fu)
		}
	}
	if n := len(f.flows.Executions("w-booked")); n != 1 {
		t.Fatalf("expected appointment_booked workflow to run once, got %d", n)
	}
}

func TestWorkflowEvents(t *testing.T) {
	r := Result{
		TenantID: "t1",
		Call:     calls.Call{ID: "c1", LeadID: "l1", Status: calls.StatusCompleted, Direction: calls.DirectionInbound},
		Lead: leads.Result{
			Found:        true,
			Created:      true,
			Lead:         leads.Lead{ID: "l1", Status: leads.StatusBooked, Score: 90},
			StatusChange: &leads.StatusChange{From: leads.StatusNew, To: leads.StatusBooked},
			ScoreChange:  &leads.ScoreChange{Previous: 50, Current: 90},
		},
	}
	got := workflowEvents(r)
	want := []workflows.Trigger{
		workflows.TriggerNewLead,
		workflows.TriggerCallCompleted,
		workflows.TriggerLeadStatusChanged,
		workflows.TriggerAppointmentBooked,
		workflows.TriggerLeadScoreThreshold,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, ev := range got {
		if ev.Trigger != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, ev.Trigger, want[i])
		}
	}
	if got[4].PreviousScore == nil || *got[4].PreviousScore != 50 || got[4].Score != 90 {
		t.Fatalf("unexpected score event %+v", got[4])
	}
}

type chargeRecorder struct {
	mu   sync.Mutex
	reqs []billing.ChargeRequest
}

func (p *chargeRecorder) CreateCharge(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	return billing.ChargeResult{Reference: "ii_" + req.IdempotencyKey}, nil
}

func TestProcess_InboundOverageCall(t *testing.T) {
	store := billing.NewMemoryStore()
	store.PutAccount(billing.Account{TenantID: "t1", Tier: billing.Tier1, Industry: billing.IndustryGeneral,
		ConsumedMinutes: 98, Period: billing.PeriodOf(time.Now()), CustomerRef: "cus_1"})
	charges := &chargeRecorder{}
	meter := billing.NewMeter(store, charges, billing.MeterOptions{Catalog: billing.Catalog{
		billing.Tier1: {billing.IndustryGeneral: {MinuteLimit: 100, OverageRateMinor: 25}},
	}})
	f := newFixture(t, meter, "")

	ctx := context.Background()
	res, err := f.proc.Process(ctx, inbound("pc-1", calls.StatusCompleted, 125, ""))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Lead.Created || res.Lead.Lead.Phone != "+15551234567" {
		t.Fatalf("expected a new lead for the caller, got %+v", res.Lead)
	}
	stored, err := f.calls.Get(ctx, "t1", res.Call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if stored.DurationSeconds != 125 || stored.LeadID != res.Lead.Lead.ID {
		t.Fatalf("unexpected stored call %+v", stored)
	}

	acct, _ := store.Account(ctx, "t1")
	if acct.ConsumedMinutes != 101 {
		t.Fatalf("expected counter 101, got %d", acct.ConsumedMinutes)
	}
	if len(charges.reqs) != 1 {
		t.Fatalf("expected one charge, got %d", len(charges.reqs))
	}
	if req := charges.reqs[0]; req.Metadata["minutes"] != "3" || req.AmountMinor != 75 {
		t.Fatalf("unexpected charge %+v", req)
	}
}

func TestProcess_LateInboundMarkerCreatesLead(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	// Status update without a direction marker normalizes to outbound.
	first := inbound("pc-1", calls.StatusAnswered, 0, "")
	first.Direction = calls.DirectionOutbound
	first.FromNumber = "+15559990000"
	res, err := f.proc.Process(ctx, first)
	if err != nil {
		t.Fatalf("status update: %v", err)
	}
	if res.Lead.Found {
		t.Fatalf("outbound status update must not create a lead, got %+v", res.Lead)
	}

	report := inbound("pc-1", calls.StatusCompleted, 40, "")
	report.FromNumber = "+15559990000"
	res, err = f.proc.Process(ctx, report)
	if err != nil {
		t.Fatalf("end of call report: %v", err)
	}
	if res.Call.Direction != calls.DirectionInbound {
		t.Fatalf("expected stored direction inbound, got %s", res.Call.Direction)
	}
	if !res.Lead.Created || res.Lead.Lead.Phone != "+15559990000" {
		t.Fatalf("expected lead for the caller, got %+v", res.Lead)
	}
	if f.calls.Len() != 1 || f.leads.Len() != 1 {
		t.Fatalf("expected one call and one lead, got %d and %d", f.calls.Len(), f.leads.Len())
	}
}

type blockingDirectory struct{ *tenancy.MemoryDirectory }

func (blockingDirectory) TenantByPhoneNumber(ctx context.Context, number string) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}

func TestProcess_PrimaryPathIsBounded(t *testing.T) {
	proc := NewProcessor(Deps{
		Resolver:       tenancy.NewResolver(blockingDirectory{tenancy.NewMemoryDirectory()}, tenancy.Options{}),
		Calls:          calls.NewMemoryStore(),
		Leads:          leads.NewReconciler(leads.NewMemoryRepo(), calls.NewMemoryStore()),
		ProcessTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	_, err := proc.Process(context.Background(), inbound("pc-1", calls.StatusCompleted, 30, ""))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("process returned after %s", elapsed)
	}
}
