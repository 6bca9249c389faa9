package followups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/pkg/logger"
)

// Dispatcher hands a pending follow-up to the due-time executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, f FollowUp) error
}

// Input is one classified call outcome for a lead.
type Input struct {
	TenantID     string
	LeadID       string
	SourceCallID string
	Trigger      TriggerStatus
	// Location is the tenant's business-hours time zone.
	Location *time.Location
}

// Skip reasons reported in Report.Skipped.
const (
	SkipMaxAttempts      = "max_attempts_reached"
	SkipAlreadyScheduled = "already_scheduled"
)

type Skipped struct {
	RuleID string
	Reason string
}

// Report is the per-rule result of one Schedule call.
type Report struct {
	Scheduled []FollowUp
	Skipped   []Skipped
	// Failed holds the error of every rule that could not be scheduled.
	Failed map[string]error
}

// Scheduler turns call outcomes into scheduled follow-ups.
//
// Every enabled rule matching the trigger is evaluated independently: one
// failing rule never prevents its siblings from being scheduled.
type Scheduler struct {
	repo       Repository
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	clock      func() time.Time
}

func NewScheduler(repo Repository, dispatcher Dispatcher, m *metrics.Metrics) *Scheduler {
	return &Scheduler{repo: repo, dispatcher: dispatcher, metrics: m, clock: time.Now}
}

// Schedule evaluates the tenant's rules for in.Trigger. The returned error
// joins the per-rule failures; the report is complete either way.
func (s *Scheduler) Schedule(ctx context.Context, in Input) (Report, error) {
	report := Report{Failed: map[string]error{}}
	if in.TenantID == "" || in.LeadID == "" || in.SourceCallID == "" || in.Trigger == "" {
		return report, ErrInvalidArgument
	}
	log := logger.From(ctx).With("tenant_id", in.TenantID, "lead_id", in.LeadID, "trigger", in.Trigger)

	rules, err := s.repo.EnabledRules(ctx, in.TenantID, in.Trigger)
	if err != nil {
		return report, fmt.Errorf("load rules: %w", err)
	}

	var errs []error
	for _, rule := range rules {
		f, skip, err := s.scheduleRule(ctx, rule, in)
		switch {
		case err != nil:
			report.Failed[rule.ID] = err
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			s.metrics.FollowUp("failed")
			log.Error("follow-up rule failed", "rule_id", rule.ID, "err", err)
		case skip != "":
			report.Skipped = append(report.Skipped, Skipped{RuleID: rule.ID, Reason: skip})
			s.metrics.FollowUp("skipped")
			log.Debug("follow-up rule skipped", "rule_id", rule.ID, "reason", skip)
		default:
			report.Scheduled = append(report.Scheduled, f)
			s.metrics.FollowUp("scheduled")
			log.Info("follow-up scheduled",
				"rule_id", rule.ID,
				"follow_up_id", f.ID,
				"attempt", f.Attempt,
				"scheduled_for", f.ScheduledFor,
			)
		}
	}
	return report, errors.Join(errs...)
}

func (s *Scheduler) scheduleRule(ctx context.Context, rule Rule, in Input) (FollowUp, string, error) {
	prior, err := s.repo.CountAttempts(ctx, in.TenantID, rule.ID, in.LeadID)
	if err != nil {
		return FollowUp{}, "", fmt.Errorf("count attempts: %w", err)
	}
	attempt := prior + 1
	if attempt > rule.MaxAttempts {
		return FollowUp{}, SkipMaxAttempts, nil
	}

	f, err := s.repo.Insert(ctx, FollowUp{
		TenantID:     in.TenantID,
		RuleID:       rule.ID,
		LeadID:       in.LeadID,
		SourceCallID: in.SourceCallID,
		ScheduledFor: s.dueTime(rule, in.Location),
		Attempt:      attempt,
		Status:       StatusPending,
		Action:       rule.Action,
	})
	if errors.Is(err, ErrAlreadyScheduled) {
		return FollowUp{}, SkipAlreadyScheduled, nil
	}
	if err != nil {
		return FollowUp{}, "", err
	}

	// The row is durable; a failed dispatch is picked up by the sweeper.
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, f); err != nil {
			logger.From(ctx).Warn("follow-up dispatch deferred to sweeper", "follow_up_id", f.ID, "err", err)
		}
	}
	return f, "", nil
}

func (s *Scheduler) dueTime(rule Rule, loc *time.Location) time.Time {
	due := s.clock().Add(time.Duration(rule.DelayHours) * time.Hour)
	if rule.BusinessHoursOnly {
		due = SnapToBusinessHours(due, loc)
	}
	return due.UTC()
}

// Cancel marks a pending follow-up cancelled.
func (s *Scheduler) Cancel(ctx context.Context, tenantID, id string) (FollowUp, error) {
	if tenantID == "" || id == "" {
		return FollowUp{}, ErrInvalidArgument
	}
	return s.repo.Cancel(ctx, tenantID, id)
}

// CancelPendingForLead cancels every pending follow-up of a lead that no
// longer needs chasing.
func (s *Scheduler) CancelPendingForLead(ctx context.Context, tenantID, leadID string) (int, error) {
	if tenantID == "" || leadID == "" {
		return 0, ErrInvalidArgument
	}
	n, err := s.repo.CancelPendingForLead(ctx, tenantID, leadID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.From(ctx).Info("pending follow-ups cancelled", "tenant_id", tenantID, "lead_id", leadID, "count", n)
	}
	return n, nil
}

// Redispatch hands every pending follow-up due before horizon to the
// dispatcher again. Dispatchers dedupe by follow-up id.
func (s *Scheduler) Redispatch(ctx context.Context, horizon time.Duration, limit int) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}
	due, err := s.repo.DuePending(ctx, s.clock().Add(horizon), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range due {
		if err := s.dispatcher.Dispatch(ctx, f); err != nil {
			logger.From(ctx).Warn("follow-up redispatch failed", "follow_up_id", f.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

// RunSweeper calls Redispatch every interval until ctx is done.
func (s *Scheduler) RunSweeper(ctx context.Context, interval, horizon time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := s.Redispatch(ctx, horizon, 100); err != nil {
			logger.From(ctx).Warn("follow-up sweep failed", "err", err)
		}
	}
}
