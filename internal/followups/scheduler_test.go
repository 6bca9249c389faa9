package followups

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, f FollowUp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, f.ID)
	return d.err
}

// Wednesday 2025-03-12 10:00 UTC.
var schedNow = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

func newTestScheduler(repo Repository, d Dispatcher) *Scheduler {
	s := NewScheduler(repo, d, nil)
	s.clock = func() time.Time { return schedNow }
	return s
}

func input(callID string) Input {
	return Input{TenantID: "t1", LeadID: "lead-1", SourceCallID: callID, Trigger: TriggerNoAnswer, Location: time.UTC}
}

func TestSchedule_FansOutAcrossMatchingRules(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutRule(Rule{ID: "r-call", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionCall, DelayHours: 2, MaxAttempts: 3, Enabled: true})
	repo.PutRule(Rule{ID: "r-sms", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionSMS, DelayHours: 1, MaxAttempts: 1, Enabled: true})
	repo.PutRule(Rule{ID: "r-off", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionEmail, MaxAttempts: 1, Enabled: false})
	repo.PutRule(Rule{ID: "r-vm", TenantID: "t1", Trigger: TriggerVoicemail, Action: ActionSMS, MaxAttempts: 1, Enabled: true})
	d := &recordingDispatcher{}
	s := newTestScheduler(repo, d)

	report, err := s.Schedule(context.Background(), input("call-1"))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(report.Scheduled) != 2 || len(d.ids) != 2 {
		t.Fatalf("expected 2 follow-ups dispatched, got %+v (dispatched %d)", report, len(d.ids))
	}
	for _, f := range report.Scheduled {
		if f.Status != StatusPending || f.Attempt != 1 {
			t.Fatalf("unexpected follow-up %+v", f)
		}
		if f.RuleID == "r-call" && !f.ScheduledFor.Equal(schedNow.Add(2*time.Hour)) {
			t.Fatalf("expected now+2h, got %s", f.ScheduledFor)
		}
	}
}

func TestSchedule_NeverExceedsMaxAttempts(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutRule(Rule{ID: "r1", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionCall, DelayHours: 1, MaxAttempts: 2, Enabled: true})
	s := newTestScheduler(repo, nil)

	for _, callID := range []string{"c1", "c2", "c3", "c4"} {
		if _, err := s.Schedule(context.Background(), input(callID)); err != nil {
			t.Fatalf("schedule %s: %v", callID, err)
		}
	}
	all := repo.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(all))
	}
	for _, f := range all {
		if f.Attempt > 2 {
			t.Fatalf("attempt %d exceeds max", f.Attempt)
		}
	}

	report, _ := s.Schedule(context.Background(), input("c5"))
	if len(report.Skipped) != 1 || report.Skipped[0].Reason != SkipMaxAttempts {
		t.Fatalf("expected max attempts skip, got %+v", report.Skipped)
	}
}

func TestSchedule_RedeliveryIsSkipped(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutRule(Rule{ID: "r1", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionCall, DelayHours: 1, MaxAttempts: 5, Enabled: true})
	s := newTestScheduler(repo, nil)

	if _, err := s.Schedule(context.Background(), input("c1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	report, err := s.Schedule(context.Background(), input("c1"))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(report.Scheduled) != 0 || len(report.Skipped) != 1 || report.Skipped[0].Reason != SkipAlreadyScheduled {
		t.Fatalf("expected already scheduled skip, got %+v", report)
	}
	if len(repo.All()) != 1 {
		t.Fatalf("expected a single row")
	}
}

func TestSchedule_SnapsToBusinessHours(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutRule(Rule{ID: "r1", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionCall, DelayHours: 8, MaxAttempts: 1, BusinessHoursOnly: true, Enabled: true})
	s := newTestScheduler(repo, nil)

	report, err := s.Schedule(context.Background(), input("c1"))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// 10:00 + 8h = 18:00 -> Thursday 09:00.
	want := time.Date(2025, 3, 13, 9, 0, 0, 0, time.UTC)
	if got := report.Scheduled[0].ScheduledFor; !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

type flakyRepo struct {
	*MemoryRepo
	failRule string
}

func (r *flakyRepo) Insert(ctx context.Context, f FollowUp) (FollowUp, error) {
	if f.RuleID == r.failRule {
		return FollowUp{}, errors.New("insert timeout")
	}
	return r.MemoryRepo.Insert(ctx, f)
}

func TestSchedule_RuleFailureDoesNotAbortSiblings(t *testing.T) {
	repo := &flakyRepo{MemoryRepo: NewMemoryRepo(), failRule: "r1"}
	repo.PutRule(Rule{ID: "r1", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionCall, MaxAttempts: 1, Enabled: true})
	repo.PutRule(Rule{ID: "r2", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionSMS, MaxAttempts: 1, Enabled: true})
	s := newTestScheduler(repo, nil)

	report, err := s.Schedule(context.Background(), input("c1"))
	if err == nil {
		t.Fatalf("expected joined rule error")
	}
	if len(report.Scheduled) != 1 || report.Scheduled[0].RuleID != "r2" {
		t.Fatalf("expected r2 scheduled, got %+v", report.Scheduled)
	}
	if _, ok := report.Failed["r1"]; !ok {
		t.Fatalf("expected r1 failure recorded")
	}
}

func TestSchedule_DispatchFailureKeepsRow(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutRule(Rule{ID: "r1", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionCall, MaxAttempts: 1, Enabled: true})
	d := &recordingDispatcher{err: errors.New("redis down")}
	s := newTestScheduler(repo, d)

	report, err := s.Schedule(context.Background(), input("c1"))
	if err != nil || len(report.Scheduled) != 1 {
		t.Fatalf("expected row scheduled despite dispatch failure, got %+v %v", report, err)
	}

	d.err = nil
	n, err := s.Redispatch(context.Background(), time.Hour, 10)
	if err != nil || n != 1 {
		t.Fatalf("expected sweeper to redispatch 1, got %d %v", n, err)
	}
}

func TestCancel(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutRule(Rule{ID: "r1", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionCall, MaxAttempts: 3, Enabled: true})
	s := newTestScheduler(repo, nil)
	report, _ := s.Schedule(context.Background(), input("c1"))
	id := report.Scheduled[0].ID

	if _, err := s.Cancel(context.Background(), "t2", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cross-tenant cancel to be not found, got %v", err)
	}
	f, err := s.Cancel(context.Background(), "t1", id)
	if err != nil || f.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %+v %v", f, err)
	}
	if _, err := s.Cancel(context.Background(), "t1", id); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestCancelPendingForLead(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutRule(Rule{ID: "r1", TenantID: "t1", Trigger: TriggerNoAnswer, Action: ActionCall, MaxAttempts: 3, Enabled: true})
	s := newTestScheduler(repo, nil)
	_, _ = s.Schedule(context.Background(), input("c1"))
	_, _ = s.Schedule(context.Background(), input("c2"))

	n, err := s.CancelPendingForLead(context.Background(), "t1", "lead-1")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 cancelled, got %d %v", n, err)
	}
	due, _ := repo.DuePending(context.Background(), schedNow.Add(48*time.Hour), 0)
	if len(due) != 0 {
		t.Fatalf("expected nothing pending, got %d", len(due))
	}
}
