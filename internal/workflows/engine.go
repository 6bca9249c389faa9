package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/pkg/logger"
)

// Report summarizes one Fire call.
type Report struct {
	Executions []Execution
	// Duplicates counts workflows already fired for this firing key.
	Duplicates int
	// NotMatched counts enabled workflows whose condition was false.
	NotMatched int
}

// Engine matches events against enabled workflows and runs their actions.
//
// Each (workflow, firing key) executes at most once: the execution row is
// inserted before any action runs. Actions run in order; the first
// failure stops that workflow and is recorded on the execution. Workflows
// never affect each other, and actions never fire new events.
type Engine struct {
	repo          Repository
	handlers      Handlers
	metrics       *metrics.Metrics
	actionTimeout time.Duration
	clock         func() time.Time
}

func NewEngine(repo Repository, handlers Handlers, m *metrics.Metrics) *Engine {
	return &Engine{
		repo:          repo,
		handlers:      handlers,
		metrics:       m,
		actionTimeout: 10 * time.Second,
		clock:         time.Now,
	}
}

// Fire evaluates every enabled workflow of the event's tenant and trigger
// once. The returned error joins per-workflow failures, including
// ErrActionFailed for executions that ended failed.
func (e *Engine) Fire(ctx context.Context, ev Event) (Report, error) {
	var report Report
	key := ev.firingKey()
	if ev.TenantID == "" || !ev.Trigger.Valid() || key == "" {
		return report, ErrInvalidArgument
	}
	log := logger.From(ctx).With("tenant_id", ev.TenantID, "trigger", ev.Trigger, "firing_key", key)

	workflows, err := e.repo.EnabledWorkflows(ctx, ev.TenantID, ev.Trigger)
	if err != nil {
		return report, fmt.Errorf("load workflows: %w", err)
	}

	var errs []error
	for _, w := range workflows {
		if !w.Config.Matches(ev) {
			report.NotMatched++
			continue
		}
		exec, err := e.run(ctx, w, ev, key)
		switch {
		case errors.Is(err, ErrAlreadyFired):
			report.Duplicates++
			log.Debug("workflow already fired", "workflow_id", w.ID)
			continue
		case exec.ID == "":
			errs = append(errs, fmt.Errorf("workflow %s: %w", w.ID, err))
			log.Error("workflow execution not recorded", "workflow_id", w.ID, "err", err)
			continue
		}
		report.Executions = append(report.Executions, exec)
		e.metrics.WorkflowExecution(string(ev.Trigger), string(exec.Status))
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", w.ID, err))
			log.Warn("workflow execution failed",
				"workflow_id", w.ID,
				"execution_id", exec.ID,
				"failed_step", exec.FailedStep,
				"err", err,
			)
			continue
		}
		log.Info("workflow executed", "workflow_id", w.ID, "execution_id", exec.ID, "steps", exec.StepsCompleted)
	}
	return report, errors.Join(errs...)
}

// run executes one workflow. A returned Execution with an empty ID means
// nothing was recorded.
func (e *Engine) run(ctx context.Context, w Workflow, ev Event, key string) (Execution, error) {
	exec, err := e.repo.StartExecution(ctx, Execution{
		WorkflowID:  w.ID,
		TenantID:    ev.TenantID,
		Trigger:     ev.Trigger,
		FiringKey:   key,
		TriggerData: ev.Snapshot(),
		Status:      ExecutionRunning,
		LeadID:      ev.LeadID,
		CallID:      ev.CallID,
		StartedAt:   e.clock().UTC(),
	})
	if err != nil {
		return Execution{}, err
	}

	for i, action := range w.Actions {
		if err := e.perform(ctx, Step{ExecutionID: exec.ID, WorkflowID: w.ID, Index: i, Action: action, Event: ev}); err != nil {
			msg := fmt.Sprintf("%s: %v", action.Type, err)
			now := e.clock().UTC()
			exec.Status = ExecutionFailed
			exec.StepsCompleted = i
			exec.FailedStep = &i
			exec.Error = msg
			exec.FinishedAt = &now
			if ferr := e.repo.FailExecution(ctx, exec.ID, i, i, msg, now); ferr != nil {
				return exec, errors.Join(fmt.Errorf("%w: %s", ErrActionFailed, msg), fmt.Errorf("record failure: %w", ferr))
			}
			return exec, fmt.Errorf("%w: %s", ErrActionFailed, msg)
		}
	}

	now := e.clock().UTC()
	if err := e.repo.CompleteExecution(ctx, w.ID, exec.ID, len(w.Actions), now); err != nil {
		return exec, fmt.Errorf("record completion: %w", err)
	}
	exec.Status = ExecutionCompleted
	exec.StepsCompleted = len(w.Actions)
	exec.FinishedAt = &now
	return exec, nil
}

func (e *Engine) perform(ctx context.Context, s Step) error {
	if err := s.Action.Validate(); err != nil {
		return err
	}
	h, ok := e.handlers[s.Action.Type]
	if !ok {
		return fmt.Errorf("%w: no handler for %s", ErrInvalidArgument, s.Action.Type)
	}
	ctx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()
	return h.Handle(ctx, s)
}
