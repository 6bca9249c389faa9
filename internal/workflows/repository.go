package workflows

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists workflows and their executions.
type Repository interface {
	EnabledWorkflows(ctx context.Context, tenantID string, trigger Trigger) ([]Workflow, error)
	// StartExecution inserts a running execution. A second execution for the
	// same (workflow, firing key) returns ErrAlreadyFired.
	StartExecution(ctx context.Context, e Execution) (Execution, error)
	FailExecution(ctx context.Context, id string, steps, failedStep int, msg string, at time.Time) error
	// CompleteExecution marks the execution completed and bumps the
	// workflow's execution_count and last_executed_at atomically.
	CompleteExecution(ctx context.Context, workflowID, id string, steps int, at time.Time) error
}

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu         sync.Mutex
	workflows  map[string]Workflow
	executions map[string]Execution
	fired      map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		workflows:  map[string]Workflow{},
		executions: map[string]Execution{},
		fired:      map[string]string{},
	}
}

func (r *MemoryRepo) PutWorkflow(w Workflow) Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	r.workflows[w.ID] = w
	return w
}

func (r *MemoryRepo) Workflow(id string) (Workflow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	return w, ok
}

// Executions lists executions of a workflow, oldest first.
func (r *MemoryRepo) Executions(workflowID string) []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Execution
	for _, e := range r.executions {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *MemoryRepo) EnabledWorkflows(ctx context.Context, tenantID string, trigger Trigger) ([]Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Workflow
	for _, w := range r.workflows {
		if w.TenantID == tenantID && w.Trigger == trigger && w.Enabled {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) StartExecution(ctx context.Context, e Execution) (Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := e.WorkflowID + "|" + e.FiringKey
	if _, ok := r.fired[key]; ok {
		return Execution{}, ErrAlreadyFired
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.fired[key] = e.ID
	r.executions[e.ID] = e
	return e, nil
}

func (r *MemoryRepo) FailExecution(ctx context.Context, id string, steps, failedStep int, msg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = ExecutionFailed
	e.StepsCompleted = steps
	e.FailedStep = &failedStep
	e.Error = msg
	e.FinishedAt = &at
	r.executions[id] = e
	return nil
}

func (r *MemoryRepo) CompleteExecution(ctx context.Context, workflowID, id string, steps int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return ErrNotFound
	}
	w, ok := r.workflows[workflowID]
	if !ok {
		return ErrNotFound
	}
	e.Status = ExecutionCompleted
	e.StepsCompleted = steps
	e.FinishedAt = &at
	r.executions[id] = e
	w.ExecutionCount++
	w.LastExecutedAt = &at
	r.workflows[workflowID] = w
	return nil
}
