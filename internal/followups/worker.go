package followups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voiceagent-platform/internal/metrics"

	"github.com/hibiken/asynq"
)

// Performer executes one due follow-up.
type Performer interface {
	Execute(ctx context.Context, f FollowUp) (string, error)
}

// Handler processes followups.due tasks. Rows that are no longer pending
// (cancelled, or completed by an earlier delivery) are acknowledged
// without side effects.
type Handler struct {
	repo    Repository
	exec    Performer
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewHandler(repo Repository, exec Performer, m *metrics.Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{repo: repo, exec: exec, metrics: m, log: log}
}

func (h *Handler) HandleDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDuePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	log := h.log.With("tenant_id", payload.TenantID, "follow_up_id", payload.FollowUpID)

	f, err := h.repo.Get(ctx, payload.TenantID, payload.FollowUpID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("due follow-up not found")
		return nil
	}
	if err != nil {
		return err
	}
	if f.Status != StatusPending {
		log.Debug("due follow-up no longer pending", "status", f.Status)
		return nil
	}

	result, err := h.exec.Execute(ctx, f)
	if err != nil {
		h.metrics.FollowUp("execute_failed")
		log.Error("follow-up execution failed", "err", err)
		return err
	}

	ok, err := h.repo.Complete(ctx, f.TenantID, f.ID, result)
	if err != nil {
		return err
	}
	if ok {
		h.metrics.FollowUp("completed")
		log.Info("follow-up completed", "action", f.Action, "result", result)
	}
	return nil
}

// Worker runs the asynq server for follow-up tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

func NewWorker(opt asynq.RedisConnOpt, queue string, concurrency int, h *Handler, log *slog.Logger) *Worker {
	if queue == "" {
		queue = "default"
	}
	if concurrency < 1 {
		concurrency = 10
	}
	if log == nil {
		log = slog.Default()
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskFollowUpDue, h.HandleDue)
	return &Worker{server: server, mux: mux, log: log}
}

// Run starts the server and blocks until ctx is done, then drains
// in-flight tasks. Shutdown follows ctx only; the server installs no
// signal handlers.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start follow-up worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	w.log.Info("follow-up worker stopped")
	return nil
}
