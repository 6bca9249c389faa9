package followups

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// AsynqDispatcher enqueues follow-ups to run at their scheduled time.
type AsynqDispatcher struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func NewAsynqDispatcher(opt asynq.RedisConnOpt, queue string) *AsynqDispatcher {
	if queue == "" {
		queue = "default"
	}
	return &AsynqDispatcher{client: asynq.NewClient(opt), queue: queue, maxRetry: 5}
}

func (d *AsynqDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, f FollowUp) error {
	task, err := NewDueTask(DuePayload{FollowUpID: f.ID, TenantID: f.TenantID})
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(f.ScheduledFor),
		asynq.Queue(d.queue),
		asynq.TaskID(TaskID(f.ID)),
		asynq.MaxRetry(d.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue follow-up: %w", err)
	}
	return nil
}
