package followups

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskFollowUpDue = "followups.due"

type DuePayload struct {
	FollowUpID string `json:"followUpId"`
	TenantID   string `json:"tenantId"`
}

func NewDueTask(payload DuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFollowUpDue, data), nil
}

func ParseDuePayload(task *asynq.Task) (DuePayload, error) {
	var payload DuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DuePayload{}, err
	}
	return payload, nil
}

// TaskID is the asynq task id for a follow-up; enqueuing it twice is a no-op.
func TaskID(followUpID string) string { return "followup:" + followUpID }
