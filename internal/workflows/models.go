// Package workflows runs tenant automations in response to call and lead
// events. Conditions and actions are a closed set; there is no scripting.
package workflows

import (
	"errors"
	"fmt"
	"time"
)

// Trigger is the domain event a workflow listens to.
type Trigger string

const (
	TriggerNewLead            Trigger = "new_lead"
	TriggerLeadStatusChanged  Trigger = "lead_status_changed"
	TriggerCallCompleted      Trigger = "call_completed"
	TriggerAppointmentBooked  Trigger = "appointment_booked"
	TriggerLeadScoreThreshold Trigger = "lead_score_threshold"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerNewLead, TriggerLeadStatusChanged, TriggerCallCompleted, TriggerAppointmentBooked, TriggerLeadScoreThreshold:
		return true
	default:
		return false
	}
}

// TriggerConfig narrows when a workflow fires. Zero fields match anything.
type TriggerConfig struct {
	Status     string `json:"status,omitempty"`
	FromStatus string `json:"from_status,omitempty"`
	Threshold  *int   `json:"threshold,omitempty"`
	Direction  string `json:"direction,omitempty"`
}

// ActionType enumerates the supported actions.
type ActionType string

const (
	ActionUpdateLeadStatus ActionType = "update_lead_status"
	ActionAddLeadTag       ActionType = "add_lead_tag"
	ActionSendEmail        ActionType = "send_email"
	ActionNotifyWebhook    ActionType = "notify_webhook"
)

// Action is one step of a workflow. Which fields apply depends on Type.
type Action struct {
	Type    ActionType `json:"type"`
	Status  string     `json:"status,omitempty"`
	Tag     string     `json:"tag,omitempty"`
	To      string     `json:"to,omitempty"`
	Subject string     `json:"subject,omitempty"`
	Body    string     `json:"body,omitempty"`
	URL     string     `json:"url,omitempty"`
}

// Validate checks that the fields Type requires are present.
func (a Action) Validate() error {
	switch a.Type {
	case ActionUpdateLeadStatus:
		if a.Status == "" {
			return fmt.Errorf("%w: %s requires status", ErrInvalidArgument, a.Type)
		}
	case ActionAddLeadTag:
		if a.Tag == "" {
			return fmt.Errorf("%w: %s requires tag", ErrInvalidArgument, a.Type)
		}
	case ActionSendEmail:
		if a.Subject == "" {
			return fmt.Errorf("%w: %s requires subject", ErrInvalidArgument, a.Type)
		}
	case ActionNotifyWebhook:
		if a.URL == "" {
			return fmt.Errorf("%w: %s requires url", ErrInvalidArgument, a.Type)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, a.Type)
	}
	return nil
}

type Workflow struct {
	ID             string        `json:"id" db:"id"`
	TenantID       string        `json:"tenant_id" db:"tenant_id"`
	Name           string        `json:"name" db:"name"`
	Trigger        Trigger       `json:"trigger_type" db:"trigger_type"`
	Config         TriggerConfig `json:"trigger_config" db:"trigger_config"`
	Actions        []Action      `json:"actions" db:"actions"`
	Enabled        bool          `json:"enabled" db:"enabled"`
	ExecutionCount int           `json:"execution_count" db:"execution_count"`
	LastExecutedAt *time.Time    `json:"last_executed_at,omitempty" db:"last_executed_at"`
}

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is the record of one firing of one workflow.
type Execution struct {
	ID          string          `json:"id" db:"id"`
	WorkflowID  string          `json:"workflow_id" db:"workflow_id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	Trigger     Trigger         `json:"trigger_event" db:"trigger_event"`
	FiringKey   string          `json:"firing_key" db:"firing_key"`
	TriggerData map[string]any  `json:"trigger_data" db:"trigger_data"`
	Status      ExecutionStatus `json:"status" db:"status"`
	// StepsCompleted counts actions that ran before completion or failure.
	StepsCompleted int `json:"steps_completed" db:"steps_completed"`
	// FailedStep is the zero-based index of the failing action.
	FailedStep *int       `json:"failed_step,omitempty" db:"failed_step"`
	Error      string     `json:"error,omitempty" db:"error"`
	LeadID     string     `json:"lead_id,omitempty" db:"lead_id"`
	CallID     string     `json:"call_id,omitempty" db:"call_id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Event is a domain event delivered to the engine.
type Event struct {
	Trigger  Trigger
	TenantID string
	// FiringKey identifies this firing across redeliveries. Defaults to
	// "<trigger>:<call id>".
	FiringKey string
	LeadID    string
	CallID    string

	Status         string
	PreviousStatus string
	Score          int
	// PreviousScore is nil when the lead had no score before this event.
	PreviousScore *int
	Direction     string

	LeadName  string
	LeadPhone string
	LeadEmail string
}

func (e Event) firingKey() string {
	if e.FiringKey != "" {
		return e.FiringKey
	}
	if e.CallID == "" {
		return ""
	}
	return string(e.Trigger) + ":" + e.CallID
}

// Snapshot is the trigger data stored on the execution row.
func (e Event) Snapshot() map[string]any {
	out := map[string]any{
		"trigger":   string(e.Trigger),
		"lead_id":   e.LeadID,
		"call_id":   e.CallID,
		"status":    e.Status,
		"score":     e.Score,
		"direction": e.Direction,
	}
	if e.PreviousStatus != "" {
		out["previous_status"] = e.PreviousStatus
	}
	if e.PreviousScore != nil {
		out["previous_score"] = *e.PreviousScore
	}
	return out
}

var (
	ErrNotFound        = errors.New("workflows: not found")
	ErrInvalidArgument = errors.New("workflows: invalid argument")
	// ErrActionFailed marks a workflow whose execution stopped on an action error.
	ErrActionFailed = errors.New("workflows: action failed")
	// ErrAlreadyFired is returned by StartExecution for a duplicate firing key.
	ErrAlreadyFired = errors.New("workflows: already fired")
)
