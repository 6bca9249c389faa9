package followups

import (
	"errors"
	"time"
)

// TriggerStatus is the classified call outcome a rule reacts to.
type TriggerStatus string

const (
	TriggerNoAnswer   TriggerStatus = "no_answer"
	TriggerVoicemail  TriggerStatus = "voicemail"
	TriggerCallback   TriggerStatus = "callback"
	TriggerInterested TriggerStatus = "interested"
)

// ActionType is how a follow-up reaches the lead.
type ActionType string

const (
	ActionCall  ActionType = "call"
	ActionSMS   ActionType = "sms"
	ActionEmail ActionType = "email"
)

// Rule is tenant configuration; read-only to the scheduler.
type Rule struct {
	ID                string        `json:"id" db:"id"`
	TenantID          string        `json:"tenant_id" db:"tenant_id"`
	Name              string        `json:"name" db:"name"`
	Trigger           TriggerStatus `json:"trigger_status" db:"trigger_status"`
	Action            ActionType    `json:"action_type" db:"action_type"`
	DelayHours        int           `json:"delay_hours" db:"delay_hours"`
	MaxAttempts       int           `json:"max_attempts" db:"max_attempts"`
	BusinessHoursOnly bool          `json:"business_hours_only" db:"business_hours_only"`
	MessageTemplate   string        `json:"message_template,omitempty" db:"message_template"`
	Enabled           bool          `json:"enabled" db:"enabled"`
}

// FollowUp is one scheduled attempt.
//
// Invariants:
// - Attempt never exceeds the rule's MaxAttempts.
// - One row per (rule, source call) and per (rule, lead, attempt).
// - completed and cancelled are terminal.
type FollowUp struct {
	ID           string     `json:"id" db:"id"`
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	RuleID       string     `json:"rule_id" db:"rule_id"`
	LeadID       string     `json:"lead_id" db:"lead_id"`
	SourceCallID string     `json:"source_call_id" db:"source_call_id"`
	ScheduledFor time.Time  `json:"scheduled_for" db:"scheduled_for"`
	Attempt      int        `json:"attempt_number" db:"attempt_number"`
	Status       Status     `json:"status" db:"status"`
	Action       ActionType `json:"action_type" db:"action_type"`
	Result       string     `json:"result,omitempty" db:"result"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound        = errors.New("followups: not found")
	ErrInvalidArgument = errors.New("followups: invalid argument")
	// ErrAlreadyScheduled is a unique violation on (rule, source call) or (rule, lead, attempt).
	ErrAlreadyScheduled = errors.New("followups: already scheduled")
	// ErrNotCancellable means the follow-up is no longer pending.
	ErrNotCancellable = errors.New("followups: not pending")
)
