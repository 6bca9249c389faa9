package calls

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Call is one provider phone call owned by a tenant.
//
// Invariants:
// - ProviderCallID is globally unique and is the idempotency key for upserts.
// - TenantID never changes once the row exists.
// - Rows are never deleted.
type Call struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	ProviderCallID string    `json:"provider_call_id" db:"provider_call_id"`
	Direction      Direction `json:"direction" db:"direction"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`

	Status          Status `json:"status" db:"status"`
	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
	Transcript   string `json:"transcript,omitempty" db:"transcript"`
	Summary      string `json:"summary,omitempty" db:"summary"`
	EndedReason  string `json:"ended_reason,omitempty" db:"ended_reason"`
	Outcome      string `json:"outcome,omitempty" db:"outcome"`

	// RawPayload is the provider payload of the latest event, kept for audit and replay.
	RawPayload json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`

	LeadID string `json:"lead_id,omitempty" db:"lead_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusVoicemail Status = "voicemail"
)

// IsTerminal reports whether the call has ended.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusVoicemail:
		return true
	default:
		return false
	}
}

// UpsertInput carries one normalized lifecycle event for a call.
// Empty strings and a nil duration mean "not reported by this event".
type UpsertInput struct {
	TenantID       string
	ProviderCallID string
	Direction      Direction
	FromNumber     string
	ToNumber       string
	Status         Status

	DurationSeconds *int
	RecordingURL    string
	Transcript      string
	Summary         string
	EndedReason     string
	Outcome         string

	RawPayload json.RawMessage
}

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	// ErrTenantMismatch means the provider call id is already owned by another tenant.
	ErrTenantMismatch = errors.New("calls: provider call id belongs to another tenant")
)

func (in UpsertInput) validate() error {
	if in.TenantID == "" || in.ProviderCallID == "" || in.Status == "" {
		return ErrInvalidArgument
	}
	if in.Direction != DirectionInbound && in.Direction != DirectionOutbound {
		return ErrInvalidArgument
	}
	if in.DurationSeconds != nil && *in.DurationSeconds < 0 {
		return ErrInvalidArgument
	}
	return nil
}

// Canonical call outcomes reported by the voice agent's post-call analysis.
const (
	OutcomeInterested    = "interested"
	OutcomeCallback      = "callback"
	OutcomeNotInterested = "not_interested"
	OutcomeBooked        = "booked"
)

// CanonicalOutcome folds provider outcome spellings ("Call-Back",
// "appointment booked", "not interested") onto the canonical outcomes.
// Unknown outcomes return "".
func CanonicalOutcome(s string) string {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer("-", "_", " ", "_").Replace(k)
	switch k {
	case "interested", "warm", "hot":
		return OutcomeInterested
	case "callback", "call_back", "callback_requested":
		return OutcomeCallback
	case "not_interested", "uninterested", "do_not_call":
		return OutcomeNotInterested
	case "booked", "appointment_booked", "appointment_scheduled", "scheduled":
		return OutcomeBooked
	default:
		return ""
	}
}
