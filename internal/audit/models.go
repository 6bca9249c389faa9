package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Audit writes are best-effort; callers never fail a pipeline step on them.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	Type     EventType `json:"type" db:"type"`

	// ActorUserID is the dashboard user causing the event, empty for pipeline events.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CallID     string `json:"call_id,omitempty" db:"call_id"`
	FollowUpID string `json:"follow_up_id,omitempty" db:"follow_up_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`
	// Metadata is a JSON object with full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeChargeFailed marks an overage charge left for manual reconciliation.
	EventTypeChargeFailed EventType = "charge_failed"
	// EventTypeFallbackAttribution marks a call attributed to the fallback tenant.
	EventTypeFallbackAttribution EventType = "fallback_attribution"
	EventTypeFollowUpCancelled   EventType = "follow_up_cancelled"
)
