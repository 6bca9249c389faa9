package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information. Records are internal-only and
// are not exposed to tenant users.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.Metadata == "" {
		e.Metadata = "{}"
	}
	return s.repo.Append(ctx, e)
}

// LogChargeFailed records an overage charge that the processor rejected.
func (s *Service) LogChargeFailed(ctx context.Context, tenantID, callID string, amountMinor int64, currency, reason string) error {
	return s.Append(ctx, Event{
		TenantID: tenantID,
		Type:     EventTypeChargeFailed,
		CallID:   callID,
		Message:  "overage charge failed; manual reconciliation required",
		Metadata: metadata(map[string]any{
			"amount_minor": amountMinor,
			"currency":     currency,
			"reason":       reason,
		}),
	})
}

// LogFallbackAttribution records a call that no strategy attributed and
// that was assigned to the configured fallback tenant.
func (s *Service) LogFallbackAttribution(ctx context.Context, tenantID, callID, providerCallID string) error {
	return s.Append(ctx, Event{
		TenantID: tenantID,
		Type:     EventTypeFallbackAttribution,
		CallID:   callID,
		Message:  "call attributed to fallback tenant",
		Metadata: metadata(map[string]any{"provider_call_id": providerCallID}),
	})
}

// LogFollowUpCancelled records a manual follow-up cancellation.
func (s *Service) LogFollowUpCancelled(ctx context.Context, tenantID, actorUserID, actorRole, ip, followUpID string) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeFollowUpCancelled,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		FollowUpID:  followUpID,
		Message:     "follow-up cancelled",
	})
}

func metadata(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
