package telephony

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"voiceagent-platform/internal/calls"
)

// CallEvent is the canonical, provider-agnostic view of one call lifecycle event.
// Downstream code never reads provider payloads except RawPayload as an opaque blob.
type CallEvent struct {
	ProviderCallID   string          `json:"provider_call_id" validate:"required,max=255"`
	ProviderNumberID string          `json:"provider_number_id,omitempty" validate:"max=255"`
	Direction        calls.Direction `json:"direction" validate:"oneof=inbound outbound"`

	FromNumber string       `json:"from_number,omitempty" validate:"max=64"`
	ToNumber   string       `json:"to_number,omitempty" validate:"max=64"`
	Status     calls.Status `json:"status" validate:"oneof=queued ringing answered completed failed voicemail"`

	DurationSeconds *int   `json:"duration_seconds,omitempty" validate:"omitempty,gte=0"`
	RecordingURL    string `json:"recording_url,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	Summary         string `json:"summary,omitempty"`
	EndedReason     string `json:"ended_reason,omitempty"`
	Outcome         string `json:"outcome,omitempty"`

	// Metadata is the caller-supplied bag; self-initiated calls carry tenantId/leadId here.
	Metadata map[string]any `json:"metadata,omitempty"`

	ReceivedAt time.Time       `json:"received_at"`
	RawPayload json.RawMessage `json:"-"`
}

// MetadataString returns the first non-empty metadata value among keys.
func (e CallEvent) MetadataString(keys ...string) string {
	for _, k := range keys {
		if s := stringValue(e.Metadata[k]); s != "" {
			return s
		}
	}
	return ""
}

// UpsertInput converts the event into a call store write for tenantID.
func (e CallEvent) UpsertInput(tenantID string) calls.UpsertInput {
	return calls.UpsertInput{
		TenantID:        tenantID,
		ProviderCallID:  e.ProviderCallID,
		Direction:       e.Direction,
		FromNumber:      e.FromNumber,
		ToNumber:        e.ToNumber,
		Status:          e.Status,
		DurationSeconds: e.DurationSeconds,
		RecordingURL:    e.RecordingURL,
		Transcript:      e.Transcript,
		Summary:         e.Summary,
		EndedReason:     e.EndedReason,
		Outcome:         e.Outcome,
		RawPayload:      e.RawPayload,
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
