package telephony

import (
	"errors"
	"testing"
	"time"

	"voiceagent-platform/internal/calls"
)

func fixedNormalizer() *Normalizer {
	n := NewNormalizer()
	n.now = func() time.Time { return time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestNormalize_FlatShape(t *testing.T) {
	raw := []byte(`{
		"callId": "call-1",
		"direction": "inbound",
		"from": "5551234567",
		"to": "+15557654321",
		"status": "ended",
		"duration": 125,
		"recordingUrl": "https://rec/1",
		"transcript": "hi",
		"summary": "wants a quote",
		"metadata": {"campaign": "spring"}
	}`)

	ev, err := fixedNormalizer().Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.ProviderCallID != "call-1" || ev.Direction != calls.DirectionInbound {
		t.Fatalf("unexpected ids: %+v", ev)
	}
	if ev.FromNumber != "+15551234567" || ev.ToNumber != "+15557654321" {
		t.Fatalf("unexpected numbers: %q %q", ev.FromNumber, ev.ToNumber)
	}
	if ev.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", ev.Status)
	}
	if ev.DurationSeconds == nil || *ev.DurationSeconds != 125 {
		t.Fatalf("expected duration 125, got %v", ev.DurationSeconds)
	}
	if ev.RecordingURL != "https://rec/1" || ev.Summary != "wants a quote" || ev.Transcript != "hi" {
		t.Fatalf("unexpected artifacts: %+v", ev)
	}
	if ev.MetadataString("campaign") != "spring" {
		t.Fatalf("expected metadata preserved")
	}
	if string(ev.RawPayload) != string(raw) {
		t.Fatalf("expected raw payload kept verbatim")
	}
}

func TestNormalize_EnvelopeWithNestedCall(t *testing.T) {
	raw := []byte(`{"message": {
		"type": "end-of-call-report",
		"endedReason": "customer-ended-call",
		"call": {
			"id": "vapi-9",
			"type": "inboundPhoneCall",
			"phoneNumberId": "pn-1",
			"customer": {"number": "+15551234567"},
			"phoneNumber": {"number": "+15557654321"},
			"startedAt": "2025-03-04T10:00:00Z",
			"endedAt": "2025-03-04T10:02:05.4Z"
		},
		"artifact": {"recordingUrl": "https://rec/9", "transcript": "hello"},
		"analysis": {"summary": "asked about pricing", "structuredData": {"outcome": "Interested"}}
	}}`)

	ev, err := fixedNormalizer().Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.ProviderCallID != "vapi-9" || ev.ProviderNumberID != "pn-1" {
		t.Fatalf("unexpected ids: %+v", ev)
	}
	if ev.Direction != calls.DirectionInbound {
		t.Fatalf("expected inbound from call type")
	}
	if ev.FromNumber != "+15551234567" || ev.ToNumber != "+15557654321" {
		t.Fatalf("unexpected numbers: %q %q", ev.FromNumber, ev.ToNumber)
	}
	if ev.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", ev.Status)
	}
	if ev.DurationSeconds == nil || *ev.DurationSeconds != 125 {
		t.Fatalf("expected duration from timestamps, got %v", ev.DurationSeconds)
	}
	if ev.Outcome != "interested" || ev.Summary != "asked about pricing" || ev.RecordingURL != "https://rec/9" {
		t.Fatalf("unexpected analysis fields: %+v", ev)
	}
}

func TestNormalize_OutboundUsesAgentNumberAsFrom(t *testing.T) {
	raw := []byte(`{"id": "c-2", "type": "outboundPhoneCall", "status": "in-progress",
		"customer": {"number": "+15550001111"}, "phoneNumber": {"number": "+15559998888"},
		"metadata": {"tenantId": "T1", "leadId": "lead-7"}}`)

	ev, err := fixedNormalizer().Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Direction != calls.DirectionOutbound {
		t.Fatalf("expected outbound")
	}
	if ev.FromNumber != "+15559998888" || ev.ToNumber != "+15550001111" {
		t.Fatalf("unexpected numbers: %q %q", ev.FromNumber, ev.ToNumber)
	}
	if ev.Status != calls.StatusAnswered {
		t.Fatalf("expected answered, got %s", ev.Status)
	}
	if ev.MetadataString("tenantId", "tenant_id") != "T1" || ev.MetadataString("leadId") != "lead-7" {
		t.Fatalf("unexpected metadata: %v", ev.Metadata)
	}
	if ev.DurationSeconds != nil {
		t.Fatalf("expected no duration")
	}
}

func TestNormalize_DirectionDefaultsToOutbound(t *testing.T) {
	ev, err := fixedNormalizer().Normalize([]byte(`{"call_id": "c", "status": "ringing"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Direction != calls.DirectionOutbound || ev.Status != calls.StatusRinging {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestNormalize_DurationAsStringIsRounded(t *testing.T) {
	ev, err := fixedNormalizer().Normalize([]byte(`{"callId": "c", "status": "completed", "duration_seconds": "59.6"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.DurationSeconds == nil || *ev.DurationSeconds != 60 {
		t.Fatalf("expected 60, got %v", ev.DurationSeconds)
	}
}

func TestNormalize_Rejects(t *testing.T) {
	n := fixedNormalizer()
	for _, raw := range []string{`not json`, `null`, `{"status": "ended"}`, `[]`} {
		if _, err := n.Normalize([]byte(raw)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", raw, err)
		}
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]calls.Status{
		"queued":      calls.StatusQueued,
		"RINGING":     calls.StatusRinging,
		"in-progress": calls.StatusAnswered,
		"in_progress": calls.StatusAnswered,
		"ended":       calls.StatusCompleted,
		"busy":        calls.StatusFailed,
		"no-answer":   calls.StatusFailed,
		"no_answer":   calls.StatusFailed,
		"voicemail":   calls.StatusVoicemail,
		"teleported":  calls.StatusCompleted,
		"":            calls.StatusCompleted,
	}
	for in, want := range cases {
		if got := MapStatus(in); got != want {
			t.Fatalf("MapStatus(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestNormalize_EndedReasonRefinesCompleted(t *testing.T) {
	n := fixedNormalizer()
	ev, err := n.Normalize([]byte(`{"callId": "c", "status": "ended", "endedReason": "voicemail"}`))
	if err != nil || ev.Status != calls.StatusVoicemail {
		t.Fatalf("expected voicemail, got %s err=%v", ev.Status, err)
	}
	ev, err = n.Normalize([]byte(`{"callId": "c", "status": "ended", "endedReason": "customer-did-not-answer"}`))
	if err != nil || ev.Status != calls.StatusFailed {
		t.Fatalf("expected failed, got %s err=%v", ev.Status, err)
	}
}
