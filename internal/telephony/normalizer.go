package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/phone"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload is returned for payloads that cannot yield a canonical event.
var ErrInvalidPayload = errors.New("telephony: invalid payload")

// Candidate field paths per canonical field, most specific first.
// Dotted paths descend into nested objects.
var (
	callIDPaths      = []string{"callId", "call_id", "call.id", "id", "CallSid"}
	numberIDPaths    = []string{"phoneNumberId", "phone_number_id", "call.phoneNumberId", "phoneNumber.id"}
	fromPaths        = []string{"from", "from_number", "fromNumber", "caller.number", "caller", "From"}
	toPaths          = []string{"to", "to_number", "toNumber", "callee.number", "called.number", "callee", "To"}
	customerPaths    = []string{"customer.number", "call.customer.number"}
	agentNumberPaths = []string{"phoneNumber.number", "call.phoneNumber.number"}
	statusPaths      = []string{"status", "call.status", "state", "CallStatus"}
	durationPaths    = []string{"durationSeconds", "duration_seconds", "duration", "call.durationSeconds", "call.duration", "CallDuration"}
	recordingPaths   = []string{"recordingUrl", "recording_url", "artifact.recordingUrl", "call.recordingUrl", "RecordingUrl"}
	transcriptPaths  = []string{"transcript", "artifact.transcript", "call.transcript"}
	summaryPaths     = []string{"summary", "analysis.summary", "call.analysis.summary"}
	endedReasonPaths = []string{"endedReason", "ended_reason", "call.endedReason"}
	outcomePaths     = []string{"outcome", "analysis.structuredData.outcome", "analysis.outcome", "metadata.outcome"}
	answeredByPaths  = []string{"answeredBy", "AnsweredBy"}
	metadataPaths    = []string{"metadata", "call.metadata", "assistantOverrides.metadata", "call.assistantOverrides.metadata"}
)

// statusTable maps provider status vocabulary onto call lifecycle statuses.
// Keys are lower case with '_' folded to '-'.
var statusTable = map[string]calls.Status{
	"queued":             calls.StatusQueued,
	"initiated":          calls.StatusQueued,
	"scheduled":          calls.StatusQueued,
	"ringing":            calls.StatusRinging,
	"in-progress":        calls.StatusAnswered,
	"answered":           calls.StatusAnswered,
	"started":            calls.StatusAnswered,
	"forwarding":         calls.StatusAnswered,
	"ended":              calls.StatusCompleted,
	"completed":          calls.StatusCompleted,
	"end-of-call-report": calls.StatusCompleted,
	"busy":               calls.StatusFailed,
	"no-answer":          calls.StatusFailed,
	"failed":             calls.StatusFailed,
	"canceled":           calls.StatusFailed,
	"cancelled":          calls.StatusFailed,
	"voicemail":          calls.StatusVoicemail,
}

// Normalizer turns provider payloads into CallEvents. It has no side effects.
type Normalizer struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{validate: validator.New(), now: time.Now}
}

// Normalize parses a JSON webhook body. An optional top-level "message"
// envelope is unwrapped first.
func (n *Normalizer) Normalize(raw []byte) (CallEvent, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return CallEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if doc == nil {
		return CallEvent{}, fmt.Errorf("%w: empty document", ErrInvalidPayload)
	}
	if msg, ok := doc["message"].(map[string]any); ok {
		doc = msg
	}
	return n.fromDocument(doc, raw)
}

func (n *Normalizer) fromDocument(doc map[string]any, raw []byte) (CallEvent, error) {
	ev := CallEvent{
		ProviderCallID:   firstString(doc, callIDPaths...),
		ProviderNumberID: firstString(doc, numberIDPaths...),
		Direction:        detectDirection(doc),
		RecordingURL:     firstString(doc, recordingPaths...),
		Transcript:       firstString(doc, transcriptPaths...),
		Summary:          firstString(doc, summaryPaths...),
		EndedReason:      firstString(doc, endedReasonPaths...),
		Outcome:          strings.ToLower(firstString(doc, outcomePaths...)),
		Metadata:         firstMap(doc, metadataPaths...),
		ReceivedAt:       n.now().UTC(),
		RawPayload:       append(json.RawMessage(nil), raw...),
	}

	from := firstString(doc, fromPaths...)
	to := firstString(doc, toPaths...)
	customer := firstString(doc, customerPaths...)
	agent := firstString(doc, agentNumberPaths...)
	if ev.Direction == calls.DirectionInbound {
		from, to = orString(from, customer), orString(to, agent)
	} else {
		from, to = orString(from, agent), orString(to, customer)
	}
	ev.FromNumber = phone.NormalizeE164(from)
	ev.ToNumber = phone.NormalizeE164(to)

	rawStatus := firstString(doc, statusPaths...)
	if rawStatus == "" && strings.EqualFold(firstString(doc, "type"), "end-of-call-report") {
		rawStatus = "ended"
	}
	ev.Status = refineStatus(MapStatus(rawStatus), ev.EndedReason, firstString(doc, answeredByPaths...))

	if d, ok := firstDuration(doc, durationPaths...); ok {
		ev.DurationSeconds = &d
	} else if d, ok := spanSeconds(doc); ok {
		ev.DurationSeconds = &d
	}

	if err := n.validate.Struct(ev); err != nil {
		return CallEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ev, nil
}

// MapStatus maps a provider status through the lookup table.
// Unknown or missing statuses degrade to completed.
func MapStatus(raw string) calls.Status {
	if s, ok := statusTable[foldKey(raw)]; ok {
		return s
	}
	return calls.StatusCompleted
}

// refineStatus lets the ended reason or answering-machine detection
// sharpen a generic completed status.
func refineStatus(s calls.Status, endedReason, answeredBy string) calls.Status {
	if s != calls.StatusCompleted {
		return s
	}
	if strings.HasPrefix(strings.ToLower(answeredBy), "machine") {
		return calls.StatusVoicemail
	}
	r := foldKey(endedReason)
	switch {
	case strings.Contains(r, "voicemail"):
		return calls.StatusVoicemail
	case strings.Contains(r, "did-not-answer"), strings.Contains(r, "no-answer"), strings.Contains(r, "busy"):
		return calls.StatusFailed
	}
	return s
}

func detectDirection(doc map[string]any) calls.Direction {
	for _, p := range []string{"direction", "call.direction", "Direction"} {
		if strings.HasPrefix(strings.ToLower(firstString(doc, p)), "inbound") {
			return calls.DirectionInbound
		}
	}
	for _, p := range []string{"type", "call.type"} {
		if strings.Contains(strings.ToLower(firstString(doc, p)), "inbound") {
			return calls.DirectionInbound
		}
	}
	return calls.DirectionOutbound
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func firstString(doc map[string]any, paths ...string) string {
	for _, p := range paths {
		if v, ok := lookup(doc, p); ok {
			if s := stringValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstMap(doc map[string]any, paths ...string) map[string]any {
	for _, p := range paths {
		if v, ok := lookup(doc, p); ok {
			if m, ok := v.(map[string]any); ok && len(m) > 0 {
				return m
			}
		}
	}
	return nil
}

func firstDuration(doc map[string]any, paths ...string) (int, bool) {
	for _, p := range paths {
		v, ok := lookup(doc, p)
		if !ok {
			continue
		}
		var f float64
		var err error
		switch t := v.(type) {
		case json.Number:
			f, err = t.Float64()
		case float64:
			f = t
		case string:
			f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
		default:
			continue
		}
		if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		return int(math.Round(f)), true
	}
	return 0, false
}

// spanSeconds derives a duration from start/end timestamps when no explicit duration is present.
func spanSeconds(doc map[string]any) (int, bool) {
	start := firstString(doc, "startedAt", "call.startedAt")
	end := firstString(doc, "endedAt", "call.endedAt")
	if start == "" || end == "" {
		return 0, false
	}
	s, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return 0, false
	}
	e, err := time.Parse(time.RFC3339Nano, end)
	if err != nil || e.Before(s) {
		return 0, false
	}
	return int(math.Round(e.Sub(s).Seconds())), true
}

func foldKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
