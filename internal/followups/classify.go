package followups

import (
	"strings"

	"voiceagent-platform/internal/calls"
)

// ClassifyOutcome maps a terminal call onto a trigger status.
// ok is false when no follow-up rule applies to the outcome.
func ClassifyOutcome(c calls.Call) (TriggerStatus, bool) {
	if !c.Status.IsTerminal() {
		return "", false
	}
	reason := strings.ToLower(c.EndedReason)

	switch {
	case c.Status == calls.StatusVoicemail || strings.Contains(reason, "voicemail"):
		return TriggerVoicemail, true
	case c.Status == calls.StatusFailed,
		strings.Contains(reason, "no-answer"), strings.Contains(reason, "no_answer"),
		strings.Contains(reason, "did-not-answer"), strings.Contains(reason, "busy"):
		return TriggerNoAnswer, true
	}

	switch calls.CanonicalOutcome(c.Outcome) {
	case calls.OutcomeCallback:
		return TriggerCallback, true
	case calls.OutcomeInterested:
		return TriggerInterested, true
	}
	return "", false
}
