package leads

import "voiceagent-platform/internal/calls"

// Score factor names as stored in score_factors.
const (
	FactorBase          = "base"
	FactorConnected     = "connected"
	FactorLongCall      = "long_call"
	FactorInterested    = "interested"
	FactorCallback      = "callback_requested"
	FactorBooked        = "booked"
	FactorNotInterested = "not_interested"
	FactorVoicemail     = "voicemail"
	FactorFailed        = "failed"
)

// LongCallSeconds is the duration from which a conversation counts as engaged.
const LongCallSeconds = 120

// Score computes a lead score from the latest terminal call.
// It returns the clamped score and the factors that produced it.
func Score(c calls.Call) (int, map[string]int) {
	factors := map[string]int{FactorBase: BaseScore}

	switch c.Status {
	case calls.StatusAnswered, calls.StatusCompleted:
		factors[FactorConnected] = 10
	case calls.StatusVoicemail:
		factors[FactorVoicemail] = -5
	case calls.StatusFailed:
		factors[FactorFailed] = -5
	}
	if c.DurationSeconds >= LongCallSeconds {
		factors[FactorLongCall] = 10
	}

	switch calls.CanonicalOutcome(c.Outcome) {
	case calls.OutcomeInterested:
		factors[FactorInterested] = 20
	case calls.OutcomeCallback:
		factors[FactorCallback] = 10
	case calls.OutcomeBooked:
		factors[FactorBooked] = 30
	case calls.OutcomeNotInterested:
		factors[FactorNotInterested] = -30
	}

	total := 0
	for _, v := range factors {
		total += v
	}
	return clampScore(total), factors
}

func clampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// StatusForOutcome maps a call outcome onto the lead status it implies.
// ok is false when the outcome does not move the lead.
func StatusForOutcome(outcome string) (Status, bool) {
	switch calls.CanonicalOutcome(outcome) {
	case calls.OutcomeInterested:
		return StatusInterested, true
	case calls.OutcomeCallback:
		return StatusCallBack, true
	case calls.OutcomeNotInterested:
		return StatusNotInterested, true
	case calls.OutcomeBooked:
		return StatusBooked, true
	default:
		return "", false
	}
}
