// Package phone canonicalizes phone numbers to E.164.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers without a country code.
const DefaultRegion = "US"

// NormalizeE164 formats input as E.164.
//
// Numbers libphonenumber accepts are formatted by it. Anything else falls back
// to digit rules: 10 digits are national numbers under +1, 11 digits with a
// leading 1 gain a "+", and an explicit "+" prefix is kept. Input without
// digits (e.g. "anonymous") is returned trimmed.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	if number, err := phonenumbers.Parse(trimmed, DefaultRegion); err == nil && phonenumbers.IsValidNumber(number) {
		return phonenumbers.Format(number, phonenumbers.E164)
	}

	digits := onlyDigits(trimmed)
	switch {
	case digits == "":
		return trimmed
	case strings.HasPrefix(trimmed, "+"):
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return digits
	}
}

// IsDialable reports whether s is a normalized number usable as a lead key.
func IsDialable(s string) bool {
	if !strings.HasPrefix(s, "+") {
		return false
	}
	d := onlyDigits(s)
	return len(d) >= 8 && len(d) <= 15 && len(d) == len(s)-1
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
