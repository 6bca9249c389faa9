package workflows

import "strings"

// Matches reports whether ev satisfies the config.
//
// Threshold matches on a crossing: previous < threshold <= current. With no
// previous score, current >= threshold.
func (c TriggerConfig) Matches(ev Event) bool {
	if c.Status != "" && !strings.EqualFold(c.Status, ev.Status) {
		return false
	}
	if c.FromStatus != "" && !strings.EqualFold(c.FromStatus, ev.PreviousStatus) {
		return false
	}
	if c.Direction != "" && !strings.EqualFold(c.Direction, ev.Direction) {
		return false
	}
	if c.Threshold != nil {
		if ev.Score < *c.Threshold {
			return false
		}
		if ev.PreviousScore != nil && *ev.PreviousScore >= *c.Threshold {
			return false
		}
	}
	return true
}
