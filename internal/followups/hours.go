package followups

import "time"

const (
	businessOpenHour  = 9
	businessCloseHour = 17
)

// SnapToBusinessHours moves t into business hours in loc.
//
// Before 09:00 snaps to 09:00 the same day; at or after 17:00 snaps to
// 09:00 the next day. A result on Saturday moves two days and on Sunday
// one day, landing on Monday 09:00. Times inside business hours on a
// weekday are returned unchanged.
func SnapToBusinessHours(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	open := time.Date(y, m, d, businessOpenHour, 0, 0, 0, loc)

	switch {
	case local.Hour() < businessOpenHour:
		local = open
	case local.Hour() >= businessCloseHour:
		local = open.AddDate(0, 0, 1)
	}

	switch local.Weekday() {
	case time.Saturday:
		y, m, d = local.AddDate(0, 0, 2).Date()
		local = time.Date(y, m, d, businessOpenHour, 0, 0, 0, loc)
	case time.Sunday:
		y, m, d = local.AddDate(0, 0, 1).Date()
		local = time.Date(y, m, d, businessOpenHour, 0, 0, 0, loc)
	}
	return local
}
