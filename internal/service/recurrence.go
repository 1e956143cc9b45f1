package service

import (
	"time"

	"todobot/internal/model"
)

// NextDue computes the occurrence strictly after the pattern's current DueAt,
// in the owner's local calendar-day semantics, and returns it as a UTC
// instant. ok is false when the descriptor cannot yield a next occurrence
// (no DueAt, empty weekday set for specific_days, unset day for monthly);
// the caller must not generate in that case.
//
// The function is pure: no clock, no storage.
func NextDue(p model.Pattern, loc *time.Location) (time.Time, bool) {
	if p.DueAt == nil {
		return time.Time{}, false
	}
	cur := p.DueAt.In(loc)
	interval := p.Recurrence.Interval
	if interval < 1 {
		interval = 1
	}

	switch p.Recurrence.Kind {
	case model.RecurDaily, model.RecurInterval:
		// interval differs from daily only in its generation trigger policy,
		// not in the date delta.
		return cur.AddDate(0, 0, interval).UTC(), true

	case model.RecurWeekly:
		return cur.AddDate(0, 0, 7*interval).UTC(), true

	case model.RecurSpecificDays:
		if p.Recurrence.DaysOfWeek.IsEmpty() {
			return time.Time{}, false
		}
		// At most seven lookups; time-of-day is preserved by AddDate.
		for i := 1; i <= 7; i++ {
			cand := cur.AddDate(0, 0, i)
			if p.Recurrence.DaysOfWeek.Has(cand.Weekday()) {
				return cand.UTC(), true
			}
		}
		return time.Time{}, false

	case model.RecurMonthly:
		if p.Recurrence.DayOfMonth < 1 || p.Recurrence.DayOfMonth > 31 {
			return time.Time{}, false
		}
		// Advance to the first day of the next month, then clamp the target
		// day to the month length: day 31 in a 30-day month resolves to 30.
		first := time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, loc)
		day := p.Recurrence.DayOfMonth
		if dim := daysInMonth(first.Year(), first.Month()); day > dim {
			day = dim
		}
		next := time.Date(first.Year(), first.Month(), day,
			cur.Hour(), cur.Minute(), cur.Second(), 0, loc)
		return next.UTC(), true
	}

	return time.Time{}, false
}

// daysInMonth moves to the next month and rolls back a day.
func daysInMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1).Day()
}
