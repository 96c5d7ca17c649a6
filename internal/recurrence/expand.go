package recurrence

import (
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
)

// Eligible reports whether a template with rule r should produce an instance
// for today, given the last local date it generated one for. It is pure:
// callers supply today in the account's timezone.
func Eligible(r Rule, lastGenerated *model.Date, today model.Date) bool {
	// Covers "already generated today" and a clock that stepped back.
	if lastGenerated != nil && !lastGenerated.Before(today) {
		return false
	}

	switch r.Kind {
	case OneTime:
		return lastGenerated == nil
	case Daily:
		return true
	case Weekly:
		return r.hasDay(today.Weekday())
	case Monthly:
		// Months without DayOfMonth are skipped, not clamped.
		return today.Day == r.DayOfMonth
	}
	return false
}

// DueDate returns the due instant for an instance generated on today: local
// midnight plus dueAfter, or the end of the local day when dueAfter is nil.
func DueDate(today model.Date, loc *time.Location, dueAfter *time.Duration) time.Time {
	if dueAfter == nil {
		return today.AddDays(1).Midnight(loc)
	}
	return today.Midnight(loc).Add(*dueAfter)
}

// Occurrences lists the local dates in [from, to] on which r would generate,
// assuming nothing was generated before from.
func Occurrences(r Rule, from, to model.Date) []model.Date {
	var out []model.Date
	var last *model.Date
	for d := from; !to.Before(d); d = d.AddDays(1) {
		if Eligible(r, last, d) {
			out = append(out, d)
			day := d
			last = &day
		}
	}
	return out
}
