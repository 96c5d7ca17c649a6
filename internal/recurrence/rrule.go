package recurrence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dukerupert/pocketmoney/internal/model"
)

type Kind int

const (
	OneTime Kind = iota
	Daily
	Weekly
	Monthly
)

var kindNames = map[Kind]string{
	OneTime: "ONCE",
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
}

var kindFromName = map[string]Kind{
	"ONCE":    OneTime,
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// Rule is a chore template's recurrence.
type Rule struct {
	Kind       Kind
	Days       []time.Weekday // Weekly only
	DayOfMonth int            // Monthly only, 1-31
}

func Once() Rule { return Rule{Kind: OneTime} }
func EveryDay() Rule { return Rule{Kind: Daily} }
func MonthlyOn(day int) Rule { return Rule{Kind: Monthly, DayOfMonth: day} }

func WeeklyOn(days ...time.Weekday) Rule {
	return Rule{Kind: Weekly, Days: normalizeDays(days)}
}

// Parse parses a rule string like "FREQ=WEEKLY;BYDAY=MO,WE,FR" or
// "FREQ=MONTHLY;BYMONTHDAY=15".
func Parse(rule string) (Rule, error) {
	if strings.TrimSpace(rule) == "" {
		return Rule{}, fmt.Errorf("%w: empty rule", model.ErrInvalidRecurrence)
	}

	var r Rule
	var hasFreq bool

	for _, part := range strings.Split(rule, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return Rule{}, fmt.Errorf("%w: invalid rule part %q", model.ErrInvalidRecurrence, part)
		}
		key, val := strings.ToUpper(strings.TrimSpace(kv[0])), strings.ToUpper(strings.TrimSpace(kv[1]))

		switch key {
		case "FREQ":
			k, ok := kindFromName[val]
			if !ok {
				return Rule{}, fmt.Errorf("%w: unknown frequency %q", model.ErrInvalidRecurrence, val)
			}
			r.Kind = k
			hasFreq = true

		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				wd, ok := dayNames[strings.TrimSpace(d)]
				if !ok {
					return Rule{}, fmt.Errorf("%w: unknown day %q", model.ErrInvalidRecurrence, d)
				}
				r.Days = append(r.Days, wd)
			}

		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: invalid BYMONTHDAY %q", model.ErrInvalidRecurrence, val)
			}
			r.DayOfMonth = n

		default:
			return Rule{}, fmt.Errorf("%w: unsupported rule key %q", model.ErrInvalidRecurrence, key)
		}
	}

	if !hasFreq {
		return Rule{}, fmt.Errorf("%w: FREQ is required", model.ErrInvalidRecurrence)
	}
	r.Days = normalizeDays(r.Days)
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate checks that the rule carries exactly the fields its kind needs.
func (r Rule) Validate() error {
	switch r.Kind {
	case OneTime, Daily:
		if len(r.Days) > 0 || r.DayOfMonth != 0 {
			return fmt.Errorf("%w: %s takes no BYDAY or BYMONTHDAY", model.ErrInvalidRecurrence, kindNames[r.Kind])
		}
	case Weekly:
		if len(r.Days) == 0 {
			return fmt.Errorf("%w: WEEKLY needs at least one BYDAY", model.ErrInvalidRecurrence)
		}
		if r.DayOfMonth != 0 {
			return fmt.Errorf("%w: WEEKLY takes no BYMONTHDAY", model.ErrInvalidRecurrence)
		}
	case Monthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("%w: BYMONTHDAY must be 1-31", model.ErrInvalidRecurrence)
		}
		if len(r.Days) > 0 {
			return fmt.Errorf("%w: MONTHLY takes no BYDAY", model.ErrInvalidRecurrence)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", model.ErrInvalidRecurrence, r.Kind)
	}
	return nil
}

// String serializes the rule back to its stored form.
func (r Rule) String() string {
	parts := []string{"FREQ=" + kindNames[r.Kind]}

	if len(r.Days) > 0 {
		var days []string
		for _, d := range r.Days {
			days = append(days, dayAbbrev[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	if r.DayOfMonth > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.DayOfMonth))
	}

	return strings.Join(parts, ";")
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	switch r.Kind {
	case OneTime:
		return "One time"
	case Daily:
		return "Every day"
	case Weekly:
		var names []string
		for _, d := range r.Days {
			names = append(names, d.String()[:3])
		}
		return "Every week on " + strings.Join(names, ", ")
	case Monthly:
		return "Monthly on the " + humanize.Ordinal(r.DayOfMonth)
	}
	return ""
}

func (r Rule) hasDay(wd time.Weekday) bool {
	return slices.Contains(r.Days, wd)
}

// normalizeDays dedupes and orders days Monday first.
func normalizeDays(days []time.Weekday) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := slices.Clone(days)
	slices.SortFunc(out, func(a, b time.Weekday) int {
		return mondayIndex(a) - mondayIndex(b)
	})
	return slices.Compact(out)
}

func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
