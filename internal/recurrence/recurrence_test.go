package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/pocketmoney/internal/model"
)

func date(y int, m time.Month, d int) model.Date {
	return model.Date{Year: y, Month: m, Day: d}
}

func TestParseKinds(t *testing.T) {
	tests := []struct {
		input string
		want  Rule
	}{
		{"FREQ=ONCE", Once()},
		{"FREQ=DAILY", EveryDay()},
		{"FREQ=WEEKLY;BYDAY=MO,WE,FR", WeeklyOn(time.Monday, time.Wednesday, time.Friday)},
		{"FREQ=MONTHLY;BYMONTHDAY=15", MonthlyOn(15)},
		{"freq=weekly;byday=fr,mo", WeeklyOn(time.Monday, time.Friday)},
	}

	for _, tt := range tests {
		r, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		if r.String() != tt.want.String() {
			t.Errorf("Parse(%q) = %s, want %s", tt.input, r, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"BYDAY=MO",
		"FREQ=HOURLY",
		"FREQ=WEEKLY",
		"FREQ=WEEKLY;BYDAY=XX",
		"FREQ=MONTHLY",
		"FREQ=MONTHLY;BYMONTHDAY=32",
		"FREQ=MONTHLY;BYMONTHDAY=abc",
		"FREQ=DAILY;BYDAY=MO",
		"FREQ=DAILY;INTERVAL=2",
		"FREQ",
	}

	for _, input := range tests {
		_, err := Parse(input)
		if !errors.Is(err, model.ErrInvalidRecurrence) {
			t.Errorf("Parse(%q) err = %v, want ErrInvalidRecurrence", input, err)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	rules := []Rule{
		Once(),
		EveryDay(),
		WeeklyOn(time.Sunday, time.Saturday, time.Sunday),
		MonthlyOn(31),
	}
	for _, r := range rules {
		parsed, err := Parse(r.String())
		if err != nil {
			t.Errorf("Parse(%q) error: %v", r.String(), err)
			continue
		}
		if parsed.String() != r.String() {
			t.Errorf("round trip %q -> %q", r.String(), parsed.String())
		}
	}

	if got := WeeklyOn(time.Sunday, time.Monday, time.Monday).String(); got != "FREQ=WEEKLY;BYDAY=MO,SU" {
		t.Errorf("normalized days = %q", got)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		rule Rule
		want string
	}{
		{Once(), "One time"},
		{EveryDay(), "Every day"},
		{WeeklyOn(time.Monday, time.Wednesday), "Every week on Mon, Wed"},
		{MonthlyOn(1), "Monthly on the 1st"},
		{MonthlyOn(22), "Monthly on the 22nd"},
	}
	for _, tt := range tests {
		if got := tt.rule.Describe(); got != tt.want {
			t.Errorf("Describe(%s) = %q, want %q", tt.rule, got, tt.want)
		}
	}
}

func TestEligible(t *testing.T) {
	monday := date(2026, 3, 2)
	sunday := date(2026, 3, 1)
	tests := []struct {
		name  string
		rule  Rule
		last  *model.Date
		today model.Date
		want  bool
	}{
		{"daily never generated", EveryDay(), nil, monday, true},
		{"daily generated yesterday", EveryDay(), &sunday, monday, true},
		{"daily generated today", EveryDay(), &monday, monday, false},
		{"daily generated in the future", EveryDay(), &monday, sunday, false},
		{"weekly on matching day", WeeklyOn(time.Monday), &sunday, monday, true},
		{"weekly on other day", WeeklyOn(time.Tuesday), nil, monday, false},
		{"weekly matching but already today", WeeklyOn(time.Monday), &monday, monday, false},
		{"monthly matching day", MonthlyOn(2), nil, monday, true},
		{"monthly other day", MonthlyOn(3), nil, monday, false},
		{"one time first", Once(), nil, monday, true},
		{"one time already generated", Once(), &sunday, monday, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.rule, tt.last, tt.today); got != tt.want {
				t.Errorf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonthlySkipsShortMonths(t *testing.T) {
	got := Occurrences(MonthlyOn(31), date(2026, 1, 1), date(2026, 5, 31))
	want := []model.Date{date(2026, 1, 31), date(2026, 3, 31), date(2026, 5, 31)}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestWeeklyOccurrencesOverTwoWeeks(t *testing.T) {
	got := Occurrences(WeeklyOn(time.Monday, time.Wednesday, time.Friday), date(2026, 3, 2), date(2026, 3, 15))
	if len(got) != 6 {
		t.Fatalf("got %d occurrences (%v), want 6", len(got), got)
	}
	for _, d := range got {
		switch d.Weekday() {
		case time.Monday, time.Wednesday, time.Friday:
		default:
			t.Errorf("unexpected weekday %s for %s", d.Weekday(), d)
		}
	}
}

func TestOneTimeOccursOnce(t *testing.T) {
	got := Occurrences(Once(), date(2026, 3, 2), date(2026, 3, 31))
	if len(got) != 1 || !got[0].Equal(date(2026, 3, 2)) {
		t.Errorf("got %v, want [2026-03-02]", got)
	}
}

func TestDueDate(t *testing.T) {
	denver, _ := time.LoadLocation("America/Denver")
	day := date(2026, 3, 2)

	if got, want := DueDate(day, denver, nil), time.Date(2026, 3, 3, 0, 0, 0, 0, denver); !got.Equal(want) {
		t.Errorf("default due = %v, want %v", got, want)
	}
	after := 18 * time.Hour
	if got, want := DueDate(day, denver, &after), time.Date(2026, 3, 2, 18, 0, 0, 0, denver); !got.Equal(want) {
		t.Errorf("due after 18h = %v, want %v", got, want)
	}
}
