package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DayLayout is the wire format of calendar days.
const DayLayout = "2006-01-02"

// ParseDay parses the first ten characters of s as a calendar date.
// The result is midnight UTC and stands for a civil date, not an instant.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return time.Time{}, fmt.Errorf("parse day %q: too short", s)
	}
	d, err := time.Parse(DayLayout, s[:10])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return d, nil
}

// FormatDay renders a civil date as YYYY-MM-DD.
func FormatDay(d time.Time) string {
	return d.Format(DayLayout)
}

// Civil strips the clock and zone from t, keeping its calendar date.
func Civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two civil dates fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// ParseWeekStart maps "sunday"/"monday" to a weekday; anything else is Sunday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "monday") {
		return time.Monday
	}
	return time.Sunday
}

// StartOfWeek returns the first day of the week containing d.
func StartOfWeek(d time.Time, weekStart time.Weekday) time.Time {
	d = Civil(d)
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// WeekDays returns the seven civil dates of the week containing d.
func WeekDays(d time.Time, weekStart time.Weekday) []time.Time {
	start := StartOfWeek(d, weekStart)
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Count:   7,
		Dtstart: start,
		Wkst:    toRRuleWeekday(weekStart),
	})
	if err != nil {
		// Only reachable with a malformed option set; fall back to plain arithmetic.
		days := make([]time.Time, 7)
		for i := range days {
			days[i] = start.AddDate(0, 0, i)
		}
		return days
	}
	return r.All()
}

func toRRuleWeekday(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	}
	return rrule.SU
}
