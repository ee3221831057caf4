// Package calendar implements working-day arithmetic on civil dates.
//
// All dates are normalized to midnight UTC. A working day is any day that is
// not Saturday or Sunday and, when the calendar carries an extra excluded
// weekday, not that weekday either.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar-day layout used at every store boundary.
const DateLayout = "2006-01-02"

// Calendar counts working days. The zero value is the standard Monday to
// Friday calendar.
type Calendar struct {
	extra    time.Weekday
	hasExtra bool
}

// Standard returns the Monday to Friday calendar.
func Standard() Calendar {
	return Calendar{}
}

// New returns a calendar that additionally skips extra when excludeExtra is set.
// With excludeExtra false it is identical to Standard.
func New(extra time.Weekday, excludeExtra bool) Calendar {
	if !excludeExtra {
		return Standard()
	}
	return Calendar{extra: extra, hasExtra: true}
}

// ExcludesExtra reports whether an extra weekday is skipped.
func (c Calendar) ExcludesExtra() bool {
	return c.hasExtra
}

// IsWorkingDay reports whether the calendar day of t is a working day.
func (c Calendar) IsWorkingDay(t time.Time) bool {
	switch wd := t.Weekday(); {
	case wd == time.Saturday || wd == time.Sunday:
		return false
	case c.hasExtra && wd == c.extra:
		return false
	default:
		return true
	}
}

// AddWorkingDays moves date by days working days. Negative values walk
// backward. Zero returns the (normalized) input date unchanged, even when it
// is not itself a working day.
func (c Calendar) AddWorkingDays(date time.Time, days int) time.Time {
	cur := Day(date)
	step := 1
	if days < 0 {
		step = -1
		days = -days
	}
	for days > 0 {
		cur = cur.AddDate(0, 0, step)
		if c.IsWorkingDay(cur) {
			days--
		}
	}
	return cur
}

// SubWorkingDays is AddWorkingDays with the sign flipped.
func (c Calendar) SubWorkingDays(date time.Time, days int) time.Time {
	return c.AddWorkingDays(date, -days)
}

// Day truncates t to its calendar day at midnight UTC. The year, month and
// day are read in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day. Two zero
// times are the same day; a zero and a non-zero time are not.
func SameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() == b.IsZero()
	}
	return Day(a).Equal(Day(b))
}

// Format renders t as an ISO calendar day. The zero time renders as "".
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return Day(t).Format(DateLayout)
}

// Parse reads an ISO calendar day. Full RFC 3339 timestamps are accepted and
// truncated, since some stores hand back date fields with a time part.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: invalid date", s)
	}
	return Day(t), nil
}

// ParseWeekday resolves an English weekday name such as "Friday".
func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d.String() == name {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", name)
}
