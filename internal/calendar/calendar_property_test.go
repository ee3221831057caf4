package calendar

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func genDate(t *rapid.T) time.Time {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, rapid.IntRange(0, 3650).Draw(t, "offset"))
}

func genCalendar(t *rapid.T) Calendar {
	extra := time.Weekday(rapid.IntRange(1, 5).Draw(t, "extra"))
	return New(extra, rapid.Bool().Draw(t, "exclude"))
}

func TestProperty_ZeroDaysIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genDate(t)
		cal := genCalendar(t)
		if got := cal.AddWorkingDays(d, 0); !got.Equal(d) {
			t.Fatalf("AddWorkingDays(%s, 0) = %s", d, got)
		}
	})
}

func TestProperty_CountsExactlyNWorkingDays(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genDate(t)
		cal := genCalendar(t)
		n := rapid.IntRange(0, 120).Draw(t, "n")

		got := cal.AddWorkingDays(d, n)

		counted := 0
		for cur := d.AddDate(0, 0, 1); !cur.After(got); cur = cur.AddDate(0, 0, 1) {
			if cal.IsWorkingDay(cur) {
				counted++
			}
		}
		if counted != n {
			t.Fatalf("walked %d working days, want %d", counted, n)
		}
		if n > 0 && !cal.IsWorkingDay(got) {
			t.Fatalf("landed on non-working day %s", got.Weekday())
		}
	})
}

func TestProperty_Monotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genDate(t)
		cal := genCalendar(t)
		a := rapid.IntRange(-200, 200).Draw(t, "a")
		b := rapid.IntRange(-200, 200).Draw(t, "b")
		if a > b {
			a, b = b, a
		}
		if cal.AddWorkingDays(d, a).After(cal.AddWorkingDays(d, b)) {
			t.Fatalf("not monotonic for %d <= %d", a, b)
		}
	})
}

func TestProperty_BackwardUndoesForwardOnWorkingDays(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cal := genCalendar(t)
		d := genDate(t)
		for !cal.IsWorkingDay(d) {
			d = d.AddDate(0, 0, 1)
		}
		n := rapid.IntRange(0, 120).Draw(t, "n")
		if got := cal.SubWorkingDays(cal.AddWorkingDays(d, n), n); !got.Equal(d) {
			t.Fatalf("round trip of %d days from %s gave %s", n, d, got)
		}
	})
}

func TestProperty_ExtraWeekdayNeverLandedOn(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		extra := time.Weekday(rapid.IntRange(1, 5).Draw(t, "extra"))
		cal := New(extra, true)
		n := rapid.IntRange(1, 60).Draw(t, "n")
		if rapid.Bool().Draw(t, "backward") {
			n = -n
		}
		got := cal.AddWorkingDays(genDate(t), n)
		if wd := got.Weekday(); wd == extra || wd == time.Saturday || wd == time.Sunday {
			t.Fatalf("landed on excluded %s", wd)
		}
	})
}
