package template

import "time"

// dateOnly truncates t to UTC midnight. Occurrence arithmetic and the
// (template_id, due_date) uniqueness key both operate on whole days.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// clampDay returns day limited to the last valid day of year/month.
// A day-31 anchor lands on the 30th of a 30-day month; a Feb-29 anchor
// lands on Feb-28 in non-leap years.
func clampDay(year int, month time.Month, day int) int {
	if max := daysIn(year, month); day > max {
		return max
	}
	return day
}

// occurrence returns the n-th occurrence (0-based, the anchor itself being
// occurrence 0) of the recurrence rule. Monthly and yearly steps always
// derive the day from the anchor, so a clamped occurrence does not shorten
// later ones.
func occurrence(r Recurrence, anchor time.Time, n int) time.Time {
	a := dateOnly(anchor)
	switch r {
	case RecurrenceDaily:
		return a.AddDate(0, 0, n)
	case RecurrenceWeekly:
		return a.AddDate(0, 0, 7*n)
	case RecurrenceMonthly:
		y, m, d := a.Date()
		months := int(m) - 1 + n
		year := y + months/12
		month := time.Month(months%12 + 1)
		return time.Date(year, month, clampDay(year, month, d), 0, 0, 0, 0, time.UTC)
	case RecurrenceYearly:
		y, m, d := a.Date()
		return time.Date(y+n, m, clampDay(y+n, m, d), 0, 0, 0, 0, time.UTC)
	}
	return a
}

// Occurrences returns every occurrence of the rule within [from, to],
// inclusive on both ends. The none pattern never recurs and yields nothing.
func Occurrences(r Recurrence, anchor time.Time, from, to time.Time) []time.Time {
	if r == RecurrenceNone || !r.Valid() {
		return nil
	}
	from, to = dateOnly(from), dateOnly(to)
	if to.Before(from) {
		return nil
	}

	var out []time.Time
	for n := 0; ; n++ {
		occ := occurrence(r, anchor, n)
		if occ.After(to) {
			return out
		}
		if !occ.Before(from) {
			out = append(out, occ)
		}
	}
}
