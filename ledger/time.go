package ledger

import "time"

// =============================================================================
// TIME - Pure helpers, the reference time is always explicit
// =============================================================================

// Clock returns the current time. Services take one so tests can pin "now".
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Quarter is a calendar quarter [Start, End).
type Quarter struct {
	Start time.Time
	End   time.Time
}

// QuarterOf returns the calendar quarter containing at, in at's location.
func QuarterOf(at time.Time) Quarter {
	firstMonth := time.Month((int(at.Month())-1)/3*3 + 1)
	start := time.Date(at.Year(), firstMonth, 1, 0, 0, 0, 0, at.Location())
	return Quarter{Start: start, End: start.AddDate(0, 3, 0)}
}

func (q Quarter) Contains(t time.Time) bool {
	return !t.Before(q.Start) && t.Before(q.End)
}

// SameQuarter reports whether a and b fall in the same calendar quarter.
func SameQuarter(a, b time.Time) bool {
	return QuarterOf(a).Contains(b)
}

// InNonCallPeriod reports whether a sale at `at` is still blocked.
// A zero NonCallPeriod never blocks.
func InNonCallPeriod(h *Holding, at time.Time) bool {
	if h.NonCallPeriod.IsZero() {
		return false
	}
	return at.Before(h.NonCallPeriod)
}
