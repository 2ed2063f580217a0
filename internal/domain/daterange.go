package domain

import "time"

// DateRange is an inclusive interval of calendar days. Both endpoints are
// rental days: a booking from June 1 to June 3 occupies three days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	dr := DateRange{Start: truncateToDay(start), End: truncateToDay(end)}
	if dr.Start.IsZero() || dr.End.IsZero() {
		return DateRange{}, ErrInvalidInput
	}
	if dr.End.Before(dr.Start) {
		return DateRange{}, ErrInvalidInput
	}
	return dr, nil
}

// Days returns the inclusive day count.
func (dr DateRange) Days() int {
	return int(dr.End.Sub(dr.Start).Hours()/24) + 1
}

// EachDay lists every day in the range, in order.
func (dr DateRange) EachDay() []time.Time {
	days := make([]time.Time, 0, dr.Days())
	for d := dr.Start; !d.After(dr.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (dr DateRange) Overlaps(other DateRange) bool {
	return !dr.Start.After(other.End) && !other.Start.After(dr.End)
}

func (dr DateRange) ContainsDay(t time.Time) bool {
	t = truncateToDay(t)
	return !t.Before(dr.Start) && !t.After(dr.End)
}

// RemainingFrom returns the unconsumed tail of the range as of now: for a
// cancellation mid-rental only the days from today onward are released.
// The second result is false when every day is already in the past.
func (dr DateRange) RemainingFrom(now time.Time) (DateRange, bool) {
	today := truncateToDay(now)
	if today.After(dr.End) {
		return DateRange{}, false
	}
	if today.Before(dr.Start) {
		return dr, true
	}
	return DateRange{Start: today, End: dr.End}, true
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
