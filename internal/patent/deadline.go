package patent

import "time"

// PGRWindowMonths is the statutory Post-Grant Review window after grant.
const PGRWindowMonths = 9

// PGRDeadline returns the issue date shifted forward by nine calendar
// months. When the day-of-month does not exist in the target month the
// last valid day is used (May 31 + 9 months = Feb 28/29).
func PGRDeadline(issueDate time.Time) time.Time {
	return addMonthsClamped(issueDate, PGRWindowMonths)
}

// MonthsRemaining returns the signed distance from today to the PGR
// deadline, as whole calendar months plus a day remainder divided by 30.
// The day/30 remainder is deliberate: urgency thresholds are calibrated
// against it, so it must not be replaced with true fractional months.
func MonthsRemaining(issueDate, today time.Time) float64 {
	deadline := PGRDeadline(issueDate)
	if deadline.Before(today) {
		return -monthsBetween(today, deadline)
	}
	return monthsBetween(deadline, today)
}

// UrgencyAt buckets the remaining time at the given evaluation date.
func UrgencyAt(issueDate, today time.Time) Urgency {
	remaining := MonthsRemaining(issueDate, today)
	switch {
	case remaining <= 0:
		return UrgencyExpired
	case remaining < 3:
		return UrgencyHigh
	case remaining < 6:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// PGRDeadline is derived from the issue date and never stored.
func (p Patent) PGRDeadline() time.Time {
	return PGRDeadline(p.IssueDate)
}

func (p Patent) PGRMonthsRemaining(today time.Time) float64 {
	return MonthsRemaining(p.IssueDate, today)
}

func (p Patent) Urgency(today time.Time) Urgency {
	return UrgencyAt(p.IssueDate, today)
}

// monthsBetween computes the delta from b forward to a (a >= b): the
// number of whole calendar months, plus leftover days over 30.
func monthsBetween(a, b time.Time) float64 {
	months := (a.Year()-b.Year())*12 + int(a.Month()) - int(b.Month())
	anchor := addMonthsClamped(b, months)
	if anchor.After(a) {
		months--
		anchor = addMonthsClamped(b, months)
	}
	days := int(a.Sub(anchor).Hours() / 24)
	return float64(months) + float64(days)/30.0
}

// addMonthsClamped shifts t by n calendar months, clamping the day to the
// last valid day of the target month instead of letting it roll over.
func addMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	m := int(month) - 1 + n
	year += m / 12
	m %= 12
	if m < 0 {
		m += 12
		year--
	}
	targetMonth := time.Month(m + 1)
	if last := lastDayOfMonth(year, targetMonth); day > last {
		day = last
	}
	return time.Date(year, targetMonth, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
