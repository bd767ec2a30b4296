package concept

import (
	"fmt"
	"time"
)

// Periodicity is how often a recurring concept issues a charge.
type Periodicity string

const (
	PeriodicityNone       Periodicity = "none"
	PeriodicityWeekly     Periodicity = "weekly"
	PeriodicityMonthly    Periodicity = "monthly"
	PeriodicityBimonthly  Periodicity = "bimonthly"
	PeriodicityQuarterly  Periodicity = "quarterly"
	PeriodicitySemiannual Periodicity = "semiannual"
	PeriodicityAnnual     Periodicity = "annual"
)

// OneTimePeriodKey is the period key of non-recurring charges.
const OneTimePeriodKey = "once"

// IsValid reports whether p is a known periodicity.
func (p Periodicity) IsValid() bool {
	switch p {
	case PeriodicityNone, PeriodicityWeekly, PeriodicityMonthly, PeriodicityBimonthly,
		PeriodicityQuarterly, PeriodicitySemiannual, PeriodicityAnnual:
		return true
	}
	return false
}

// Period is one billing window of a recurring concept.
type Period struct {
	Key   string
	Start time.Time
}

// PeriodOf returns the billing period containing t, in t's location.
func (p Periodicity) PeriodOf(t time.Time) Period {
	y, m, d := t.Date()
	loc := t.Location()
	month := int(m)

	switch p {
	case PeriodicityWeekly:
		offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
		start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		wy, wk := start.ISOWeek()
		return Period{Key: fmt.Sprintf("%d-W%02d", wy, wk), Start: start}
	case PeriodicityMonthly:
		return Period{Key: fmt.Sprintf("%d-%02d", y, month), Start: time.Date(y, m, 1, 0, 0, 0, 0, loc)}
	case PeriodicityBimonthly:
		idx := (month - 1) / 2
		return Period{Key: fmt.Sprintf("%d-B%d", y, idx+1), Start: time.Date(y, time.Month(idx*2+1), 1, 0, 0, 0, 0, loc)}
	case PeriodicityQuarterly:
		idx := (month - 1) / 3
		return Period{Key: fmt.Sprintf("%d-Q%d", y, idx+1), Start: time.Date(y, time.Month(idx*3+1), 1, 0, 0, 0, 0, loc)}
	case PeriodicitySemiannual:
		idx := (month - 1) / 6
		return Period{Key: fmt.Sprintf("%d-H%d", y, idx+1), Start: time.Date(y, time.Month(idx*6+1), 1, 0, 0, 0, 0, loc)}
	case PeriodicityAnnual:
		return Period{Key: fmt.Sprintf("%d", y), Start: time.Date(y, time.January, 1, 0, 0, 0, 0, loc)}
	default:
		return Period{Key: OneTimePeriodKey, Start: time.Date(y, m, d, 0, 0, 0, 0, loc)}
	}
}

// DueDate returns the due date of the period for a concept due on dueDay.
// Weekly periods clamp the offset to the same week.
func (p Periodicity) DueDate(period Period, dueDay int) time.Time {
	offset := dueDay - 1
	if offset < 0 {
		offset = 0
	}
	if p == PeriodicityWeekly && offset > 6 {
		offset = 6
	}
	return period.Start.AddDate(0, 0, offset)
}
