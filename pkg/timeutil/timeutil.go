// Package timeutil provides calendar arithmetic in a school's local time zone.
// Due dates, grace periods and aging buckets are all counted in whole local
// days, so every comparison goes through StartOfDay first.
package timeutil

import (
	"fmt"
	"time"
	_ "time/tzdata" // embedded zone database for minimal containers
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// MonthLayout is the format of monthly period keys.
const MonthLayout = "2006-01"

// Calendar performs date arithmetic in a fixed location.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar loads the named IANA location ("America/Mexico_City", "UTC").
func NewCalendar(name string) (*Calendar, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// MustCalendar is NewCalendar that panics on error. Use in tests and init code.
func MustCalendar(name string) *Calendar {
	c, err := NewCalendar(name)
	if err != nil {
		panic(err)
	}
	return c
}

// UTC returns a calendar in UTC.
func UTC() *Calendar {
	return &Calendar{loc: time.UTC, now: time.Now}
}

// WithClock returns a copy of the calendar using now as its clock.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

// Location returns the calendar location.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the calendar location.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the start of the current local day.
func (c *Calendar) Today() time.Time {
	return c.StartOfDay(c.Now())
}

// Date creates a local midnight for the given date.
func (c *Calendar) Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, c.loc)
}

// StartOfDay returns local midnight of the day containing t.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.loc)
}

// StartOfMonth returns local midnight of the first day of t's month.
func (c *Calendar) StartOfMonth(t time.Time) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, c.loc)
}

// AddDays adds n calendar days.
func (c *Calendar) AddDays(t time.Time, n int) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, n)
}

// DaysBetween returns the number of whole local days from t1 to t2.
// The result is negative when t2 is before t1.
func (c *Calendar) DaysBetween(t1, t2 time.Time) int {
	// Compare civil dates in UTC so DST shifts cannot skew the count.
	a := civil(t1.In(c.loc))
	b := civil(t2.In(c.loc))
	return int(b.Sub(a).Hours() / 24)
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsAfterDay reports whether t is on a later local day than ref.
func (c *Calendar) IsAfterDay(t, ref time.Time) bool {
	return c.StartOfDay(t).After(c.StartOfDay(ref))
}

// SameMonth reports whether both instants fall in the same local month.
func (c *Calendar) SameMonth(t1, t2 time.Time) bool {
	a, b := t1.In(c.loc), t2.In(c.loc)
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// MonthKey returns the "YYYY-MM" key of t's local month.
func (c *Calendar) MonthKey(t time.Time) string {
	return t.In(c.loc).Format(MonthLayout)
}

// ParseDate parses a YYYY-MM-DD date as local midnight.
func (c *Calendar) ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, c.loc)
}

// FormatDate renders t as a local YYYY-MM-DD date.
func (c *Calendar) FormatDate(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}
