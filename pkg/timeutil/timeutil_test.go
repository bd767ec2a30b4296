package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_DaysBetween(t *testing.T) {
	cal := MustCalendar("America/Mexico_City")

	from := cal.Date(2025, time.March, 10)
	assert.Equal(t, 0, cal.DaysBetween(from, from.Add(23*time.Hour)))
	assert.Equal(t, 1, cal.DaysBetween(from, cal.Date(2025, time.March, 11)))
	assert.Equal(t, 31, cal.DaysBetween(from, cal.Date(2025, time.April, 10)))
	assert.Equal(t, -5, cal.DaysBetween(from, cal.Date(2025, time.March, 5)))
}

func TestCalendar_StartOfDayUsesLocation(t *testing.T) {
	cal := MustCalendar("America/Mexico_City")

	// 03:00 UTC on the 11th is still the 10th in Mexico City.
	instant := time.Date(2025, time.March, 11, 3, 0, 0, 0, time.UTC)
	day := cal.StartOfDay(instant)

	assert.Equal(t, 10, day.Day())
	assert.Equal(t, "2025-03-10", cal.FormatDate(instant))
}

func TestCalendar_MonthKeyAndSameMonth(t *testing.T) {
	cal := UTC()

	a := cal.Date(2025, time.January, 31)
	b := cal.Date(2025, time.February, 1)

	assert.Equal(t, "2025-01", cal.MonthKey(a))
	assert.False(t, cal.SameMonth(a, b))
	assert.True(t, cal.SameMonth(b, cal.Date(2025, time.February, 28)))
}

func TestCalendar_ParseDate(t *testing.T) {
	cal := UTC()

	d, err := cal.ParseDate("2025-08-15")
	require.NoError(t, err)
	assert.Equal(t, cal.Date(2025, time.August, 15), d)

	_, err = cal.ParseDate("15/08/2025")
	assert.Error(t, err)
}

func TestCalendar_WithClock(t *testing.T) {
	fixed := time.Date(2025, time.May, 5, 18, 30, 0, 0, time.UTC)
	cal := UTC().WithClock(func() time.Time { return fixed })

	assert.Equal(t, cal.Date(2025, time.May, 5), cal.Today())
	assert.True(t, cal.IsAfterDay(cal.AddDays(fixed, 1), fixed))
}
