package concept

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

func validParams() Params {
	return Params{
		SchoolID:        "school-1",
		TermID:          "term-1",
		Name:            "Tuition",
		BaseAmount:      decimal.NewFromInt(1000),
		DiscountCeiling: decimal.NewFromInt(20),
		GracePeriodDays: 5,
	}
}

func TestNew_Defaults(t *testing.T) {
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	c, err := New(validParams(), now)
	require.NoError(t, err)

	assert.True(t, c.Active)
	assert.Equal(t, PeriodicityNone, c.Periodicity)
	assert.Equal(t, DefaultDueDay, c.DueDay)
	assert.True(t, shared.IsValidID(c.ID))
	assert.Equal(t, now, c.CreatedAt)
}

func TestNew_AggregatesViolations(t *testing.T) {
	p := validParams()
	p.BaseAmount = decimal.NewFromInt(-1)
	p.DiscountCeiling = decimal.NewFromInt(101)
	p.GracePeriodDays = -3

	_, err := New(p, time.Now())
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	fields := make([]string, 0)
	for _, v := range shared.ViolationsOf(err) {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"base_amount", "discount_ceiling", "grace_period_days"}, fields)
}

func TestNew_RecurringNeedsPeriodicity(t *testing.T) {
	p := validParams()
	p.Recurring = true

	_, err := New(p, time.Now())
	require.Error(t, err)
	assert.Equal(t, "periodicity", shared.ViolationsOf(err)[0].Field)
}

func TestNew_BoundaryValuesAccepted(t *testing.T) {
	p := validParams()
	p.BaseAmount = decimal.Zero
	p.DiscountCeiling = decimal.NewFromInt(100)
	p.GracePeriodDays = 0
	rate := decimal.Zero
	p.LateFeeRate = &rate

	_, err := New(p, time.Now())
	assert.NoError(t, err)
}

func TestDeactivate(t *testing.T) {
	c, err := New(validParams(), time.Now())
	require.NoError(t, err)

	require.NoError(t, c.Deactivate("admin-1", time.Now()))
	assert.False(t, c.Active)
	assert.Equal(t, "admin-1", c.DeactivatedBy)
	assert.ErrorIs(t, c.CanIssueCharges(), shared.ErrPolicyViolation)

	assert.ErrorIs(t, c.Deactivate("admin-1", time.Now()), shared.ErrStateTransition)
}

func TestEffectiveLateFeeRate(t *testing.T) {
	c, err := New(validParams(), time.Now())
	require.NoError(t, err)

	def := decimal.NewFromInt(3)
	assert.True(t, def.Equal(c.EffectiveLateFeeRate(def)))

	own := decimal.NewFromInt(5)
	c.LateFeeRate = &own
	assert.True(t, own.Equal(c.EffectiveLateFeeRate(def)))
}

func TestAllowsDiscount(t *testing.T) {
	c, err := New(validParams(), time.Now())
	require.NoError(t, err)

	assert.True(t, c.AllowsDiscount(decimal.NewFromInt(20)))
	assert.False(t, c.AllowsDiscount(decimal.RequireFromString("20.01")))
	assert.False(t, c.AllowsDiscount(decimal.NewFromInt(-1)))
}

func TestPeriodicity_PeriodOf(t *testing.T) {
	day := time.Date(2025, time.August, 14, 15, 0, 0, 0, time.UTC) // Thursday

	tests := []struct {
		p     Periodicity
		key   string
		start time.Time
	}{
		{PeriodicityWeekly, "2025-W33", time.Date(2025, time.August, 11, 0, 0, 0, 0, time.UTC)},
		{PeriodicityMonthly, "2025-08", time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodicityBimonthly, "2025-B4", time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodicityQuarterly, "2025-Q3", time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodicitySemiannual, "2025-H2", time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodicityAnnual, "2025", time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.p), func(t *testing.T) {
			got := tt.p.PeriodOf(day)
			assert.Equal(t, tt.key, got.Key)
			assert.Equal(t, tt.start, got.Start)
		})
	}
}

func TestPeriodicity_DueDate(t *testing.T) {
	monthly := PeriodicityMonthly.PeriodOf(time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), PeriodicityMonthly.DueDate(monthly, 10))

	weekly := PeriodicityWeekly.PeriodOf(time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, weekly.Start.AddDate(0, 0, 6), PeriodicityWeekly.DueDate(weekly, 10))
}
