package charge

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

var (
	cal   = timeutil.UTC()
	money = shared.DefaultMoney()
	now   = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tuition(t *testing.T) *concept.Concept {
	t.Helper()
	rate := d("10")
	c, err := concept.New(concept.Params{
		SchoolID:        "school-1",
		TermID:          "term-1",
		Name:            "Tuition",
		BaseAmount:      d("1000"),
		DiscountCeiling: d("20"),
		LateFeeRate:     &rate,
		GracePeriodDays: 5,
	}, now)
	require.NoError(t, err)
	return c
}

func newCharge(t *testing.T, pct string) *Charge {
	t.Helper()
	c, err := New(Params{
		Concept:         tuition(t),
		StudentID:       "student-1",
		DueDate:         cal.Date(2025, time.March, 10),
		DiscountPercent: d(pct),
		ActorID:         "admin-1",
	}, money, now)
	require.NoError(t, err)
	return c
}

func TestNew_AppliesDiscount(t *testing.T) {
	c := newCharge(t, "10")

	assert.True(t, d("1000").Equal(c.Amount))
	assert.True(t, d("100").Equal(c.Discount))
	assert.True(t, d("900").Equal(c.FinalAmount))
	assert.True(t, d("900").Equal(c.PendingBalance))
	assert.True(t, c.PaidAmount.IsZero())
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, "Tuition", c.Description)
	assert.Equal(t, concept.OneTimePeriodKey, c.PeriodKey)
	assert.NoError(t, c.CheckInvariants())
}

func TestNew_DiscountAboveCeiling(t *testing.T) {
	_, err := New(Params{
		Concept:         tuition(t),
		StudentID:       "student-1",
		DueDate:         cal.Date(2025, time.March, 10),
		DiscountPercent: d("20.5"),
		ActorID:         "admin-1",
	}, money, now)

	assert.ErrorIs(t, err, shared.ErrPolicyViolation)
}

func TestNew_DueDateBeforeCreation(t *testing.T) {
	_, err := New(Params{
		Concept:   tuition(t),
		StudentID: "student-1",
		DueDate:   cal.Date(2025, time.February, 28),
		ActorID:   "admin-1",
	}, money, now)

	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestNew_DueDateSameDayAllowed(t *testing.T) {
	_, err := New(Params{
		Concept:   tuition(t),
		StudentID: "student-1",
		DueDate:   cal.Date(2025, time.March, 1),
		ActorID:   "admin-1",
	}, money, now)

	assert.NoError(t, err)
}

func TestNew_InactiveConcept(t *testing.T) {
	cpt := tuition(t)
	require.NoError(t, cpt.Deactivate("admin-1", now))

	_, err := New(Params{
		Concept:   cpt,
		StudentID: "student-1",
		DueDate:   cal.Date(2025, time.March, 10),
		ActorID:   "admin-1",
	}, money, now)

	assert.ErrorIs(t, err, shared.ErrPolicyViolation)
}

func TestNew_FullDiscountIsSettled(t *testing.T) {
	cpt := tuition(t)
	cpt.DiscountCeiling = d("100")

	c, err := New(Params{
		Concept:         cpt,
		StudentID:       "student-1",
		DueDate:         cal.Date(2025, time.March, 10),
		DiscountPercent: d("100"),
		ActorID:         "admin-1",
	}, money, now)
	require.NoError(t, err)

	assert.True(t, c.FinalAmount.IsZero())
	assert.Equal(t, StatusPaid, c.Status)
}

func TestApplyPayment_PartialThenFull(t *testing.T) {
	c := newCharge(t, "10")

	require.NoError(t, c.ApplyPayment(d("600"), "F-1", now))
	assert.Equal(t, StatusPartiallyPaid, c.Status)
	assert.True(t, d("300").Equal(c.PendingBalance))
	assert.Empty(t, c.ReceiptNumber)

	require.NoError(t, c.ApplyPayment(d("300"), "F-2", now))
	assert.Equal(t, StatusPaid, c.Status)
	assert.True(t, c.PendingBalance.IsZero())
	assert.Equal(t, "F-2", c.ReceiptNumber)
	assert.NoError(t, c.CheckInvariants())
}

func TestApplyPayment_Errors(t *testing.T) {
	t.Run("non-positive amount", func(t *testing.T) {
		c := newCharge(t, "0")
		assert.True(t, shared.IsValidation(c.ApplyPayment(d("0"), "F-1", now)))
		assert.True(t, shared.IsValidation(c.ApplyPayment(d("-5"), "F-1", now)))
	})

	t.Run("overpayment by one cent leaves state untouched", func(t *testing.T) {
		c := newCharge(t, "10")
		before := c.Snapshot()

		err := c.ApplyPayment(d("900.01"), "F-1", now)
		assert.ErrorIs(t, err, shared.ErrOverpayment)
		assert.Equal(t, before, *c)
	})

	t.Run("exact pending amount settles", func(t *testing.T) {
		c := newCharge(t, "10")
		require.NoError(t, c.ApplyPayment(d("900"), "F-1", now))
		assert.Equal(t, StatusPaid, c.Status)
	})

	t.Run("cancelled charge", func(t *testing.T) {
		c := newCharge(t, "0")
		require.NoError(t, c.Cancel("admin-1", "duplicate", now))
		assert.ErrorIs(t, c.ApplyPayment(d("10"), "F-1", now), shared.ErrStateTransition)
	})
}

func TestReversePayment_RestoresState(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(c *Charge)
		amount  string
	}{
		{"pending to partial and back", func(c *Charge) {}, "100"},
		{"pending to paid and back", func(c *Charge) {}, "900"},
		{"partial to paid and back", func(c *Charge) {
			require.NoError(t, c.ApplyPayment(d("400"), "F-0", now))
		}, "500"},
		{"overdue to paid and back", func(c *Charge) {
			c.AccrueLateFee(cal.Date(2025, time.April, 1), now, LateFeePolicy{Rate: d("10"), GracePeriodDays: 5}, money, cal)
		}, "990"},
		{"overdue partial and back", func(c *Charge) {
			c.AccrueLateFee(cal.Date(2025, time.April, 1), now, LateFeePolicy{Rate: d("10"), GracePeriodDays: 5}, money, cal)
		}, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCharge(t, "10")
			tt.prepare(c)
			status, paid, pending := c.Status, c.PaidAmount, c.PendingBalance

			require.NoError(t, c.ApplyPayment(d(tt.amount), "F-X", now))
			require.NoError(t, c.ReversePayment(d(tt.amount), now))

			assert.Equal(t, status, c.Status)
			assert.True(t, paid.Equal(c.PaidAmount))
			assert.True(t, pending.Equal(c.PendingBalance))
			assert.NoError(t, c.CheckInvariants())
		})
	}
}

func TestReversePayment_ExceedsPaid(t *testing.T) {
	c := newCharge(t, "0")
	require.NoError(t, c.ApplyPayment(d("100"), "F-1", now))

	assert.ErrorIs(t, c.ReversePayment(d("100.01"), now), shared.ErrStateTransition)
}

func TestCancel(t *testing.T) {
	t.Run("pending charge", func(t *testing.T) {
		c := newCharge(t, "0")
		require.NoError(t, c.Cancel("admin-1", "issued by mistake", now))

		assert.Equal(t, StatusCancelled, c.Status)
		assert.Equal(t, "admin-1", c.CancelledBy)
		assert.False(t, c.IsOutstanding())
		assert.NoError(t, c.CheckInvariants())
	})

	t.Run("with payments", func(t *testing.T) {
		c := newCharge(t, "0")
		require.NoError(t, c.ApplyPayment(d("1"), "F-1", now))
		assert.ErrorIs(t, c.Cancel("admin-1", "oops", now), shared.ErrStateTransition)
	})

	t.Run("after payment reversed", func(t *testing.T) {
		c := newCharge(t, "0")
		require.NoError(t, c.ApplyPayment(d("1"), "F-1", now))
		require.NoError(t, c.ReversePayment(d("1"), now))
		assert.NoError(t, c.Cancel("admin-1", "oops", now))
	})

	t.Run("twice", func(t *testing.T) {
		c := newCharge(t, "0")
		require.NoError(t, c.Cancel("admin-1", "oops", now))
		assert.ErrorIs(t, c.Cancel("admin-1", "oops", now), shared.ErrStateTransition)
	})

	t.Run("missing reason", func(t *testing.T) {
		c := newCharge(t, "0")
		assert.True(t, shared.IsValidation(c.Cancel("admin-1", " ", now)))
	})
}
