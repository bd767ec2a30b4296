package payment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

var now = time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)

func testCharge() *charge.Charge {
	return &charge.Charge{
		ID:        "charge-1",
		StudentID: "student-1",
		SchoolID:  "school-1",
		TermID:    "term-1",
	}
}

func TestNew(t *testing.T) {
	p, err := New(testCharge(), Params{
		Amount:  decimal.NewFromInt(600),
		Method:  MethodCash,
		Folio:   " rec-001 ",
		ActorID: "cashier-1",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "REC-001", p.Folio)
	assert.Equal(t, "student-1", p.StudentID)
	assert.Equal(t, now, p.PaymentDate)
	assert.Equal(t, now, p.AppliedAt)
	assert.False(t, p.Cancelled)
}

func TestNew_AggregatesViolations(t *testing.T) {
	_, err := New(testCharge(), Params{
		Amount:      decimal.Zero,
		Method:      "bitcoin",
		PaymentDate: now.Add(time.Hour),
	}, now)
	require.Error(t, err)

	fields := map[string]bool{}
	for _, v := range shared.ViolationsOf(err) {
		fields[v.Field] = true
	}
	assert.True(t, fields["amount"])
	assert.True(t, fields["method"])
	assert.True(t, fields["folio"])
	assert.True(t, fields["actor_id"])
	assert.True(t, fields["payment_date"])
}

func TestCancel(t *testing.T) {
	p, err := New(testCharge(), Params{
		Amount:  decimal.NewFromInt(10),
		Method:  MethodCard,
		Folio:   "REC-2",
		ActorID: "cashier-1",
	}, now)
	require.NoError(t, err)

	require.NoError(t, p.Cancel("admin-1", "bounced", now))
	assert.True(t, p.Cancelled)
	assert.NotNil(t, p.CancelledAt)

	assert.ErrorIs(t, p.Cancel("admin-1", "bounced", now), shared.ErrStateTransition)
}

func TestSumActive(t *testing.T) {
	payments := []*Payment{
		{Amount: decimal.NewFromInt(100)},
		{Amount: decimal.NewFromInt(50), Cancelled: true},
		{Amount: decimal.RequireFromString("25.50")},
	}

	assert.True(t, decimal.RequireFromString("125.50").Equal(SumActive(payments)))
}

func TestDuplicateFolio(t *testing.T) {
	assert.ErrorIs(t, DuplicateFolio("REC-1"), shared.ErrDuplicateFolio)
}
