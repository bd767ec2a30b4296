package statement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

var now = time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ch(id string, status charge.Status, amount, discount, lateFee, paid string) *charge.Charge {
	final := d(amount).Sub(d(discount)).Add(d(lateFee))
	c := &charge.Charge{
		ID:             id,
		Amount:         d(amount),
		Discount:       d(discount),
		LateFee:        d(lateFee),
		FinalAmount:    final,
		PaidAmount:     d(paid),
		PendingBalance: final.Sub(d(paid)),
		Status:         status,
		CreatedAt:      now.Add(-time.Hour),
	}
	if status == charge.StatusCancelled {
		at := now
		c.CancelledAt, c.CancelledBy, c.CancellationReason = &at, "admin", "void"
	}
	return c
}

func pay(chargeID, amount string, cancelled bool) *payment.Payment {
	return &payment.Payment{ChargeID: chargeID, Amount: d(amount), Cancelled: cancelled, AppliedAt: now}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute("s-1", "t-1", "school-1", nil, nil, shared.DefaultMoney(), now)

	assert.True(t, s.TotalCharges.IsZero())
	assert.True(t, s.IsCurrent)
	assert.False(t, s.HasOutstandingDebt)
	assert.False(t, s.NeedsAttention)
	assert.Nil(t, s.LastChargeAt)
}

func TestCompute_MixedCharges(t *testing.T) {
	charges := []*charge.Charge{
		ch("c1", charge.StatusPaid, "1000", "100", "0", "900"),
		ch("c2", charge.StatusPartiallyPaid, "500", "0", "0", "200"),
		ch("c3", charge.StatusOverdue, "300", "0", "30", "0"),
		ch("c4", charge.StatusCancelled, "700", "0", "0", "0"),
		ch("c5", charge.StatusPending, "100", "0", "0", "0"),
	}
	payments := []*payment.Payment{
		pay("c1", "600", false),
		pay("c1", "300", false),
		pay("c2", "200", false),
		pay("c2", "50", true),
	}

	s := Compute("s-1", "t-1", "school-1", charges, payments, shared.DefaultMoney(), now)

	assert.True(t, d("1900").Equal(s.TotalCharges))
	assert.True(t, d("100").Equal(s.TotalDiscounts))
	assert.True(t, d("30").Equal(s.TotalLateFees))
	assert.True(t, d("1100").Equal(s.TotalPaid))
	assert.True(t, d("730").Equal(s.PendingBalance))
	assert.True(t, s.CreditBalance.IsZero())
	assert.Equal(t, 1, s.PaidCount)
	assert.Equal(t, 1, s.PartialCount)
	assert.Equal(t, 1, s.OverdueCount)
	assert.Equal(t, 1, s.PendingCount)
	assert.Equal(t, 1, s.CancelledCount)
	assert.True(t, s.HasOutstandingDebt)
	assert.True(t, s.HasOverdueCharges)
	assert.False(t, s.IsCurrent)
	assert.True(t, s.NeedsAttention)
	assert.Contains(t, s.AttentionNote, "overdue")
	assert.True(t, s.TotalDiscounts.LessThanOrEqual(s.TotalCharges))
}

func TestCompute_FullyPaidIsCurrent(t *testing.T) {
	charges := []*charge.Charge{ch("c1", charge.StatusPaid, "1000", "100", "0", "900")}
	payments := []*payment.Payment{pay("c1", "900", false)}

	s := Compute("s-1", "t-1", "school-1", charges, payments, shared.DefaultMoney(), now)

	assert.True(t, d("900").Equal(s.TotalPaid))
	assert.False(t, s.HasOutstandingDebt)
	assert.True(t, s.IsCurrent)
	assert.False(t, s.NeedsAttention)
	assert.NotNil(t, s.LastPaymentAt)
}

func TestCompute_FlagsPaymentDrift(t *testing.T) {
	charges := []*charge.Charge{ch("c1", charge.StatusPartiallyPaid, "1000", "0", "0", "400")}
	payments := []*payment.Payment{pay("c1", "300", false)}

	s := Compute("s-1", "t-1", "school-1", charges, payments, shared.DefaultMoney(), now)

	assert.True(t, s.NeedsAttention)
	assert.Contains(t, s.AttentionNote, "payments sum 300.00")
}

func TestCompute_Deterministic(t *testing.T) {
	charges := []*charge.Charge{
		ch("c1", charge.StatusPartiallyPaid, "1000", "0", "0", "400"),
		ch("c2", charge.StatusOverdue, "200", "0", "20", "0"),
	}
	payments := []*payment.Payment{pay("c1", "400", false)}

	a := Compute("s-1", "t-1", "school-1", charges, payments, shared.DefaultMoney(), now)
	b := Compute("s-1", "t-1", "school-1", charges, payments, shared.DefaultMoney(), now.Add(time.Hour))

	assert.True(t, a.SameFigures(b))
}
