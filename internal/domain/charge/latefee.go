package charge

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

// LateFeePolicy carries the concept terms needed to accrue a late fee.
type LateFeePolicy struct {
	Rate            decimal.Decimal // percentage
	GracePeriodDays int
}

// LateFeeResult describes the outcome of an accrual attempt.
type LateFeeResult struct {
	Applied       bool
	Amount        decimal.Decimal
	BecameOverdue bool
	SkipReason    string
}

// Skip reasons reported when no fee is accrued.
const (
	SkipSettled     = "settled"
	SkipWithinGrace = "within_grace"
	SkipSamePeriod  = "already_accrued_for_period"
)

// IsPastGrace reports whether asOf is later than due date + grace days.
func (c *Charge) IsPastGrace(asOf time.Time, graceDays int, cal *timeutil.Calendar) bool {
	return cal.DaysBetween(c.DueDate, asOf) > graceDays
}

// AccrueLateFee adds one period's late fee when the charge is past grace.
// The accrual period is the calendar month of asOf; a second call in the
// same or an earlier month is a no-op. The base is the unpaid principal so
// fees never accrue on fees.
func (c *Charge) AccrueLateFee(asOf, now time.Time, policy LateFeePolicy, money shared.Money, cal *timeutil.Calendar) LateFeeResult {
	if c.IsCancelled() || c.Status == StatusPaid {
		return LateFeeResult{SkipReason: SkipSettled}
	}
	if !c.IsPastGrace(asOf, policy.GracePeriodDays, cal) {
		return LateFeeResult{SkipReason: SkipWithinGrace}
	}
	if c.LastLateFeeAccrualAt != nil && cal.MonthKey(asOf) <= cal.MonthKey(*c.LastLateFeeAccrualAt) {
		return LateFeeResult{SkipReason: SkipSamePeriod}
	}

	base := shared.MinDecimal(c.PendingBalance, shared.MaxDecimal(decimal.Zero, c.Principal().Sub(c.PaidAmount)))
	fee := money.Percent(base, policy.Rate)

	c.LateFee = c.LateFee.Add(fee)
	c.FinalAmount = c.FinalAmount.Add(fee)
	c.PendingBalance = c.PendingBalance.Add(fee)

	accruedAt := asOf
	c.LastLateFeeAccrualAt = &accruedAt

	becameOverdue := false
	if c.Status == StatusPending {
		c.OverdueAt = &accruedAt
		becameOverdue = true
	}
	c.touch(now)

	return LateFeeResult{Applied: true, Amount: fee, BecameOverdue: becameOverdue}
}

// DaysOverdue returns how many days past the due date asOf is, or 0.
func (c *Charge) DaysOverdue(asOf time.Time, cal *timeutil.Calendar) int {
	d := cal.DaysBetween(c.DueDate, asOf)
	if d < 0 {
		return 0
	}
	return d
}
