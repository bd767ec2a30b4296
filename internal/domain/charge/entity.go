// Package charge models a concrete amount owed by a student for a concept
// in a term, and the transitions that move money through it.
//
// Every mutation keeps two equalities intact:
//
//	finalAmount    = amount - discount + lateFee
//	paidAmount     + pendingBalance = finalAmount
package charge

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

const domainName = "charge"

// Status is the lifecycle state of a charge.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusCancelled     Status = "cancelled"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Charge is an amount owed by a student.
type Charge struct {
	ID          string
	StudentID   string
	SchoolID    string
	ConceptID   string
	TermID      string
	Description string
	PeriodKey   string

	Amount          decimal.Decimal
	Discount        decimal.Decimal
	DiscountPercent decimal.Decimal
	LateFee         decimal.Decimal
	FinalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	PendingBalance  decimal.Decimal

	DueDate       time.Time
	Status        Status
	ReceiptNumber string
	AutoGenerated bool

	// LastLateFeeAccrualAt makes late fee accrual idempotent per period.
	LastLateFeeAccrualAt *time.Time
	// OverdueAt is set when an unpaid charge turned overdue.
	OverdueAt *time.Time

	CancellationReason string
	CancelledBy        string
	CancelledAt        *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// Params holds the inputs of a new charge.
type Params struct {
	Concept         *concept.Concept
	StudentID       string
	DueDate         time.Time
	DiscountPercent decimal.Decimal
	Description     string
	PeriodKey       string
	AutoGenerated   bool
	ActorID         string
}

// Validate returns every malformed field. now is the creation instant.
func (p Params) Validate(now time.Time) shared.Violations {
	var v shared.Violations
	v.Check(p.Concept != nil, "concept_id", "required", "concept is required")
	v.Check(!shared.IsBlank(p.StudentID), "student_id", "required", "student id is required")
	v.Check(!shared.IsBlank(p.ActorID), "actor_id", "required", "actor id is required")
	if p.DueDate.IsZero() {
		v.Add("due_date", "required", "due date is required")
	} else {
		v.Check(!p.DueDate.Before(startOfDay(now, p.DueDate.Location())), "due_date", "gte_created",
			"due date cannot be before the creation date")
	}
	v.Check(!p.DiscountPercent.IsNegative(), "discount_percent", "gte0", "discount percent cannot be negative")
	return v
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// New issues a charge from a concept. The concept amount is snapshotted so
// later catalog edits never change existing charges.
func New(p Params, money shared.Money, now time.Time) (*Charge, error) {
	if err := p.Validate(now).Err(domainName, "Create"); err != nil {
		return nil, err
	}
	if err := p.Concept.CanIssueCharges(); err != nil {
		return nil, err
	}
	if !p.Concept.AllowsDiscount(p.DiscountPercent) {
		return nil, shared.PolicyViolation(domainName, "Create",
			fmt.Sprintf("discount %s%% exceeds concept ceiling %s%%", p.DiscountPercent, p.Concept.DiscountCeiling))
	}

	amount := money.Round(p.Concept.BaseAmount)
	discount := money.Percent(amount, p.DiscountPercent)
	final := amount.Sub(discount)

	description := p.Description
	if description == "" {
		description = p.Concept.Name
	}
	periodKey := p.PeriodKey
	if periodKey == "" {
		periodKey = concept.OneTimePeriodKey
	}

	c := &Charge{
		ID:              shared.NewID(),
		StudentID:       p.StudentID,
		SchoolID:        p.Concept.SchoolID,
		ConceptID:       p.Concept.ID,
		TermID:          p.Concept.TermID,
		Description:     description,
		PeriodKey:       periodKey,
		Amount:          amount,
		Discount:        discount,
		DiscountPercent: p.DiscountPercent,
		LateFee:         decimal.Zero,
		FinalAmount:     final,
		PaidAmount:      decimal.Zero,
		PendingBalance:  final,
		DueDate:         p.DueDate,
		AutoGenerated:   p.AutoGenerated,
		CreatedBy:       p.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	c.Status = c.deriveStatus()
	return c, nil
}

// deriveStatus computes the status from the amounts alone, so that a
// payment followed by its reversal always lands on the original status.
func (c *Charge) deriveStatus() Status {
	switch {
	case c.CancelledAt != nil:
		return StatusCancelled
	case !c.PendingBalance.IsPositive():
		return StatusPaid
	case c.OverdueAt != nil:
		return StatusOverdue
	case c.PaidAmount.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusPending
	}
}

func (c *Charge) touch(now time.Time) {
	c.Status = c.deriveStatus()
	c.UpdatedAt = now
	c.Version++
}

// IsCancelled reports whether the charge is cancelled.
func (c *Charge) IsCancelled() bool {
	return c.Status == StatusCancelled
}

// IsOutstanding reports whether money is still owed on the charge.
func (c *Charge) IsOutstanding() bool {
	return !c.IsCancelled() && c.PendingBalance.IsPositive()
}

// Principal is the amount owed before late fees.
func (c *Charge) Principal() decimal.Decimal {
	return c.Amount.Sub(c.Discount)
}

// ApplyPayment moves amount from pending to paid.
func (c *Charge) ApplyPayment(amount decimal.Decimal, folio string, now time.Time) error {
	const op = "ApplyPayment"

	if !amount.IsPositive() {
		return shared.NewValidationError(domainName, op, "amount", "gt0", "payment amount must be positive")
	}
	if c.IsCancelled() {
		return shared.InvalidTransition(domainName, op, "cannot apply a payment to a cancelled charge")
	}
	if amount.GreaterThan(c.PendingBalance) {
		return shared.NewDomainError(domainName, op, shared.ErrOverpayment,
			fmt.Sprintf("payment %s exceeds pending balance %s", amount.StringFixed(2), c.PendingBalance.StringFixed(2)))
	}

	c.PaidAmount = c.PaidAmount.Add(amount)
	c.PendingBalance = c.PendingBalance.Sub(amount)
	c.touch(now)
	if c.Status == StatusPaid {
		c.ReceiptNumber = folio
	}
	return nil
}

// ReversePayment undoes a previously applied payment.
func (c *Charge) ReversePayment(amount decimal.Decimal, now time.Time) error {
	const op = "ReversePayment"

	if c.IsCancelled() {
		return shared.InvalidTransition(domainName, op, "cannot reverse a payment on a cancelled charge")
	}
	if !amount.IsPositive() || amount.GreaterThan(c.PaidAmount) {
		return shared.InvalidTransition(domainName, op,
			fmt.Sprintf("reversal %s exceeds paid amount %s", amount.StringFixed(2), c.PaidAmount.StringFixed(2)))
	}

	c.PaidAmount = c.PaidAmount.Sub(amount)
	c.PendingBalance = c.PendingBalance.Add(amount)
	c.touch(now)
	if c.Status != StatusPaid {
		c.ReceiptNumber = ""
	}
	return nil
}

// Cancel voids a charge that has not received any payment.
func (c *Charge) Cancel(actorID, reason string, now time.Time) error {
	const op = "Cancel"

	var v shared.Violations
	v.Check(!shared.IsBlank(actorID), "actor_id", "required", "actor id is required")
	v.Check(!shared.IsBlank(reason), "reason", "required", "cancellation reason is required")
	if err := v.Err(domainName, op); err != nil {
		return err
	}
	if c.IsCancelled() {
		return shared.InvalidTransition(domainName, op, "charge is already cancelled")
	}
	if c.PaidAmount.IsPositive() {
		return shared.InvalidTransition(domainName, op, "charge has payments and cannot be cancelled")
	}

	c.CancelledAt = &now
	c.CancelledBy = actorID
	c.CancellationReason = reason
	c.touch(now)
	return nil
}

// CheckInvariants verifies the amount equalities and bounds.
func (c *Charge) CheckInvariants() error {
	var v shared.Violations
	v.Check(!c.Amount.IsNegative(), "amount", "gte0", "amount is negative")
	v.Check(!c.Discount.IsNegative() && c.Discount.LessThanOrEqual(c.Amount), "discount", "range", "discount outside [0, amount]")
	v.Check(!c.LateFee.IsNegative(), "late_fee", "gte0", "late fee is negative")
	v.Check(c.FinalAmount.Equal(c.Amount.Sub(c.Discount).Add(c.LateFee)), "final_amount", "formula",
		"final amount differs from amount - discount + late fee")
	v.Check(c.PaidAmount.Add(c.PendingBalance).Equal(c.FinalAmount), "pending_balance", "formula",
		"paid + pending differs from final amount")
	v.Check(!c.PaidAmount.IsNegative() && c.PaidAmount.LessThanOrEqual(c.FinalAmount), "paid_amount", "range", "paid amount outside [0, final]")
	v.Check(!c.PendingBalance.IsNegative(), "pending_balance", "gte0", "pending balance is negative")
	cancelFields := c.CancelledAt != nil
	v.Check(cancelFields == (c.CancelledBy != "") && cancelFields == (c.CancellationReason != ""),
		"cancelled_at", "all_or_none", "cancellation fields are partially set")
	return v.Err(domainName, "CheckInvariants")
}

// Snapshot returns a copy for audit "before" images.
func (c *Charge) Snapshot() Charge {
	return *c
}

// Event builds a notification/event payload for this charge.
func (c *Charge) Event(t shared.EventType) shared.ChargeEvent {
	return shared.NewChargeEvent(t, c.ID, c.StudentID, c.SchoolID, c.TermID, c.ConceptID,
		c.FinalAmount.StringFixed(2), c.PendingBalance.StringFixed(2), string(c.Status))
}
