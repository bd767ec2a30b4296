// Package statement derives a student's account summary for a term from the
// charges and payments behind it. The summary is always rebuilt from scratch;
// it never drifts from its sources because nothing updates it incrementally.
package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// Statement is the per student, per term account summary.
type Statement struct {
	StudentID string `json:"student_id"`
	TermID    string `json:"term_id"`
	SchoolID  string `json:"school_id"`

	TotalCharges   decimal.Decimal `json:"total_charges"`
	TotalDiscounts decimal.Decimal `json:"total_discounts"`
	TotalLateFees  decimal.Decimal `json:"total_late_fees"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	CreditBalance  decimal.Decimal `json:"credit_balance"`

	PendingCount   int `json:"pending_count"`
	PartialCount   int `json:"partial_count"`
	PaidCount      int `json:"paid_count"`
	OverdueCount   int `json:"overdue_count"`
	CancelledCount int `json:"cancelled_count"`

	HasOutstandingDebt bool `json:"has_outstanding_debt"`
	HasOverdueCharges  bool `json:"has_overdue_charges"`
	IsCurrent          bool `json:"is_current"`

	LastChargeAt  *time.Time `json:"last_charge_at,omitempty"`
	LastPaymentAt *time.Time `json:"last_payment_at,omitempty"`

	NeedsAttention bool   `json:"needs_attention"`
	AttentionNote  string `json:"attention_note,omitempty"`

	RecomputedAt time.Time `json:"recomputed_at"`
	Version      int       `json:"version"`
}

// Empty returns a zeroed statement for a pair with no activity.
func Empty(studentID, termID, schoolID string) *Statement {
	return &Statement{
		StudentID:      studentID,
		TermID:         termID,
		SchoolID:       schoolID,
		TotalCharges:   decimal.Zero,
		TotalDiscounts: decimal.Zero,
		TotalLateFees:  decimal.Zero,
		TotalPaid:      decimal.Zero,
		PendingBalance: decimal.Zero,
		CreditBalance:  decimal.Zero,
		IsCurrent:      true,
	}
}

// Compute rebuilds the statement from every charge and payment of the pair.
// Cancelled charges and cancelled payments contribute nothing but counts.
func Compute(studentID, termID, schoolID string, charges []*charge.Charge, payments []*payment.Payment, money shared.Money, now time.Time) *Statement {
	s := Empty(studentID, termID, schoolID)
	s.RecomputedAt = now

	paidByCharge := make(map[string]decimal.Decimal, len(charges))
	for _, p := range payments {
		if p.Cancelled {
			continue
		}
		paidByCharge[p.ChargeID] = paidByCharge[p.ChargeID].Add(p.Amount)
		s.LastPaymentAt = latest(s.LastPaymentAt, p.AppliedAt)
	}

	var notes []string
	billed := decimal.Zero

	for _, c := range charges {
		s.LastChargeAt = latest(s.LastChargeAt, c.CreatedAt)

		if c.IsCancelled() {
			s.CancelledCount++
			if paid := paidByCharge[c.ID]; paid.IsPositive() {
				notes = append(notes, fmt.Sprintf("cancelled charge %s has active payments", c.ID))
			}
			continue
		}

		s.TotalCharges = s.TotalCharges.Add(c.Amount)
		s.TotalDiscounts = s.TotalDiscounts.Add(c.Discount)
		s.TotalLateFees = s.TotalLateFees.Add(c.LateFee)
		s.TotalPaid = s.TotalPaid.Add(c.PaidAmount)
		billed = billed.Add(c.FinalAmount)

		switch c.Status {
		case charge.StatusPending:
			s.PendingCount++
		case charge.StatusPartiallyPaid:
			s.PartialCount++
		case charge.StatusPaid:
			s.PaidCount++
		case charge.StatusOverdue:
			s.OverdueCount++
		}
		if c.Status != charge.StatusPaid {
			s.PendingBalance = s.PendingBalance.Add(c.PendingBalance)
		}

		if !paidByCharge[c.ID].Equal(c.PaidAmount) {
			notes = append(notes, fmt.Sprintf("charge %s paid %s but payments sum %s",
				c.ID, money.Format(c.PaidAmount), money.Format(paidByCharge[c.ID])))
		}
		if err := c.CheckInvariants(); err != nil {
			notes = append(notes, fmt.Sprintf("charge %s inconsistent", c.ID))
		}
	}

	s.CreditBalance = shared.MaxDecimal(decimal.Zero, payment.SumActive(payments).Sub(billed))
	s.TotalCharges = money.Round(s.TotalCharges)
	s.TotalDiscounts = money.Round(s.TotalDiscounts)
	s.TotalLateFees = money.Round(s.TotalLateFees)
	s.TotalPaid = money.Round(s.TotalPaid)
	s.PendingBalance = money.Round(s.PendingBalance)
	s.CreditBalance = money.Round(s.CreditBalance)

	s.HasOutstandingDebt = s.PendingBalance.IsPositive()
	s.HasOverdueCharges = s.OverdueCount > 0
	s.IsCurrent = !s.HasOutstandingDebt && !s.HasOverdueCharges

	if s.HasOverdueCharges {
		notes = append(notes, fmt.Sprintf("%d overdue charge(s)", s.OverdueCount))
	}
	s.NeedsAttention = len(notes) > 0
	s.AttentionNote = strings.Join(notes, "; ")
	return s
}

func latest(cur *time.Time, t time.Time) *time.Time {
	if t.IsZero() {
		return cur
	}
	if cur == nil || t.After(*cur) {
		return &t
	}
	return cur
}

// SameFigures reports whether two statements carry identical derived values,
// ignoring bookkeeping fields.
func (s *Statement) SameFigures(o *Statement) bool {
	return s.TotalCharges.Equal(o.TotalCharges) &&
		s.TotalDiscounts.Equal(o.TotalDiscounts) &&
		s.TotalLateFees.Equal(o.TotalLateFees) &&
		s.TotalPaid.Equal(o.TotalPaid) &&
		s.PendingBalance.Equal(o.PendingBalance) &&
		s.CreditBalance.Equal(o.CreditBalance) &&
		s.PendingCount == o.PendingCount &&
		s.PartialCount == o.PartialCount &&
		s.PaidCount == o.PaidCount &&
		s.OverdueCount == o.OverdueCount &&
		s.CancelledCount == o.CancelledCount &&
		s.HasOutstandingDebt == o.HasOutstandingDebt &&
		s.HasOverdueCharges == o.HasOverdueCharges &&
		s.IsCurrent == o.IsCurrent &&
		s.NeedsAttention == o.NeedsAttention &&
		s.AttentionNote == o.AttentionNote
}

// Event builds the recompute event.
func (s *Statement) Event() shared.StatementRecomputedEvent {
	return shared.NewStatementRecomputedEvent(s.StudentID, s.TermID, s.PendingBalance.StringFixed(2), s.IsCurrent)
}
