// Package payment models money received against a single charge.
package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

const domainName = "payment"

// Method is how the money was received.
type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodTransfer Method = "transfer"
	MethodCheck    Method = "check"
	MethodGateway  Method = "gateway"
	MethodOther    Method = "other"
)

// IsValid reports whether m is a known method.
func (m Method) IsValid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodCheck, MethodGateway, MethodOther:
		return true
	}
	return false
}

// MaxFolioLength bounds receipt folios.
const MaxFolioLength = 64

// Payment is immutable except for cancellation.
type Payment struct {
	ID        string
	ChargeID  string
	StudentID string
	SchoolID  string
	TermID    string

	Amount      decimal.Decimal
	Method      Method
	Folio       string
	Reference   string
	InvoiceID   string
	ReceivedBy  string
	PaymentDate time.Time
	AppliedAt   time.Time

	Cancelled          bool
	CancellationReason string
	CancelledBy        string
	CancelledAt        *time.Time
}

// Params holds the caller-supplied fields of a payment.
type Params struct {
	Amount      decimal.Decimal
	Method      Method
	Folio       string
	Reference   string
	InvoiceID   string
	ActorID     string
	PaymentDate time.Time // zero means now
}

// Validate returns every malformed field.
func (p Params) Validate(now time.Time) shared.Violations {
	var v shared.Violations
	v.Check(p.Amount.IsPositive(), "amount", "gt0", "payment amount must be positive")
	v.Check(p.Method.IsValid(), "method", "oneof", "unknown payment method")
	v.Check(!shared.IsBlank(p.Folio), "folio", "required", "folio is required")
	v.Check(len(p.Folio) <= MaxFolioLength, "folio", "max", "folio is too long")
	v.Check(!shared.IsBlank(p.ActorID), "actor_id", "required", "actor id is required")
	if !p.PaymentDate.IsZero() {
		v.Check(!p.PaymentDate.After(now), "payment_date", "not_future", "payment date cannot be in the future")
	}
	return v
}

// New builds a payment for the charge. The charge itself is transitioned by
// the caller under the same lock.
func New(ch *charge.Charge, p Params, now time.Time) (*Payment, error) {
	if err := p.Validate(now).Err(domainName, "Create"); err != nil {
		return nil, err
	}
	paymentDate := p.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}

	return &Payment{
		ID:          shared.NewID(),
		ChargeID:    ch.ID,
		StudentID:   ch.StudentID,
		SchoolID:    ch.SchoolID,
		TermID:      ch.TermID,
		Amount:      p.Amount,
		Method:      p.Method,
		Folio:       NormalizeFolio(p.Folio),
		Reference:   p.Reference,
		InvoiceID:   p.InvoiceID,
		ReceivedBy:  p.ActorID,
		PaymentDate: paymentDate,
		AppliedAt:   now,
	}, nil
}

// NormalizeFolio trims and upper-cases a folio so lookups are stable.
func NormalizeFolio(folio string) string {
	return strings.ToUpper(strings.TrimSpace(folio))
}

// Cancel marks the payment as cancelled. Rows are never deleted.
func (p *Payment) Cancel(actorID, reason string, now time.Time) error {
	const op = "Cancel"

	var v shared.Violations
	v.Check(!shared.IsBlank(actorID), "actor_id", "required", "actor id is required")
	v.Check(!shared.IsBlank(reason), "reason", "required", "cancellation reason is required")
	if err := v.Err(domainName, op); err != nil {
		return err
	}
	if p.Cancelled {
		return shared.InvalidTransition(domainName, op, "payment is already cancelled")
	}

	p.Cancelled = true
	p.CancellationReason = reason
	p.CancelledBy = actorID
	p.CancelledAt = &now
	return nil
}

// Event builds the event published for this payment.
func (p *Payment) Event(t shared.EventType) shared.PaymentEvent {
	return shared.NewPaymentEvent(t, p.ID, p.ChargeID, p.StudentID, p.TermID, p.Amount.StringFixed(2), p.Folio)
}

// DuplicateFolio builds the error returned on folio collisions.
func DuplicateFolio(folio string) error {
	return shared.NewDomainError(domainName, "Create", shared.ErrDuplicateFolio, "folio "+folio+" already used")
}

// SumActive adds the amounts of non-cancelled payments.
func SumActive(payments []*Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if !p.Cancelled {
			total = total.Add(p.Amount)
		}
	}
	return total
}
