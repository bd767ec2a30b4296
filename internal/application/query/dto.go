// Package query contains the ledger's read operations (CQRS - Queries).
// No handler in this package mutates ledger state.
package query

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
)

// ChargeDTO is the read model of a charge.
type ChargeDTO struct {
	ID              string          `json:"id"`
	StudentID       string          `json:"student_id"`
	SchoolID        string          `json:"school_id"`
	TermID          string          `json:"term_id"`
	ConceptID       string          `json:"concept_id"`
	Description     string          `json:"description"`
	PeriodKey       string          `json:"period_key"`
	Amount          decimal.Decimal `json:"amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Discount        decimal.Decimal `json:"discount"`
	LateFee         decimal.Decimal `json:"late_fee"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	PendingBalance  decimal.Decimal `json:"pending_balance"`
	DueDate         string          `json:"due_date"`
	Status          charge.Status   `json:"status"`
	ReceiptNumber   string          `json:"receipt_number,omitempty"`
	AutoGenerated   bool            `json:"auto_generated"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`

	Payments []PaymentDTO `json:"payments,omitempty"`
}

// PaymentDTO is the read model of a payment.
type PaymentDTO struct {
	ID          string          `json:"id"`
	ChargeID    string          `json:"charge_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      payment.Method  `json:"method"`
	Folio       string          `json:"folio"`
	Reference   string          `json:"reference,omitempty"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	ReceivedBy  string          `json:"received_by"`
	PaymentDate time.Time       `json:"payment_date"`
	AppliedAt   time.Time       `json:"applied_at"`
	Cancelled   bool            `json:"cancelled"`

	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

// ConceptDTO is the read model of a payment concept.
type ConceptDTO struct {
	ID              string              `json:"id"`
	SchoolID        string              `json:"school_id"`
	TermID          string              `json:"term_id"`
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	BaseAmount      decimal.Decimal     `json:"base_amount"`
	Recurring       bool                `json:"recurring"`
	Periodicity     concept.Periodicity `json:"periodicity"`
	DueDay          int                 `json:"due_day"`
	DiscountCeiling decimal.Decimal     `json:"discount_ceiling"`
	LateFeeRate     *decimal.Decimal    `json:"late_fee_rate,omitempty"`
	GracePeriodDays int                 `json:"grace_period_days"`
	Active          bool                `json:"active"`
	CreatedAt       time.Time           `json:"created_at"`
}

// NewChargeDTO converts a charge. payments may be nil.
func NewChargeDTO(c *charge.Charge, payments []*payment.Payment) ChargeDTO {
	dto := ChargeDTO{
		ID:                 c.ID,
		StudentID:          c.StudentID,
		SchoolID:           c.SchoolID,
		TermID:             c.TermID,
		ConceptID:          c.ConceptID,
		Description:        c.Description,
		PeriodKey:          c.PeriodKey,
		Amount:             c.Amount,
		DiscountPercent:    c.DiscountPercent,
		Discount:           c.Discount,
		LateFee:            c.LateFee,
		FinalAmount:        c.FinalAmount,
		PaidAmount:         c.PaidAmount,
		PendingBalance:     c.PendingBalance,
		DueDate:            c.DueDate.Format("2006-01-02"),
		Status:             c.Status,
		ReceiptNumber:      c.ReceiptNumber,
		AutoGenerated:      c.AutoGenerated,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		CancellationReason: c.CancellationReason,
		CancelledBy:        c.CancelledBy,
		CancelledAt:        c.CancelledAt,
	}
	for _, p := range payments {
		dto.Payments = append(dto.Payments, NewPaymentDTO(p))
	}
	return dto
}

// NewPaymentDTO converts a payment.
func NewPaymentDTO(p *payment.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                 p.ID,
		ChargeID:           p.ChargeID,
		Amount:             p.Amount,
		Method:             p.Method,
		Folio:              p.Folio,
		Reference:          p.Reference,
		InvoiceID:          p.InvoiceID,
		ReceivedBy:         p.ReceivedBy,
		PaymentDate:        p.PaymentDate,
		AppliedAt:          p.AppliedAt,
		Cancelled:          p.Cancelled,
		CancellationReason: p.CancellationReason,
		CancelledAt:        p.CancelledAt,
	}
}

// NewConceptDTO converts a concept.
func NewConceptDTO(c *concept.Concept) ConceptDTO {
	return ConceptDTO{
		ID:              c.ID,
		SchoolID:        c.SchoolID,
		TermID:          c.TermID,
		Name:            c.Name,
		Description:     c.Description,
		BaseAmount:      c.BaseAmount,
		Recurring:       c.Recurring,
		Periodicity:     c.Periodicity,
		DueDay:          c.DueDay,
		DiscountCeiling: c.DiscountCeiling,
		LateFeeRate:     c.LateFeeRate,
		GracePeriodDays: c.GracePeriodDays,
		Active:          c.Active,
		CreatedAt:       c.CreatedAt,
	}
}
