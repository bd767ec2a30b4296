package query

import (
	"context"

	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// GetChargeQuery selects one charge by id.
type GetChargeQuery struct {
	ChargeID string
}

// GetChargeHandler returns a charge together with its payments.
type GetChargeHandler struct {
	repos ledger.Repositories
}

// NewGetChargeHandler creates a new GetChargeHandler.
func NewGetChargeHandler(repos ledger.Repositories) *GetChargeHandler {
	return &GetChargeHandler{repos: repos}
}

// Handle executes the query.
func (h *GetChargeHandler) Handle(ctx context.Context, q GetChargeQuery) (*ChargeDTO, error) {
	if shared.IsBlank(q.ChargeID) {
		return nil, shared.NewValidationError("charge", "Get", "charge_id", "required", "charge id is required")
	}

	c, err := h.repos.Charges.GetByID(ctx, q.ChargeID)
	if err != nil {
		return nil, err
	}
	payments, err := h.repos.Payments.ListByCharge(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	dto := NewChargeDTO(c, payments)
	return &dto, nil
}

// GetChargeHistoryQuery selects every charge of a student in a term.
type GetChargeHistoryQuery struct {
	StudentID string
	TermID    string
}

// ChargeHistoryDTO lists charges with their payments, oldest due first.
type ChargeHistoryDTO struct {
	StudentID string      `json:"student_id"`
	TermID    string      `json:"term_id"`
	Charges   []ChargeDTO `json:"charges"`
}

// GetChargeHistoryHandler handles GetChargeHistoryQuery.
type GetChargeHistoryHandler struct {
	repos ledger.Repositories
}

// NewGetChargeHistoryHandler creates a new GetChargeHistoryHandler.
func NewGetChargeHistoryHandler(repos ledger.Repositories) *GetChargeHistoryHandler {
	return &GetChargeHistoryHandler{repos: repos}
}

// Handle executes the query. Cancelled charges and payments are included.
func (h *GetChargeHistoryHandler) Handle(ctx context.Context, q GetChargeHistoryQuery) (*ChargeHistoryDTO, error) {
	var v shared.Violations
	v.Check(!shared.IsBlank(q.StudentID), "student_id", "required", "student id is required")
	v.Check(!shared.IsBlank(q.TermID), "term_id", "required", "term id is required")
	if err := v.Err("charge", "History"); err != nil {
		return nil, err
	}

	charges, err := h.repos.Charges.ListByStudentTerm(ctx, q.StudentID, q.TermID)
	if err != nil {
		return nil, err
	}
	payments, err := h.repos.Payments.ListByStudentTerm(ctx, q.StudentID, q.TermID)
	if err != nil {
		return nil, err
	}

	byCharge := make(map[string][]*payment.Payment, len(charges))
	for _, p := range payments {
		byCharge[p.ChargeID] = append(byCharge[p.ChargeID], p)
	}

	out := &ChargeHistoryDTO{StudentID: q.StudentID, TermID: q.TermID, Charges: make([]ChargeDTO, 0, len(charges))}
	for _, c := range charges {
		out.Charges = append(out.Charges, NewChargeDTO(c, byCharge[c.ID]))
	}
	return out, nil
}
