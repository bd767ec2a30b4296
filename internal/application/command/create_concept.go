package command

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// CreateConceptCommand registers a billable item for a school term.
type CreateConceptCommand struct {
	SchoolID        string
	TermID          string
	Name            string
	Description     string
	BaseAmount      decimal.Decimal
	Recurring       bool
	Periodicity     concept.Periodicity
	DueDay          int
	DiscountCeiling decimal.Decimal
	LateFeeRate     *decimal.Decimal
	GracePeriodDays int
	ActorID         string
}

func (c CreateConceptCommand) params() concept.Params {
	return concept.Params{
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
	}
}

// CreateConceptHandler handles CreateConceptCommand.
type CreateConceptHandler struct {
	deps *Deps
}

// NewCreateConceptHandler creates a new CreateConceptHandler.
func NewCreateConceptHandler(deps *Deps) *CreateConceptHandler {
	return &CreateConceptHandler{deps: deps}
}

// Handle validates the command against the catalog rules and the tenant
// directory, then stores the concept.
func (h *CreateConceptHandler) Handle(ctx context.Context, cmd CreateConceptCommand) (*concept.Concept, error) {
	now := h.deps.now()

	c, err := concept.New(cmd.params(), now)
	var v shared.Violations
	if err != nil {
		if v = shared.ViolationsOf(err); v == nil {
			return nil, err
		}
	}
	h.deps.Policy.Money.CheckScale(&v, "base_amount", cmd.BaseAmount)
	if err := v.Err("concept", "Create"); err != nil {
		return nil, err
	}

	term, err := h.deps.Directory.ResolveTerm(ctx, cmd.TermID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.NewValidationError("concept", "Create", "term_id", "exists", "term not found")
		}
		return nil, err
	}
	if term.SchoolID != cmd.SchoolID {
		return nil, shared.NewValidationError("concept", "Create", "term_id", "same_school", "term belongs to a different school")
	}

	fx := &effects{}
	err = h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		if err := repos.Concepts.Create(ctx, c); err != nil {
			return err
		}
		fx.audit(audit.NewRecord(audit.EntityConcept, c.ID, "create", cmd.ActorID, nil, c, now))
		fx.emit(shared.NewConceptEvent(shared.EventConceptCreated, c.ID, c.SchoolID, c.TermID, c.Name))
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.deps.Logger.Info("payment concept created",
		logger.String("concept_id", c.ID),
		logger.SchoolID(c.SchoolID),
		logger.TermID(c.TermID),
		logger.Money("base_amount", c.BaseAmount),
	)
	h.deps.flush(ctx, "CreateConcept", fx)
	return c, nil
}
