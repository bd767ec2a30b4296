package command

import (
	"context"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// DeactivateConceptCommand stops a concept from issuing new charges.
type DeactivateConceptCommand struct {
	ConceptID string
	ActorID   string
}

// DeleteConceptCommand removes a concept no charge references.
type DeleteConceptCommand struct {
	ConceptID string
	ActorID   string
}

// requireFields takes field/value pairs and reports every blank value.
func requireFields(domain, op string, pairs ...string) error {
	var v shared.Violations
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Check(!shared.IsBlank(pairs[i+1]), pairs[i], "required", pairs[i]+" is required")
	}
	return v.Err(domain, op)
}

// ConceptAdminHandler handles deactivation and deletion of concepts.
type ConceptAdminHandler struct {
	deps *Deps
}

// NewConceptAdminHandler creates a new ConceptAdminHandler.
func NewConceptAdminHandler(deps *Deps) *ConceptAdminHandler {
	return &ConceptAdminHandler{deps: deps}
}

// Deactivate marks the concept inactive. Existing charges are untouched.
func (h *ConceptAdminHandler) Deactivate(ctx context.Context, cmd DeactivateConceptCommand) (*concept.Concept, error) {
	if err := requireFields("concept", "Deactivate", "concept_id", cmd.ConceptID, "actor_id", cmd.ActorID); err != nil {
		return nil, err
	}

	now := h.deps.now()
	fx := &effects{}
	var result *concept.Concept

	err := h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		c, err := repos.Concepts.GetByID(ctx, cmd.ConceptID)
		if err != nil {
			return err
		}
		before := *c
		if err := c.Deactivate(cmd.ActorID, now); err != nil {
			return err
		}
		if err := repos.Concepts.Update(ctx, c); err != nil {
			return err
		}
		result = c
		fx.audit(audit.NewRecord(audit.EntityConcept, c.ID, "deactivate", cmd.ActorID, before, c, now))
		fx.emit(shared.NewConceptEvent(shared.EventConceptDeactivated, c.ID, c.SchoolID, c.TermID, c.Name))
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.deps.flush(ctx, "DeactivateConcept", fx)
	return result, nil
}

// Delete removes the concept, refusing when charges reference it.
func (h *ConceptAdminHandler) Delete(ctx context.Context, cmd DeleteConceptCommand) error {
	if err := requireFields("concept", "Delete", "concept_id", cmd.ConceptID, "actor_id", cmd.ActorID); err != nil {
		return err
	}

	now := h.deps.now()
	fx := &effects{}

	err := h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		c, err := repos.Concepts.GetByID(ctx, cmd.ConceptID)
		if err != nil {
			return err
		}
		n, err := repos.Charges.CountByConcept(ctx, cmd.ConceptID)
		if err != nil {
			return err
		}
		if n > 0 {
			return shared.PolicyViolation("concept", "Delete", "concept is referenced by charges, deactivate it instead")
		}
		if err := repos.Concepts.Delete(ctx, cmd.ConceptID); err != nil {
			return err
		}
		fx.audit(audit.NewRecord(audit.EntityConcept, c.ID, "delete", cmd.ActorID, c, nil, now))
		return nil
	})
	if err != nil {
		return err
	}

	h.deps.flush(ctx, "DeleteConcept", fx)
	return nil
}
