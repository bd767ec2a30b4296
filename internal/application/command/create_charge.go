package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/tenant"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// CreateChargeCommand issues a charge from a concept to a student.
type CreateChargeCommand struct {
	StudentID       string
	ConceptID       string
	TermID          string
	DueDate         time.Time
	DiscountPercent decimal.Decimal
	Description     string
	ActorID         string
}

// Validate checks the identifiers only; amounts are checked by the domain.
func (c CreateChargeCommand) Validate() shared.Violations {
	var v shared.Violations
	v.Check(!shared.IsBlank(c.StudentID), "student_id", "required", "student id is required")
	v.Check(!shared.IsBlank(c.ConceptID), "concept_id", "required", "concept id is required")
	v.Check(!shared.IsBlank(c.TermID), "term_id", "required", "term id is required")
	v.Check(!shared.IsBlank(c.ActorID), "actor_id", "required", "actor id is required")
	return v
}

// CreateChargeHandler handles single and bulk charge creation.
type CreateChargeHandler struct {
	deps *Deps
}

// NewCreateChargeHandler creates a new CreateChargeHandler.
func NewCreateChargeHandler(deps *Deps) *CreateChargeHandler {
	return &CreateChargeHandler{deps: deps}
}

// Handle creates one charge and recomputes the student's statement.
func (h *CreateChargeHandler) Handle(ctx context.Context, cmd CreateChargeCommand) (*charge.Charge, error) {
	charges, err := h.create(ctx, "Create", []CreateChargeCommand{cmd}, false)
	if err != nil {
		return nil, err
	}
	return charges[0], nil
}

// HandleBulk validates every item, reporting all problems at once, and
// creates the charges in one transaction or not at all.
func (h *CreateChargeHandler) HandleBulk(ctx context.Context, cmds []CreateChargeCommand) ([]*charge.Charge, error) {
	if len(cmds) == 0 {
		return nil, shared.NewValidationError("charge", "CreateBulk", "items", "min", "at least one item is required")
	}
	return h.create(ctx, "CreateBulk", cmds, true)
}

func (h *CreateChargeHandler) create(ctx context.Context, op string, cmds []CreateChargeCommand, bulk bool) ([]*charge.Charge, error) {
	now := h.deps.now()
	built := make([]*charge.Charge, 0, len(cmds))
	var all shared.Violations

	for i, cmd := range cmds {
		prefix := ""
		if bulk {
			prefix = fmt.Sprintf("items[%d].", i)
		}

		c, err := h.build(ctx, op, cmd, now)
		if err == nil {
			built = append(built, c)
			continue
		}
		if !bulk {
			return nil, err
		}
		violations, ok := asViolations(err)
		if !ok {
			return nil, err
		}
		all = append(all, shared.Violations(violations).Prefixed(prefix)...)
	}
	if err := all.Err("charge", op); err != nil {
		return nil, err
	}

	fx := &effects{}
	err := h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		pairs := map[[2]string]string{}
		for _, c := range built {
			cpt, err := repos.Concepts.GetByID(ctx, c.ConceptID)
			if err != nil {
				return err
			}
			if err := cpt.CanIssueCharges(); err != nil {
				return err
			}
			if err := repos.Charges.Create(ctx, c); err != nil {
				return err
			}
			pairs[[2]string{c.StudentID, c.TermID}] = c.SchoolID
			fx.audit(audit.NewRecord(audit.EntityCharge, c.ID, "create", c.CreatedBy, nil, c.Snapshot(), now))
			fx.emit(c.Event(shared.EventChargeCreated))
		}
		return recomputePairs(ctx, repos, pairs, h.deps.Policy, now, fx)
	})
	if err != nil {
		return nil, err
	}

	for _, c := range built {
		h.deps.Logger.Info("charge created",
			logger.ChargeID(c.ID),
			logger.StudentID(c.StudentID),
			logger.TermID(c.TermID),
			logger.Money("final_amount", c.FinalAmount),
		)
	}
	h.deps.flush(ctx, op, fx)
	return built, nil
}

// build resolves the concept and directory entries and constructs the
// charge without persisting it.
func (h *CreateChargeHandler) build(ctx context.Context, op string, cmd CreateChargeCommand, now time.Time) (*charge.Charge, error) {
	if err := cmd.Validate().Err("charge", op); err != nil {
		return nil, err
	}

	cpt, err := h.deps.UoW.Reader().Concepts.GetByID(ctx, cmd.ConceptID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.NewValidationError("charge", op, "concept_id", "exists", "concept not found")
		}
		return nil, err
	}
	if cpt.TermID != cmd.TermID {
		return nil, shared.NewValidationError("charge", op, "term_id", "concept_term", "concept belongs to a different term")
	}
	if err := resolveEnrollment(ctx, h.deps.Directory, "charge", op, cmd.StudentID, cmd.TermID, cpt.SchoolID); err != nil {
		return nil, err
	}

	return charge.New(charge.Params{
		Concept:         cpt,
		StudentID:       cmd.StudentID,
		DueDate:         cmd.DueDate,
		DiscountPercent: cmd.DiscountPercent,
		Description:     cmd.Description,
		ActorID:         cmd.ActorID,
	}, h.deps.Policy.Money, now)
}

// resolveEnrollment verifies that student and term resolve in the directory
// and share schoolID with the concept.
func resolveEnrollment(ctx context.Context, dir tenant.Directory, domain, op, studentID, termID, schoolID string) error {
	var v shared.Violations

	student, err := dir.ResolveStudent(ctx, studentID)
	switch {
	case shared.IsNotFound(err):
		v.Add("student_id", "exists", "student not found")
	case err != nil:
		return err
	}

	term, err := dir.ResolveTerm(ctx, termID)
	switch {
	case shared.IsNotFound(err):
		v.Add("term_id", "exists", "term not found")
	case err != nil:
		return err
	}

	v = append(v, tenant.CheckEnrollment(student, term, schoolID)...)
	return v.Err(domain, op)
}

// asViolations turns validation and policy errors into violations so bulk
// paths can aggregate them.
func asViolations(err error) ([]shared.Violation, bool) {
	if vs := shared.ViolationsOf(err); vs != nil {
		return vs, true
	}
	var de *shared.DomainError
	if errors.As(err, &de) && errors.Is(err, shared.ErrPolicyViolation) {
		return []shared.Violation{{Field: de.Domain, Rule: "policy", Message: de.Message}}, true
	}
	return nil, false
}

// recomputePairs locks and rebuilds every touched statement in a stable
// order so concurrent bulk operations cannot deadlock each other.
func recomputePairs(ctx context.Context, repos ledger.Repositories, pairs map[[2]string]string, policy Policy, now time.Time, fx *effects) error {
	keys := make([][2]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] == keys[j][0] {
			return keys[i][1] < keys[j][1]
		}
		return keys[i][0] < keys[j][0]
	})

	for _, k := range keys {
		if err := repos.Statements.Lock(ctx, k[0], k[1], pairs[k]); err != nil {
			return err
		}
		st, err := recompute(ctx, repos, k[0], k[1], pairs[k], policy, now)
		if err != nil {
			return err
		}
		fx.emit(st.Event())
	}
	return nil
}

// conceptLateFeePolicy resolves the late fee terms of a concept.
func conceptLateFeePolicy(c *concept.Concept, policy Policy) charge.LateFeePolicy {
	return charge.LateFeePolicy{
		Rate:            c.EffectiveLateFeeRate(policy.DefaultLateFeeRate),
		GracePeriodDays: c.GracePeriodDays,
	}
}
