package command

import (
	"context"
	"fmt"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// recompute rebuilds the (student, term) statement from scratch inside the
// caller's transaction. The statement row must already be locked.
func recompute(ctx context.Context, repos ledger.Repositories, studentID, termID, schoolID string, policy Policy, now time.Time) (*statement.Statement, error) {
	charges, err := repos.Charges.ListByStudentTerm(ctx, studentID, termID)
	if err != nil {
		return nil, fmt.Errorf("recompute: list charges: %w", err)
	}
	payments, err := repos.Payments.ListByStudentTerm(ctx, studentID, termID)
	if err != nil {
		return nil, fmt.Errorf("recompute: list payments: %w", err)
	}

	st := statement.Compute(studentID, termID, schoolID, charges, payments, policy.Money, now)
	if err := repos.Statements.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("recompute: save statement: %w", err)
	}
	return st, nil
}

// RecomputeStatementCommand rebuilds one statement on demand.
type RecomputeStatementCommand struct {
	StudentID string
	TermID    string
	ActorID   string
}

// Validate validates the command.
func (c RecomputeStatementCommand) Validate() error {
	var v shared.Violations
	v.Check(!shared.IsBlank(c.StudentID), "student_id", "required", "student id is required")
	v.Check(!shared.IsBlank(c.TermID), "term_id", "required", "term id is required")
	return v.Err("statement", "Recompute")
}

// RecomputeStatementHandler handles RecomputeStatementCommand.
type RecomputeStatementHandler struct {
	deps *Deps
}

// NewRecomputeStatementHandler creates a new RecomputeStatementHandler.
func NewRecomputeStatementHandler(deps *Deps) *RecomputeStatementHandler {
	return &RecomputeStatementHandler{deps: deps}
}

// Handle executes the command. Recomputing twice yields the same figures.
func (h *RecomputeStatementHandler) Handle(ctx context.Context, cmd RecomputeStatementCommand) (*statement.Statement, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	term, err := h.deps.Directory.ResolveTerm(ctx, cmd.TermID)
	if err != nil {
		return nil, err
	}

	now := h.deps.now()
	fx := &effects{}
	var result *statement.Statement

	err = h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		if err := repos.Statements.Lock(ctx, cmd.StudentID, cmd.TermID, term.SchoolID); err != nil {
			return err
		}
		before, err := repos.Statements.Get(ctx, cmd.StudentID, cmd.TermID)
		if err != nil {
			return err
		}

		st, err := recompute(ctx, repos, cmd.StudentID, cmd.TermID, term.SchoolID, h.deps.Policy, now)
		if err != nil {
			return err
		}
		result = st

		if !before.SameFigures(st) {
			fx.audit(audit.NewRecord(audit.EntityStatement, cmd.StudentID+":"+cmd.TermID, "recompute", cmd.ActorID, before, st, now))
			h.deps.Logger.Warn("statement drift corrected",
				logger.StudentID(cmd.StudentID),
				logger.TermID(cmd.TermID),
			)
		}
		fx.emit(st.Event())
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.deps.flush(ctx, "RecomputeStatement", fx)
	return result, nil
}
