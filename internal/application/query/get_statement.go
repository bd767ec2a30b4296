package query

import (
	"context"

	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
	"github.com/schoolhub/student-ledger/internal/domain/tenant"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATEMENT QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetStatementQuery selects one account statement.
type GetStatementQuery struct {
	StudentID string
	TermID    string
}

// Validate validates the query.
func (q GetStatementQuery) Validate() error {
	var v shared.Violations
	v.Check(!shared.IsBlank(q.StudentID), "student_id", "required", "student id is required")
	v.Check(!shared.IsBlank(q.TermID), "term_id", "required", "term id is required")
	return v.Err("statement", "Get")
}

// GetStatementHandler serves statements cache-aside.
type GetStatementHandler struct {
	repos     ledger.Repositories
	directory tenant.Directory
	cache     statement.Cache
	log       *logger.Logger
}

// NewGetStatementHandler creates a new GetStatementHandler. cache may be nil.
func NewGetStatementHandler(repos ledger.Repositories, directory tenant.Directory, cache statement.Cache, log *logger.Logger) *GetStatementHandler {
	return &GetStatementHandler{repos: repos, directory: directory, cache: cache, log: log}
}

// Handle returns the statement. A pair with no ledger activity yet gets an
// empty statement as long as student and term resolve.
func (h *GetStatementHandler) Handle(ctx context.Context, q GetStatementQuery) (*statement.Statement, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		cached, err := h.cache.Get(ctx, q.StudentID, q.TermID)
		if err != nil {
			h.log.Warn("statement cache read failed", logger.StudentID(q.StudentID), logger.Err(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	st, err := h.repos.Statements.Get(ctx, q.StudentID, q.TermID)
	if shared.IsNotFound(err) {
		return h.empty(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, st); err != nil {
			h.log.Warn("statement cache write failed", logger.StudentID(q.StudentID), logger.Err(err))
		}
	}
	return st, nil
}

func (h *GetStatementHandler) empty(ctx context.Context, q GetStatementQuery) (*statement.Statement, error) {
	student, err := h.directory.ResolveStudent(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}
	term, err := h.directory.ResolveTerm(ctx, q.TermID)
	if err != nil {
		return nil, err
	}
	if student.SchoolID != term.SchoolID {
		return nil, shared.NotFound("statement", "Get", q.StudentID+":"+q.TermID)
	}
	return statement.Empty(q.StudentID, q.TermID, term.SchoolID), nil
}
