package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/schoolhub/student-ledger/internal/domain/statement"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StatementRepository implements statement.Repository for PostgreSQL.
type StatementRepository struct {
	q Querier
}

// NewStatementRepository creates a new StatementRepository.
func NewStatementRepository(q Querier) *StatementRepository {
	return &StatementRepository{q: q}
}

const statementColumns = `
	student_id, term_id, school_id, total_charges, total_discounts,
	total_late_fees, total_paid, pending_balance, credit_balance,
	pending_count, partial_count, paid_count, overdue_count, cancelled_count,
	has_outstanding_debt, has_overdue_charges, is_current, last_charge_at,
	last_payment_at, needs_attention, attention_note, recomputed_at, version`

// Get returns the stored statement or a not-found error.
func (r *StatementRepository) Get(ctx context.Context, studentID, termID string) (*statement.Statement, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+statementColumns+` FROM account_statements WHERE student_id = $1 AND term_id = $2`,
		studentID, termID)
	s, err := scanStatement(row)
	if err != nil {
		return nil, notFoundOr("statement", "Get", studentID+"/"+termID, err)
	}
	return s, nil
}

// Lock inserts the row when missing, then locks it. Concurrent first writers
// for one pair serialize on the primary key.
func (r *StatementRepository) Lock(ctx context.Context, studentID, termID, schoolID string) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO account_statements (student_id, term_id, school_id, recomputed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (student_id, term_id) DO NOTHING`,
		studentID, termID, schoolID)
	if err != nil {
		return mapError("statement", "Lock", err)
	}

	var locked string
	err = r.q.QueryRow(ctx,
		`SELECT student_id FROM account_statements WHERE student_id = $1 AND term_id = $2 FOR UPDATE`,
		studentID, termID).Scan(&locked)
	return mapError("statement", "Lock", err)
}

// Save upserts the statement and bumps its version.
func (r *StatementRepository) Save(ctx context.Context, s *statement.Statement) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO account_statements (`+statementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, 1)
		ON CONFLICT (student_id, term_id) DO UPDATE SET
			school_id = EXCLUDED.school_id,
			total_charges = EXCLUDED.total_charges,
			total_discounts = EXCLUDED.total_discounts,
			total_late_fees = EXCLUDED.total_late_fees,
			total_paid = EXCLUDED.total_paid,
			pending_balance = EXCLUDED.pending_balance,
			credit_balance = EXCLUDED.credit_balance,
			pending_count = EXCLUDED.pending_count,
			partial_count = EXCLUDED.partial_count,
			paid_count = EXCLUDED.paid_count,
			overdue_count = EXCLUDED.overdue_count,
			cancelled_count = EXCLUDED.cancelled_count,
			has_outstanding_debt = EXCLUDED.has_outstanding_debt,
			has_overdue_charges = EXCLUDED.has_overdue_charges,
			is_current = EXCLUDED.is_current,
			last_charge_at = EXCLUDED.last_charge_at,
			last_payment_at = EXCLUDED.last_payment_at,
			needs_attention = EXCLUDED.needs_attention,
			attention_note = EXCLUDED.attention_note,
			recomputed_at = EXCLUDED.recomputed_at,
			version = account_statements.version + 1
		RETURNING version`,
		s.StudentID,
		s.TermID,
		s.SchoolID,
		s.TotalCharges,
		s.TotalDiscounts,
		s.TotalLateFees,
		s.TotalPaid,
		s.PendingBalance,
		s.CreditBalance,
		s.PendingCount,
		s.PartialCount,
		s.PaidCount,
		s.OverdueCount,
		s.CancelledCount,
		s.HasOutstandingDebt,
		s.HasOverdueCharges,
		s.IsCurrent,
		s.LastChargeAt,
		s.LastPaymentAt,
		s.NeedsAttention,
		s.AttentionNote,
		s.RecomputedAt,
	).Scan(&s.Version)
	return mapError("statement", "Save", err)
}

// ListByTerm returns every statement of a school term.
func (r *StatementRepository) ListByTerm(ctx context.Context, schoolID, termID string) ([]*statement.Statement, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+statementColumns+` FROM account_statements WHERE school_id = $1 AND term_id = $2 ORDER BY student_id`,
		schoolID, termID)
	if err != nil {
		return nil, mapError("statement", "ListByTerm", err)
	}
	defer rows.Close()

	var out []*statement.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, mapError("statement", "ListByTerm", err)
		}
		out = append(out, s)
	}
	return out, mapError("statement", "ListByTerm", rows.Err())
}

func scanStatement(row pgx.Row) (*statement.Statement, error) {
	var s statement.Statement
	err := row.Scan(
		&s.StudentID,
		&s.TermID,
		&s.SchoolID,
		&s.TotalCharges,
		&s.TotalDiscounts,
		&s.TotalLateFees,
		&s.TotalPaid,
		&s.PendingBalance,
		&s.CreditBalance,
		&s.PendingCount,
		&s.PartialCount,
		&s.PaidCount,
		&s.OverdueCount,
		&s.CancelledCount,
		&s.HasOutstandingDebt,
		&s.HasOverdueCharges,
		&s.IsCurrent,
		&s.LastChargeAt,
		&s.LastPaymentAt,
		&s.NeedsAttention,
		&s.AttentionNote,
		&s.RecomputedAt,
		&s.Version,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

var _ statement.Repository = (*StatementRepository)(nil)
