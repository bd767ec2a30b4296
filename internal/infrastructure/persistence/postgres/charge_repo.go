package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHARGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ChargeRepository implements charge.Repository for PostgreSQL.
type ChargeRepository struct {
	q Querier
}

// NewChargeRepository creates a new ChargeRepository.
func NewChargeRepository(q Querier) *ChargeRepository {
	return &ChargeRepository{q: q}
}

const chargeColumns = `
	id, student_id, school_id, concept_id, term_id, description, period_key,
	amount, discount, discount_percent, late_fee, final_amount, paid_amount,
	pending_balance, due_date, status, receipt_number, auto_generated,
	last_late_fee_accrual_at, overdue_at, cancellation_reason, cancelled_by,
	cancelled_at, created_by, created_at, updated_at, version`

// Create stores a new charge.
func (r *ChargeRepository) Create(ctx context.Context, c *charge.Charge) error {
	query := `INSERT INTO charges (` + chargeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	_, err := r.q.Exec(ctx, query,
		c.ID,
		c.StudentID,
		c.SchoolID,
		c.ConceptID,
		c.TermID,
		c.Description,
		c.PeriodKey,
		c.Amount,
		c.Discount,
		c.DiscountPercent,
		c.LateFee,
		c.FinalAmount,
		c.PaidAmount,
		c.PendingBalance,
		c.DueDate,
		string(c.Status),
		c.ReceiptNumber,
		c.AutoGenerated,
		c.LastLateFeeAccrualAt,
		c.OverdueAt,
		c.CancellationReason,
		c.CancelledBy,
		c.CancelledAt,
		c.CreatedBy,
		c.CreatedAt,
		c.UpdatedAt,
		c.Version,
	)
	return mapError("charge", "Create", err)
}

// GetByID returns the charge or a not-found error.
func (r *ChargeRepository) GetByID(ctx context.Context, id string) (*charge.Charge, error) {
	return r.get(ctx, "GetByID", id, "")
}

// GetForUpdate locks the charge row until the transaction ends. The wait
// is bounded by the transaction's lock_timeout.
func (r *ChargeRepository) GetForUpdate(ctx context.Context, id string) (*charge.Charge, error) {
	return r.get(ctx, "GetForUpdate", id, " FOR UPDATE")
}

func (r *ChargeRepository) get(ctx context.Context, op, id, suffix string) (*charge.Charge, error) {
	if !shared.IsValidID(id) {
		return nil, shared.NotFound("charge", op, id)
	}
	row := r.q.QueryRow(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = $1`+suffix, id)
	c, err := scanCharge(row)
	if err != nil {
		return nil, notFoundOr("charge", op, id, err)
	}
	return c, nil
}

// Update persists a transitioned charge. Identity columns never change.
func (r *ChargeRepository) Update(ctx context.Context, c *charge.Charge) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE charges SET
			late_fee = $2,
			final_amount = $3,
			paid_amount = $4,
			pending_balance = $5,
			status = $6,
			receipt_number = $7,
			last_late_fee_accrual_at = $8,
			overdue_at = $9,
			cancellation_reason = $10,
			cancelled_by = $11,
			cancelled_at = $12,
			updated_at = $13,
			version = $14
		WHERE id = $1`,
		c.ID,
		c.LateFee,
		c.FinalAmount,
		c.PaidAmount,
		c.PendingBalance,
		string(c.Status),
		c.ReceiptNumber,
		c.LastLateFeeAccrualAt,
		c.OverdueAt,
		c.CancellationReason,
		c.CancelledBy,
		c.CancelledAt,
		c.UpdatedAt,
		c.Version,
	)
	if err != nil {
		return mapError("charge", "Update", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("charge", "Update", c.ID)
	}
	return nil
}

// ListByStudentTerm returns every charge of the pair, cancelled included.
func (r *ChargeRepository) ListByStudentTerm(ctx context.Context, studentID, termID string) ([]*charge.Charge, error) {
	return r.List(ctx, charge.Filter{StudentID: studentID, TermID: termID})
}

// List returns charges matching the filter ordered by due date.
func (r *ChargeRepository) List(ctx context.Context, f charge.Filter) ([]*charge.Charge, error) {
	query, args := chargeListQuery(f)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("charge", "List", err)
	}
	defer rows.Close()

	var out []*charge.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, mapError("charge", "List", err)
		}
		out = append(out, c)
	}
	return out, mapError("charge", "List", rows.Err())
}

func chargeListQuery(f charge.Filter) (string, []interface{}) {
	var b whereBuilder
	if f.SchoolID != "" {
		b.add("school_id = ?", f.SchoolID)
	}
	if f.TermID != "" {
		b.add("term_id = ?", f.TermID)
	}
	if f.StudentID != "" {
		b.add("student_id = ?", f.StudentID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		b.add("status = ANY(?)", statuses)
	}
	if f.DueBefore != nil {
		b.add("due_date < ?", *f.DueBefore)
	}

	where, _ := b.build()
	var sb strings.Builder
	sb.WriteString(`SELECT ` + chargeColumns + ` FROM charges`)
	sb.WriteString(where)
	sb.WriteString(` ORDER BY due_date, created_at, id`)
	if f.Limit > 0 {
		sb.WriteString(` LIMIT ` + b.next(f.Limit))
	}
	return sb.String(), b.args
}

// ExistsForPeriod reports whether an auto-generated charge exists for the
// student, concept and period.
func (r *ChargeRepository) ExistsForPeriod(ctx context.Context, studentID, conceptID, periodKey string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM charges
			WHERE student_id = $1 AND concept_id = $2 AND period_key = $3 AND auto_generated
		)`, studentID, conceptID, periodKey).Scan(&exists)
	return exists, mapError("charge", "ExistsForPeriod", err)
}

// CountByConcept returns how many charges reference the concept.
func (r *ChargeRepository) CountByConcept(ctx context.Context, conceptID string) (int, error) {
	if !shared.IsValidID(conceptID) {
		return 0, nil
	}
	var n int
	err := r.q.QueryRow(ctx, `SELECT count(*) FROM charges WHERE concept_id = $1`, conceptID).Scan(&n)
	return n, mapError("charge", "CountByConcept", err)
}

func scanCharge(row pgx.Row) (*charge.Charge, error) {
	var (
		c      charge.Charge
		status string
	)
	err := row.Scan(
		&c.ID,
		&c.StudentID,
		&c.SchoolID,
		&c.ConceptID,
		&c.TermID,
		&c.Description,
		&c.PeriodKey,
		&c.Amount,
		&c.Discount,
		&c.DiscountPercent,
		&c.LateFee,
		&c.FinalAmount,
		&c.PaidAmount,
		&c.PendingBalance,
		&c.DueDate,
		&status,
		&c.ReceiptNumber,
		&c.AutoGenerated,
		&c.LastLateFeeAccrualAt,
		&c.OverdueAt,
		&c.CancellationReason,
		&c.CancelledBy,
		&c.CancelledAt,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.Version,
	)
	if err != nil {
		return nil, err
	}
	c.Status = charge.Status(status)
	return &c, nil
}
