package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PaymentRepository implements payment.Repository for PostgreSQL.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(q Querier) *PaymentRepository {
	return &PaymentRepository{q: q}
}

const paymentColumns = `
	id, charge_id, student_id, school_id, term_id, amount, method, folio,
	reference, invoice_id, received_by, payment_date, applied_at, cancelled,
	cancellation_reason, cancelled_by, cancelled_at`

// Create stores a payment. A folio collision fails with a duplicate folio
// error.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.q.Exec(ctx, query,
		p.ID,
		p.ChargeID,
		p.StudentID,
		p.SchoolID,
		p.TermID,
		p.Amount,
		string(p.Method),
		p.Folio,
		p.Reference,
		p.InvoiceID,
		p.ReceivedBy,
		p.PaymentDate,
		p.AppliedAt,
		p.Cancelled,
		p.CancellationReason,
		p.CancelledBy,
		p.CancelledAt,
	)
	if IsUniqueViolation(err) {
		if _, constraint := pgCode(err); constraint == constraintFolio {
			return payment.DuplicateFolio(p.Folio)
		}
	}
	return mapError("payment", "Create", err)
}

// GetByID returns the payment or a not-found error.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	return r.get(ctx, "GetByID", id, "")
}

// GetForUpdate returns the payment locked for the current transaction.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	return r.get(ctx, "GetForUpdate", id, " FOR UPDATE")
}

func (r *PaymentRepository) get(ctx context.Context, op, id, suffix string) (*payment.Payment, error) {
	if !shared.IsValidID(id) {
		return nil, shared.NotFound("payment", op, id)
	}
	row := r.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`+suffix, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFoundOr("payment", op, id, err)
	}
	return p, nil
}

// Update persists a cancellation.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE payments SET
			cancelled = $2,
			cancellation_reason = $3,
			cancelled_by = $4,
			cancelled_at = $5
		WHERE id = $1`,
		p.ID, p.Cancelled, p.CancellationReason, p.CancelledBy, p.CancelledAt,
	)
	if err != nil {
		return mapError("payment", "Update", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("payment", "Update", p.ID)
	}
	return nil
}

// ExistsByFolio reports whether the folio is taken.
func (r *PaymentRepository) ExistsByFolio(ctx context.Context, folio string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE folio = $1)`, folio).Scan(&exists)
	return exists, mapError("payment", "ExistsByFolio", err)
}

// ListByCharge returns every payment of a charge, cancelled included.
func (r *PaymentRepository) ListByCharge(ctx context.Context, chargeID string) ([]*payment.Payment, error) {
	if !shared.IsValidID(chargeID) {
		return nil, nil
	}
	return r.list(ctx, "ListByCharge",
		`SELECT `+paymentColumns+` FROM payments WHERE charge_id = $1 ORDER BY applied_at, id`, chargeID)
}

// ListByStudentTerm returns every payment of the pair ordered by
// application time.
func (r *PaymentRepository) ListByStudentTerm(ctx context.Context, studentID, termID string) ([]*payment.Payment, error) {
	return r.list(ctx, "ListByStudentTerm",
		`SELECT `+paymentColumns+` FROM payments WHERE student_id = $1 AND term_id = $2 ORDER BY applied_at, id`,
		studentID, termID)
}

func (r *PaymentRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*payment.Payment, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("payment", op, err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapError("payment", op, err)
		}
		out = append(out, p)
	}
	return out, mapError("payment", op, rows.Err())
}

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var (
		p      payment.Payment
		method string
	)
	err := row.Scan(
		&p.ID,
		&p.ChargeID,
		&p.StudentID,
		&p.SchoolID,
		&p.TermID,
		&p.Amount,
		&method,
		&p.Folio,
		&p.Reference,
		&p.InvoiceID,
		&p.ReceivedBy,
		&p.PaymentDate,
		&p.AppliedAt,
		&p.Cancelled,
		&p.CancellationReason,
		&p.CancelledBy,
		&p.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	p.Method = payment.Method(method)
	return &p, nil
}
