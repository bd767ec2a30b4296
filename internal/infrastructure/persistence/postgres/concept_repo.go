package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONCEPT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ConceptRepository implements concept.Repository for PostgreSQL.
type ConceptRepository struct {
	q Querier
}

// NewConceptRepository creates a new ConceptRepository.
func NewConceptRepository(q Querier) *ConceptRepository {
	return &ConceptRepository{q: q}
}

const conceptColumns = `
	id, school_id, term_id, name, description, base_amount, recurring,
	periodicity, due_day, discount_ceiling, late_fee_rate, grace_period_days,
	active, created_at, updated_at, deactivated_at, deactivated_by`

// Create stores a new concept.
func (r *ConceptRepository) Create(ctx context.Context, c *concept.Concept) error {
	query := `INSERT INTO payment_concepts (` + conceptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.q.Exec(ctx, query,
		c.ID,
		c.SchoolID,
		c.TermID,
		c.Name,
		c.Description,
		c.BaseAmount,
		c.Recurring,
		string(c.Periodicity),
		c.DueDay,
		c.DiscountCeiling,
		nullDecimal(c.LateFeeRate),
		c.GracePeriodDays,
		c.Active,
		c.CreatedAt,
		c.UpdatedAt,
		c.DeactivatedAt,
		c.DeactivatedBy,
	)
	return mapError("concept", "Create", err)
}

// GetByID returns the concept or a not-found error.
func (r *ConceptRepository) GetByID(ctx context.Context, id string) (*concept.Concept, error) {
	if !shared.IsValidID(id) {
		return nil, shared.NotFound("concept", "GetByID", id)
	}
	row := r.q.QueryRow(ctx, `SELECT `+conceptColumns+` FROM payment_concepts WHERE id = $1`, id)
	c, err := scanConcept(row)
	if err != nil {
		return nil, notFoundOr("concept", "GetByID", id, err)
	}
	return c, nil
}

// Update persists a deactivation.
func (r *ConceptRepository) Update(ctx context.Context, c *concept.Concept) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE payment_concepts SET
			active = $2,
			updated_at = $3,
			deactivated_at = $4,
			deactivated_by = $5
		WHERE id = $1`,
		c.ID, c.Active, c.UpdatedAt, c.DeactivatedAt, c.DeactivatedBy,
	)
	if err != nil {
		return mapError("concept", "Update", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("concept", "Update", c.ID)
	}
	return nil
}

// Delete removes a concept that no charge references.
func (r *ConceptRepository) Delete(ctx context.Context, id string) error {
	if !shared.IsValidID(id) {
		return shared.NotFound("concept", "Delete", id)
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM payment_concepts WHERE id = $1`, id)
	if err != nil {
		return mapError("concept", "Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("concept", "Delete", id)
	}
	return nil
}

// List returns concepts matching the filter ordered by name.
func (r *ConceptRepository) List(ctx context.Context, f concept.Filter) ([]*concept.Concept, error) {
	where, args := conceptWhere(f)
	rows, err := r.q.Query(ctx, `SELECT `+conceptColumns+` FROM payment_concepts`+where+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, mapError("concept", "List", err)
	}
	defer rows.Close()

	var out []*concept.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, mapError("concept", "List", err)
		}
		out = append(out, c)
	}
	return out, mapError("concept", "List", rows.Err())
}

func conceptWhere(f concept.Filter) (string, []interface{}) {
	var b whereBuilder
	if f.SchoolID != "" {
		b.add("school_id = ?", f.SchoolID)
	}
	if f.TermID != "" {
		b.add("term_id = ?", f.TermID)
	}
	if f.ActiveOnly {
		b.add("active")
	}
	if f.RecurringOnly {
		b.add("recurring")
	}
	return b.build()
}

func scanConcept(row pgx.Row) (*concept.Concept, error) {
	var (
		c           concept.Concept
		periodicity string
		lateFeeRate decimal.NullDecimal
	)
	err := row.Scan(
		&c.ID,
		&c.SchoolID,
		&c.TermID,
		&c.Name,
		&c.Description,
		&c.BaseAmount,
		&c.Recurring,
		&periodicity,
		&c.DueDay,
		&c.DiscountCeiling,
		&lateFeeRate,
		&c.GracePeriodDays,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.DeactivatedAt,
		&c.DeactivatedBy,
	)
	if err != nil {
		return nil, err
	}
	c.Periodicity = concept.Periodicity(periodicity)
	if lateFeeRate.Valid {
		rate := lateFeeRate.Decimal
		c.LateFeeRate = &rate
	}
	return &c, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// whereBuilder assembles AND-ed conditions, numbering "?" placeholders.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (b *whereBuilder) add(cond string, args ...interface{}) {
	for _, a := range args {
		b.args = append(b.args, a)
		cond = strings.Replace(cond, "?", "$"+strconv.Itoa(len(b.args)), 1)
	}
	b.conds = append(b.conds, cond)
}

func (b *whereBuilder) build() (string, []interface{}) {
	if len(b.conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(b.conds, " AND "), b.args
}

func (b *whereBuilder) next(arg interface{}) string {
	b.args = append(b.args, arg)
	return "$" + strconv.Itoa(len(b.args))
}
