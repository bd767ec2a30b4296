package memory

import (
	"context"
	"sort"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
)

// ═══════════════════════════════════════════════════════════════════════════
// Concepts
// ═══════════════════════════════════════════════════════════════════════════

type conceptRepo struct{ v view }

func (r *conceptRepo) Create(_ context.Context, c *concept.Concept) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.concepts[c.ID]; ok {
			return shared.NewDomainError("concept", "Create", shared.ErrValidation, "concept already exists")
		}
		st.concepts[c.ID] = copyConcept(c)
		return nil
	})
}

func (r *conceptRepo) GetByID(_ context.Context, id string) (*concept.Concept, error) {
	var out *concept.Concept
	err := r.v.read(func(st *state) error {
		c, ok := st.concepts[id]
		if !ok {
			return shared.NotFound("concept", "GetByID", id)
		}
		out = copyConcept(c)
		return nil
	})
	return out, err
}

func (r *conceptRepo) Update(_ context.Context, c *concept.Concept) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.concepts[c.ID]; !ok {
			return shared.NotFound("concept", "Update", c.ID)
		}
		st.concepts[c.ID] = copyConcept(c)
		return nil
	})
}

func (r *conceptRepo) Delete(_ context.Context, id string) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.concepts[id]; !ok {
			return shared.NotFound("concept", "Delete", id)
		}
		for _, ch := range st.charges {
			if ch.ConceptID == id {
				return shared.PolicyViolation("concept", "Delete", "concept is referenced by charges")
			}
		}
		delete(st.concepts, id)
		return nil
	})
}

func (r *conceptRepo) List(_ context.Context, f concept.Filter) ([]*concept.Concept, error) {
	var out []*concept.Concept
	err := r.v.read(func(st *state) error {
		for _, c := range st.concepts {
			if f.Matches(c) {
				out = append(out, copyConcept(c))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Charges
// ═══════════════════════════════════════════════════════════════════════════

type chargeRepo struct{ v view }

func (r *chargeRepo) Create(_ context.Context, c *charge.Charge) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.charges[c.ID]; ok {
			return shared.NewDomainError("charge", "Create", shared.ErrValidation, "charge already exists")
		}
		if c.AutoGenerated {
			for _, other := range st.charges {
				if other.AutoGenerated && other.StudentID == c.StudentID &&
					other.ConceptID == c.ConceptID && other.PeriodKey == c.PeriodKey {
					return shared.PolicyViolation("charge", "Create", "charge already generated for period")
				}
			}
		}
		st.charges[c.ID] = copyCharge(c)
		return nil
	})
}

func (r *chargeRepo) GetByID(_ context.Context, id string) (*charge.Charge, error) {
	var out *charge.Charge
	err := r.v.read(func(st *state) error {
		c, ok := st.charges[id]
		if !ok {
			return shared.NotFound("charge", "GetByID", id)
		}
		out = copyCharge(c)
		return nil
	})
	return out, err
}

// GetForUpdate relies on the store-wide transaction semaphore for exclusion.
func (r *chargeRepo) GetForUpdate(ctx context.Context, id string) (*charge.Charge, error) {
	return r.GetByID(ctx, id)
}

func (r *chargeRepo) Update(_ context.Context, c *charge.Charge) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.charges[c.ID]; !ok {
			return shared.NotFound("charge", "Update", c.ID)
		}
		st.charges[c.ID] = copyCharge(c)
		return nil
	})
}

func (r *chargeRepo) ListByStudentTerm(ctx context.Context, studentID, termID string) ([]*charge.Charge, error) {
	return r.List(ctx, charge.Filter{StudentID: studentID, TermID: termID})
}

func (r *chargeRepo) List(_ context.Context, f charge.Filter) ([]*charge.Charge, error) {
	var out []*charge.Charge
	err := r.v.read(func(st *state) error {
		for _, c := range st.charges {
			if f.Matches(c) {
				out = append(out, copyCharge(c))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].CreatedAt.Before(out[j].CreatedAt) ||
				(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, err
}

func (r *chargeRepo) ExistsForPeriod(_ context.Context, studentID, conceptID, periodKey string) (bool, error) {
	found := false
	err := r.v.read(func(st *state) error {
		for _, c := range st.charges {
			if c.AutoGenerated && c.StudentID == studentID && c.ConceptID == conceptID && c.PeriodKey == periodKey {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *chargeRepo) CountByConcept(_ context.Context, conceptID string) (int, error) {
	n := 0
	err := r.v.read(func(st *state) error {
		for _, c := range st.charges {
			if c.ConceptID == conceptID {
				n++
			}
		}
		return nil
	})
	return n, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Payments
// ═══════════════════════════════════════════════════════════════════════════

type paymentRepo struct{ v view }

func (r *paymentRepo) Create(_ context.Context, p *payment.Payment) error {
	return r.v.write(func(st *state) error {
		if _, taken := st.folios[p.Folio]; taken {
			return payment.DuplicateFolio(p.Folio)
		}
		st.payments[p.ID] = copyPayment(p)
		st.folios[p.Folio] = p.ID
		return nil
	})
}

func (r *paymentRepo) GetByID(_ context.Context, id string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.v.read(func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return shared.NotFound("payment", "GetByID", id)
		}
		out = copyPayment(p)
		return nil
	})
	return out, err
}

func (r *paymentRepo) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *paymentRepo) Update(_ context.Context, p *payment.Payment) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.payments[p.ID]; !ok {
			return shared.NotFound("payment", "Update", p.ID)
		}
		st.payments[p.ID] = copyPayment(p)
		return nil
	})
}

func (r *paymentRepo) ExistsByFolio(_ context.Context, folio string) (bool, error) {
	found := false
	err := r.v.read(func(st *state) error {
		_, found = st.folios[payment.NormalizeFolio(folio)]
		return nil
	})
	return found, err
}

func (r *paymentRepo) ListByCharge(_ context.Context, chargeID string) ([]*payment.Payment, error) {
	return r.collect(func(p *payment.Payment) bool { return p.ChargeID == chargeID })
}

func (r *paymentRepo) ListByStudentTerm(_ context.Context, studentID, termID string) ([]*payment.Payment, error) {
	return r.collect(func(p *payment.Payment) bool { return p.StudentID == studentID && p.TermID == termID })
}

func (r *paymentRepo) collect(keep func(p *payment.Payment) bool) ([]*payment.Payment, error) {
	var out []*payment.Payment
	err := r.v.read(func(st *state) error {
		for _, p := range st.payments {
			if keep(p) {
				out = append(out, copyPayment(p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppliedAt.Equal(out[j].AppliedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AppliedAt.Before(out[j].AppliedAt)
	})
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Statements
// ═══════════════════════════════════════════════════════════════════════════

type statementRepo struct{ v view }

func statementKey(studentID, termID string) string {
	return studentID + "|" + termID
}

func (r *statementRepo) Get(_ context.Context, studentID, termID string) (*statement.Statement, error) {
	var out *statement.Statement
	err := r.v.read(func(st *state) error {
		s, ok := st.statements[statementKey(studentID, termID)]
		if !ok {
			return shared.NotFound("statement", "Get", statementKey(studentID, termID))
		}
		out = copyStatement(s)
		return nil
	})
	return out, err
}

func (r *statementRepo) Lock(_ context.Context, studentID, termID, schoolID string) error {
	return r.v.write(func(st *state) error {
		key := statementKey(studentID, termID)
		if _, ok := st.statements[key]; !ok {
			st.statements[key] = statement.Empty(studentID, termID, schoolID)
		}
		return nil
	})
}

func (r *statementRepo) Save(_ context.Context, s *statement.Statement) error {
	return r.v.write(func(st *state) error {
		key := statementKey(s.StudentID, s.TermID)
		version := 0
		if cur, ok := st.statements[key]; ok {
			version = cur.Version
		}
		s.Version = version + 1
		st.statements[key] = copyStatement(s)
		return nil
	})
}

func (r *statementRepo) ListByTerm(_ context.Context, schoolID, termID string) ([]*statement.Statement, error) {
	var out []*statement.Statement
	err := r.v.read(func(st *state) error {
		for _, s := range st.statements {
			if s.SchoolID == schoolID && s.TermID == termID {
				out = append(out, copyStatement(s))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, err
}
