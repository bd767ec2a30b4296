package postgres

import (
	"context"

	"github.com/schoolhub/student-ledger/internal/domain/tenant"
)

// DirectoryRepository resolves students and terms from the replica tables
// maintained by the directory sync.
type DirectoryRepository struct {
	q Querier
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(q Querier) *DirectoryRepository {
	return &DirectoryRepository{q: q}
}

var _ tenant.Directory = (*DirectoryRepository)(nil)

// ResolveStudent returns a not-found error for unknown ids.
func (r *DirectoryRepository) ResolveStudent(ctx context.Context, studentID string) (*tenant.Student, error) {
	var s tenant.Student
	err := r.q.QueryRow(ctx,
		`SELECT id, school_id, name, active FROM directory_students WHERE id = $1`, studentID,
	).Scan(&s.ID, &s.SchoolID, &s.Name, &s.Active)
	if err != nil {
		return nil, notFoundOr("student", "Resolve", studentID, err)
	}
	return &s, nil
}

// ResolveTerm returns a not-found error for unknown ids.
func (r *DirectoryRepository) ResolveTerm(ctx context.Context, termID string) (*tenant.Term, error) {
	var t tenant.Term
	err := r.q.QueryRow(ctx,
		`SELECT id, school_id, name, start_date, end_date FROM directory_terms WHERE id = $1`, termID,
	).Scan(&t.ID, &t.SchoolID, &t.Name, &t.StartDate, &t.EndDate)
	if err != nil {
		return nil, notFoundOr("term", "Resolve", termID, err)
	}
	return &t, nil
}

// ListActiveStudents returns the active students of a school.
func (r *DirectoryRepository) ListActiveStudents(ctx context.Context, schoolID string) ([]*tenant.Student, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, school_id, name, active FROM directory_students WHERE school_id = $1 AND active ORDER BY id`,
		schoolID)
	if err != nil {
		return nil, mapError("student", "ListActive", err)
	}
	defer rows.Close()

	var out []*tenant.Student
	for rows.Next() {
		var s tenant.Student
		if err := rows.Scan(&s.ID, &s.SchoolID, &s.Name, &s.Active); err != nil {
			return nil, mapError("student", "ListActive", err)
		}
		out = append(out, &s)
	}
	return out, mapError("student", "ListActive", rows.Err())
}
