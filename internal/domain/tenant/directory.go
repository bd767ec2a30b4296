// Package tenant describes the school directory the ledger consumes.
// The directory is owned elsewhere; the ledger only resolves ids through it.
package tenant

import (
	"context"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// Student is the directory view of a student.
type Student struct {
	ID       string
	SchoolID string
	Name     string
	Active   bool
}

// Term is the directory view of an academic term.
type Term struct {
	ID        string
	SchoolID  string
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// Contains reports whether t falls inside the term, bounds included.
func (t *Term) Contains(at time.Time) bool {
	return !at.Before(t.StartDate) && !at.After(t.EndDate)
}

// Directory resolves tenant-scoped identities.
type Directory interface {
	// ResolveStudent returns a not-found error for unknown ids.
	ResolveStudent(ctx context.Context, studentID string) (*Student, error)

	// ResolveTerm returns a not-found error for unknown ids.
	ResolveTerm(ctx context.Context, termID string) (*Term, error)

	// ListActiveStudents returns the active students of a school.
	ListActiveStudents(ctx context.Context, schoolID string) ([]*Student, error)
}

// CheckEnrollment verifies that student and term belong to schoolID and the
// student is active. Every problem is reported.
func CheckEnrollment(student *Student, term *Term, schoolID string) shared.Violations {
	var v shared.Violations
	if student != nil {
		v.Check(student.SchoolID == schoolID, "student_id", "same_school", "student belongs to a different school")
		v.Check(student.Active, "student_id", "active", "student is not active")
	}
	if term != nil {
		v.Check(term.SchoolID == schoolID, "term_id", "same_school", "term belongs to a different school")
	}
	return v
}
