package charge

import (
	"context"
	"time"
)

// Repository persists charges. Implementations bound to a transaction honour
// GetForUpdate row locks until commit.
type Repository interface {
	// Create stores a new charge.
	Create(ctx context.Context, c *Charge) error

	// GetByID returns the charge or a not-found error.
	GetByID(ctx context.Context, id string) (*Charge, error)

	// GetForUpdate returns the charge and locks it for the current
	// transaction. A lock wait beyond the configured timeout fails with a
	// contention error.
	GetForUpdate(ctx context.Context, id string) (*Charge, error)

	// Update persists a transitioned charge.
	Update(ctx context.Context, c *Charge) error

	// ListByStudentTerm returns every charge of the pair, cancelled included.
	ListByStudentTerm(ctx context.Context, studentID, termID string) ([]*Charge, error)

	// List returns charges matching the filter ordered by due date.
	List(ctx context.Context, f Filter) ([]*Charge, error)

	// ExistsForPeriod reports whether an auto-generated charge exists for
	// the student, concept and period.
	ExistsForPeriod(ctx context.Context, studentID, conceptID, periodKey string) (bool, error)

	// CountByConcept returns how many charges reference the concept.
	CountByConcept(ctx context.Context, conceptID string) (int, error)
}

// Filter narrows charge listings.
type Filter struct {
	SchoolID  string
	TermID    string
	StudentID string
	Statuses  []Status
	DueBefore *time.Time
	Limit     int
}

// OverdueCandidates returns a filter for the late fee sweep.
func OverdueCandidates(dueBefore time.Time, limit int) Filter {
	return Filter{
		Statuses:  []Status{StatusPending, StatusPartiallyPaid, StatusOverdue},
		DueBefore: &dueBefore,
		Limit:     limit,
	}
}

// Matches reports whether c satisfies the filter, ignoring Limit.
func (f Filter) Matches(c *Charge) bool {
	if f.SchoolID != "" && c.SchoolID != f.SchoolID {
		return false
	}
	if f.TermID != "" && c.TermID != f.TermID {
		return false
	}
	if f.StudentID != "" && c.StudentID != f.StudentID {
		return false
	}
	if f.DueBefore != nil && !c.DueDate.Before(*f.DueBefore) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
