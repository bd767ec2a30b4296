package concept

import (
	"context"
)

// Repository persists payment concepts.
type Repository interface {
	// Create stores a new concept.
	Create(ctx context.Context, c *Concept) error

	// GetByID returns the concept or a not-found error.
	GetByID(ctx context.Context, id string) (*Concept, error)

	// Update persists a deactivation.
	Update(ctx context.Context, c *Concept) error

	// Delete removes a concept that no charge references.
	Delete(ctx context.Context, id string) error

	// List returns concepts matching the filter ordered by name.
	List(ctx context.Context, f Filter) ([]*Concept, error)
}

// Filter narrows concept listings.
type Filter struct {
	SchoolID      string
	TermID        string
	ActiveOnly    bool
	RecurringOnly bool
}

// Matches reports whether c satisfies the filter.
func (f Filter) Matches(c *Concept) bool {
	if f.SchoolID != "" && c.SchoolID != f.SchoolID {
		return false
	}
	if f.TermID != "" && c.TermID != f.TermID {
		return false
	}
	if f.ActiveOnly && !c.Active {
		return false
	}
	if f.RecurringOnly && !c.Recurring {
		return false
	}
	return true
}
