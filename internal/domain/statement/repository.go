package statement

import (
	"context"
)

// Repository persists statements, one row per (student, term).
type Repository interface {
	// Get returns the stored statement or a not-found error.
	Get(ctx context.Context, studentID, termID string) (*Statement, error)

	// Lock makes sure the row exists and locks it for the current
	// transaction. Callers lock charges before statements.
	Lock(ctx context.Context, studentID, termID, schoolID string) error

	// Save upserts the statement and bumps its version.
	Save(ctx context.Context, s *Statement) error

	// ListByTerm returns every statement of a school term.
	ListByTerm(ctx context.Context, schoolID, termID string) ([]*Statement, error)
}

// Cache holds read-side copies of statements. It is never authoritative:
// a miss or an error falls back to the repository.
type Cache interface {
	// Get returns nil without error on a miss.
	Get(ctx context.Context, studentID, termID string) (*Statement, error)

	// Set stores the statement with the cache's configured TTL.
	Set(ctx context.Context, s *Statement) error

	// Invalidate drops the cached copy of a pair.
	Invalidate(ctx context.Context, studentID, termID string) error
}
