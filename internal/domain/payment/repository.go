package payment

import (
	"context"
)

// Repository persists payments.
type Repository interface {
	// Create stores a payment. A folio collision fails with a
	// duplicate folio error.
	Create(ctx context.Context, p *Payment) error

	// GetByID returns the payment or a not-found error.
	GetByID(ctx context.Context, id string) (*Payment, error)

	// GetForUpdate returns the payment locked for the current transaction.
	GetForUpdate(ctx context.Context, id string) (*Payment, error)

	// Update persists a cancellation.
	Update(ctx context.Context, p *Payment) error

	// ExistsByFolio reports whether the folio is taken.
	ExistsByFolio(ctx context.Context, folio string) (bool, error)

	// ListByCharge returns every payment of a charge, cancelled included.
	ListByCharge(ctx context.Context, chargeID string) ([]*Payment, error)

	// ListByStudentTerm returns every payment of the pair ordered by
	// application time.
	ListByStudentTerm(ctx context.Context, studentID, termID string) ([]*Payment, error)
}
