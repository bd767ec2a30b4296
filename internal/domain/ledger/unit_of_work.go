// Package ledger ties the per-entity repositories into transactional units.
package ledger

import (
	"context"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
)

// Repositories bundles repositories that share one transaction or one
// read-only view.
type Repositories struct {
	Concepts   concept.Repository
	Charges    charge.Repository
	Payments   payment.Repository
	Statements statement.Repository
}

// UnitOfWork runs functions inside a transaction.
type UnitOfWork interface {
	// WithinTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; nothing fn wrote survives a
	// failure. Lock waits are bounded and surface as contention errors.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	// Reader returns repositories for lock-free reads outside a transaction.
	Reader() Repositories
}
