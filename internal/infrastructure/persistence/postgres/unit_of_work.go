package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/schoolhub/student-ledger/internal/domain/ledger"
)

// UnitOfWork runs ledger functions in a ReadCommitted transaction whose row
// lock waits are bounded by the connection's lock timeout.
type UnitOfWork struct {
	conn *Connection
}

// NewUnitOfWork creates a new UnitOfWork.
func NewUnitOfWork(conn *Connection) *UnitOfWork {
	return &UnitOfWork{conn: conn}
}

var _ ledger.UnitOfWork = (*UnitOfWork)(nil)

// WithinTx implements ledger.UnitOfWork. Lock timeouts, deadlocks and
// serialization failures surface as contention errors.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ledger.Repositories) error) error {
	opts := DefaultTxOptions()
	opts.LockTimeout = u.conn.LockTimeout()

	err := u.conn.WithTx(ctx, opts, func(tx pgx.Tx) error {
		return fn(ctx, repositories(tx))
	})
	if err != nil && IsContention(err) {
		return mapError("ledger", "WithinTx", err)
	}
	return err
}

// Reader implements ledger.UnitOfWork.
func (u *UnitOfWork) Reader() ledger.Repositories {
	return repositories(u.conn)
}

func repositories(q Querier) ledger.Repositories {
	return ledger.Repositories{
		Concepts:   NewConceptRepository(q),
		Charges:    NewChargeRepository(q),
		Payments:   NewPaymentRepository(q),
		Statements: NewStatementRepository(q),
	}
}
