// Package memory implements the ledger repositories in process memory.
// Transactions are serialized behind a single semaphore; each one works on a
// private copy of the state that replaces the committed state on success.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
)

// DefaultLockTimeout bounds how long a transaction waits for its turn.
const DefaultLockTimeout = 5 * time.Second

var errLockTimeout = errors.New("lock wait timeout")

type state struct {
	concepts   map[string]*concept.Concept
	charges    map[string]*charge.Charge
	payments   map[string]*payment.Payment
	statements map[string]*statement.Statement
	folios     map[string]string
}

func newState() *state {
	return &state{
		concepts:   make(map[string]*concept.Concept),
		charges:    make(map[string]*charge.Charge),
		payments:   make(map[string]*payment.Payment),
		statements: make(map[string]*statement.Statement),
		folios:     make(map[string]string),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.concepts {
		c.concepts[k] = copyConcept(v)
	}
	for k, v := range s.charges {
		c.charges[k] = copyCharge(v)
	}
	for k, v := range s.payments {
		c.payments[k] = copyPayment(v)
	}
	for k, v := range s.statements {
		c.statements[k] = copyStatement(v)
	}
	for k, v := range s.folios {
		c.folios[k] = v
	}
	return c
}

func copyConcept(c *concept.Concept) *concept.Concept {
	cp := *c
	return &cp
}

func copyCharge(c *charge.Charge) *charge.Charge {
	cp := *c
	return &cp
}

func copyPayment(p *payment.Payment) *payment.Payment {
	cp := *p
	return &cp
}

func copyStatement(s *statement.Statement) *statement.Statement {
	cp := *s
	return &cp
}

// Store is an in-memory ledger.UnitOfWork.
type Store struct {
	mu          sync.RWMutex
	committed   *state
	txSem       chan struct{}
	lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout overrides the transaction wait bound.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		committed:   newState(),
		txSem:       make(chan struct{}, 1),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ledger.UnitOfWork = (*Store)(nil)

// WithinTx implements ledger.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ledger.Repositories) error) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.txSem <- struct{}{}:
	case <-timer.C:
		return shared.Contention("ledger", "WithinTx", errLockTimeout)
	case <-ctx.Done():
		return shared.Contention("ledger", "WithinTx", ctx.Err())
	}
	defer func() { <-s.txSem }()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(ctx, reposFor(&txView{st: work})); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

// Reader implements ledger.UnitOfWork.
func (s *Store) Reader() ledger.Repositories {
	return reposFor(&committedView{store: s})
}

// view abstracts access to either a transaction copy or committed state.
type view interface {
	read(fn func(st *state) error) error
	write(fn func(st *state) error) error
}

type txView struct {
	st *state
}

func (v *txView) read(fn func(st *state) error) error  { return fn(v.st) }
func (v *txView) write(fn func(st *state) error) error { return fn(v.st) }

type committedView struct {
	store *Store
}

func (v *committedView) read(fn func(st *state) error) error {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return fn(v.store.committed)
}

func (v *committedView) write(fn func(st *state) error) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.committed)
}

func reposFor(v view) ledger.Repositories {
	return ledger.Repositories{
		Concepts:   &conceptRepo{v: v},
		Charges:    &chargeRepo{v: v},
		Payments:   &paymentRepo{v: v},
		Statements: &statementRepo{v: v},
	}
}
