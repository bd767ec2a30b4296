package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

func sampleCharge(id string) *charge.Charge {
	return &charge.Charge{
		ID:             id,
		StudentID:      "student-1",
		TermID:         "term-1",
		ConceptID:      "concept-1",
		FinalAmount:    decimal.NewFromInt(100),
		PendingBalance: decimal.NewFromInt(100),
		Status:         charge.StatusPending,
		DueDate:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestStore_CommitAndRollback(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		return repos.Charges.Create(ctx, sampleCharge("c-1"))
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		require.NoError(t, repos.Charges.Create(ctx, sampleCharge("c-2")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Reader().Charges.GetByID(ctx, "c-1")
	assert.NoError(t, err)
	_, err = store.Reader().Charges.GetByID(ctx, "c-2")
	assert.True(t, shared.IsNotFound(err))
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Reader().Charges.Create(ctx, sampleCharge("c-1")))

	c, err := store.Reader().Charges.GetByID(ctx, "c-1")
	require.NoError(t, err)
	c.Status = charge.StatusPaid

	again, err := store.Reader().Charges.GetByID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPending, again.Status)
}

func TestStore_LockTimeout(t *testing.T) {
	store := NewStore(WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()

	started := make(chan struct{})
	hold := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.WithinTx(ctx, func(ctx context.Context, _ ledger.Repositories) error {
			close(started)
			<-hold
			return nil
		})
	}()

	<-started
	err := store.WithinTx(ctx, func(context.Context, ledger.Repositories) error { return nil })
	close(hold)
	<-done

	assert.ErrorIs(t, err, shared.ErrContention)
	assert.True(t, shared.IsRetryable(err))
}

func TestPaymentRepo_DuplicateFolio(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Reader().Payments

	require.NoError(t, repo.Create(ctx, &payment.Payment{ID: "p-1", Folio: "REC-1", Amount: decimal.NewFromInt(1)}))
	err := repo.Create(ctx, &payment.Payment{ID: "p-2", Folio: "REC-1", Amount: decimal.NewFromInt(1)})

	assert.ErrorIs(t, err, shared.ErrDuplicateFolio)
	exists, err := repo.ExistsByFolio(ctx, " rec-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStatementRepo_LockCreatesRowAndSaveBumpsVersion(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Reader().Statements

	require.NoError(t, repo.Lock(ctx, "s-1", "t-1", "school-1"))
	st, err := repo.Get(ctx, "s-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Version)

	require.NoError(t, repo.Save(ctx, st))
	require.NoError(t, repo.Save(ctx, st))
	st, err = repo.Get(ctx, "s-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Version)
}
