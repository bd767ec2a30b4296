package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
	"github.com/schoolhub/student-ledger/internal/domain/tenant"
	"github.com/schoolhub/student-ledger/internal/infrastructure/persistence/memory"
	"github.com/schoolhub/student-ledger/pkg/logger"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *recordingAudit) Record(_ context.Context, records []audit.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, records...)
}

type fixture struct {
	deps   *Deps
	store  *memory.Store
	dir    *memory.Directory
	clock  *clock
	events *recordingPublisher
	audit  *recordingAudit

	tuition *concept.Concept
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := &clock{now: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		store:  memory.NewStore(memory.WithLockTimeout(time.Second)),
		dir:    memory.NewDirectory(),
		clock:  clk,
		events: &recordingPublisher{},
		audit:  &recordingAudit{},
	}
	f.dir.PutTerm(tenant.Term{
		ID:        "term-1",
		SchoolID:  "school-1",
		Name:      "Spring 2025",
		StartDate: time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
	})
	f.dir.PutStudent(tenant.Student{ID: "student-1", SchoolID: "school-1", Name: "Ana", Active: true})
	f.dir.PutStudent(tenant.Student{ID: "student-2", SchoolID: "school-1", Name: "Luis", Active: true})
	f.dir.PutStudent(tenant.Student{ID: "student-9", SchoolID: "school-2", Name: "Other", Active: true})

	f.deps = &Deps{
		UoW:       f.store,
		Directory: f.dir,
		Events:    f.events,
		Audit:     f.audit,
		Policy:    DefaultPolicy(),
		Calendar:  timeutil.UTC().WithClock(clk.Now),
		Logger:    logger.Nop(),
	}

	rate := d("10")
	c, err := NewCreateConceptHandler(f.deps).Handle(context.Background(), CreateConceptCommand{
		SchoolID:        "school-1",
		TermID:          "term-1",
		Name:            "Tuition",
		BaseAmount:      d("1000"),
		DiscountCeiling: d("20"),
		LateFeeRate:     &rate,
		GracePeriodDays: 5,
		ActorID:         "admin-1",
	})
	require.NoError(t, err)
	f.tuition = c
	return f
}

func (f *fixture) charge(t *testing.T, studentID, pct string) *charge.Charge {
	t.Helper()
	c, err := NewCreateChargeHandler(f.deps).Handle(context.Background(), CreateChargeCommand{
		StudentID:       studentID,
		ConceptID:       f.tuition.ID,
		TermID:          "term-1",
		DueDate:         time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		DiscountPercent: d(pct),
		ActorID:         "admin-1",
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) pay(ctx context.Context, chargeID, amount, folio string) (*PaymentResult, error) {
	return NewApplyPaymentHandler(f.deps).Handle(ctx, ApplyPaymentCommand{
		ChargeID: chargeID,
		Amount:   d(amount),
		Method:   "cash",
		Folio:    folio,
		ActorID:  "cashier-1",
	})
}

func TestCreateCharge_DiscountAndStatement(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")

	assert.True(t, d("900").Equal(c.FinalAmount))
	assert.Equal(t, charge.StatusPending, c.Status)

	st, err := f.store.Reader().Statements.Get(context.Background(), "student-1", "term-1")
	require.NoError(t, err)
	assert.True(t, d("1000").Equal(st.TotalCharges))
	assert.True(t, d("100").Equal(st.TotalDiscounts))
	assert.True(t, d("900").Equal(st.PendingBalance))
	assert.True(t, st.HasOutstandingDebt)
	assert.Contains(t, f.events.Types(), shared.EventChargeCreated)
	assert.Contains(t, f.events.Types(), shared.EventStatementRecomputed)
}

func TestCreateCharge_RejectsOtherSchoolStudent(t *testing.T) {
	f := newFixture(t)

	_, err := NewCreateChargeHandler(f.deps).Handle(context.Background(), CreateChargeCommand{
		StudentID: "student-9",
		ConceptID: f.tuition.ID,
		TermID:    "term-1",
		DueDate:   time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		ActorID:   "admin-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateCharge_DiscountAboveCeiling(t *testing.T) {
	f := newFixture(t)

	_, err := NewCreateChargeHandler(f.deps).Handle(context.Background(), CreateChargeCommand{
		StudentID:       "student-1",
		ConceptID:       f.tuition.ID,
		TermID:          "term-1",
		DueDate:         time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		DiscountPercent: d("25"),
		ActorID:         "admin-1",
	})
	assert.ErrorIs(t, err, shared.ErrPolicyViolation)
}

func TestCreateChargesBulk_AggregatesAndCreatesNothing(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	_, err := NewCreateChargeHandler(f.deps).HandleBulk(context.Background(), []CreateChargeCommand{
		{StudentID: "student-1", ConceptID: f.tuition.ID, TermID: "term-1", DueDate: due, ActorID: "admin-1"},
		{StudentID: "ghost", ConceptID: f.tuition.ID, TermID: "term-1", DueDate: due, ActorID: "admin-1"},
		{StudentID: "student-2", ConceptID: f.tuition.ID, TermID: "term-1", DueDate: due, DiscountPercent: d("50"), ActorID: "admin-1"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)

	violations := shared.ViolationsOf(err)
	require.Len(t, violations, 2)
	assert.Equal(t, "items[1].student_id", violations[0].Field)
	assert.Equal(t, "policy", violations[1].Rule)

	n, err := f.store.Reader().Charges.CountByConcept(context.Background(), f.tuition.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateChargesBulk_AllOrNothingSuccess(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	created, err := NewCreateChargeHandler(f.deps).HandleBulk(context.Background(), []CreateChargeCommand{
		{StudentID: "student-1", ConceptID: f.tuition.ID, TermID: "term-1", DueDate: due, ActorID: "admin-1"},
		{StudentID: "student-2", ConceptID: f.tuition.ID, TermID: "term-1", DueDate: due, ActorID: "admin-1"},
	})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	for _, id := range []string{"student-1", "student-2"} {
		st, err := f.store.Reader().Statements.Get(context.Background(), id, "term-1")
		require.NoError(t, err)
		assert.True(t, d("1000").Equal(st.PendingBalance))
	}
}

func TestApplyPayment_PartialThenFull(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	ctx := context.Background()

	res, err := f.pay(ctx, c.ID, "400", "a-001")
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPartiallyPaid, res.Charge.Status)
	assert.True(t, d("500").Equal(res.Charge.PendingBalance))
	assert.Equal(t, "A-001", res.Payment.Folio)

	res, err = f.pay(ctx, c.ID, "500", "a-002")
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPaid, res.Charge.Status)
	assert.Equal(t, "A-002", res.Charge.ReceiptNumber)
	assert.True(t, res.Statement.PendingBalance.IsZero())
	assert.True(t, d("900").Equal(res.Statement.TotalPaid))
	assert.Contains(t, f.events.Types(), shared.EventChargePaid)
}

func TestApplyPayment_Overpayment(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")

	_, err := f.pay(context.Background(), c.ID, "900.01", "a-001")
	assert.ErrorIs(t, err, shared.ErrOverpayment)

	got, err := f.store.Reader().Charges.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero())
}

func TestApplyPayment_PaidChargeRejectsMore(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	ctx := context.Background()

	_, err := f.pay(ctx, c.ID, "900", "a-001")
	require.NoError(t, err)

	_, err = f.pay(ctx, c.ID, "1", "a-002")
	assert.ErrorIs(t, err, shared.ErrOverpayment)
}

func TestApplyPayment_DuplicateFolio(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	other := f.charge(t, "student-2", "0")
	ctx := context.Background()

	_, err := f.pay(ctx, c.ID, "100", "F-1")
	require.NoError(t, err)

	_, err = f.pay(ctx, other.ID, "100", " f-1 ")
	assert.ErrorIs(t, err, shared.ErrDuplicateFolio)
}

func TestApplyPayment_ValidationAggregated(t *testing.T) {
	f := newFixture(t)

	_, err := NewApplyPaymentHandler(f.deps).Handle(context.Background(), ApplyPaymentCommand{
		Amount: d("-5"),
		Method: "barter",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	fields := map[string]bool{}
	for _, v := range shared.ViolationsOf(err) {
		fields[v.Field] = true
	}
	for _, want := range []string{"amount", "method", "folio", "actor_id", "charge_id"} {
		assert.True(t, fields[want], want)
	}
}

func TestApplyPayment_RejectsAmountBeyondCurrencyScale(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	ctx := context.Background()

	_, err := f.pay(ctx, c.ID, "0.005", "F-SUB")
	require.ErrorIs(t, err, shared.ErrValidation)
	v := shared.ViolationsOf(err)
	require.Len(t, v, 1)
	assert.Equal(t, "amount", v[0].Field)
	assert.Equal(t, "scale", v[0].Rule)

	got, err := f.store.Reader().Charges.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero())

	// Trailing zeros are not extra precision.
	res, err := f.pay(ctx, c.ID, "100.500", "F-OK")
	require.NoError(t, err)
	assert.True(t, d("100.5").Equal(res.Statement.TotalPaid))
	assert.True(t, res.Statement.TotalPaid.Equal(res.Charge.PaidAmount))
	assert.True(t, d("799.5").Equal(res.Statement.PendingBalance))
}

func TestCreateConcept_RejectsBaseAmountBeyondCurrencyScale(t *testing.T) {
	f := newFixture(t)

	_, err := NewCreateConceptHandler(f.deps).Handle(context.Background(), CreateConceptCommand{
		SchoolID:   "school-1",
		TermID:     "term-1",
		Name:       "",
		BaseAmount: d("12.345"),
		ActorID:    "admin-1",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	rules := map[string]string{}
	for _, v := range shared.ViolationsOf(err) {
		rules[v.Field] = v.Rule
	}
	assert.Equal(t, "scale", rules["base_amount"])
	assert.Equal(t, "required", rules["name"])
}

// failingStatementsUoW runs the real store but fails every statement save.
type failingStatementsUoW struct {
	*memory.Store
}

func (u failingStatementsUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ledger.Repositories) error) error {
	return u.Store.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		repos.Statements = failingStatements{repos.Statements}
		return fn(ctx, repos)
	})
}

type failingStatements struct {
	statement.Repository
}

func (failingStatements) Save(context.Context, *statement.Statement) error {
	return errors.New("statement write failed")
}

func TestApplyPayment_StatementFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	ctx := context.Background()
	published := len(f.events.Types())

	f.deps.UoW = failingStatementsUoW{f.store}
	_, err := f.pay(ctx, c.ID, "400", "RB-1")
	require.Error(t, err)

	got, err := f.store.Reader().Charges.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero())
	assert.True(t, d("900").Equal(got.PendingBalance))
	assert.Equal(t, charge.StatusPending, got.Status)

	exists, err := f.store.Reader().Payments.ExistsByFolio(ctx, "RB-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Len(t, f.events.Types(), published)

	// The folio is still free once statements can be written again.
	f.deps.UoW = f.store
	res, err := f.pay(ctx, c.ID, "400", "RB-1")
	require.NoError(t, err)
	assert.True(t, d("500").Equal(res.Statement.PendingBalance))
}

func TestApplyPayment_ConcurrentOnSameCharge(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")

	errs := make([]error, 2)
	var g errgroup.Group
	for i, folio := range []string{"C-1", "C-2"} {
		i, folio := i, folio
		g.Go(func() error {
			_, errs[i] = f.pay(context.Background(), c.ID, "500", folio)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, shared.ErrOverpayment)
		}
	}
	assert.Equal(t, 1, failures)

	got, err := f.store.Reader().Charges.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, d("500").Equal(got.PaidAmount))
	assert.True(t, d("400").Equal(got.PendingBalance))
	require.NoError(t, got.CheckInvariants())
}

func TestCancelPayment_RestoresPriorState(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	ctx := context.Background()

	res, err := f.pay(ctx, c.ID, "400", "R-1")
	require.NoError(t, err)

	cancelled, err := NewCancelPaymentHandler(f.deps).Handle(ctx, CancelPaymentCommand{
		PaymentID: res.Payment.ID,
		ActorID:   "admin-1",
		Reason:    "wrong student",
	})
	require.NoError(t, err)
	assert.True(t, cancelled.Payment.Cancelled)
	assert.Equal(t, charge.StatusPending, cancelled.Charge.Status)
	assert.True(t, d("900").Equal(cancelled.Charge.PendingBalance))
	assert.True(t, d("900").Equal(cancelled.Statement.PendingBalance))
	assert.True(t, cancelled.Statement.TotalPaid.IsZero())

	_, err = NewCancelPaymentHandler(f.deps).Handle(ctx, CancelPaymentCommand{
		PaymentID: res.Payment.ID,
		ActorID:   "admin-1",
		Reason:    "again",
	})
	assert.ErrorIs(t, err, shared.ErrStateTransition)
}

func TestCancelCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("without payments", func(t *testing.T) {
		c := f.charge(t, "student-1", "0")
		got, err := NewCancelChargeHandler(f.deps).Handle(ctx, CancelChargeCommand{
			ChargeID: c.ID, ActorID: "admin-1", Reason: "issued twice",
		})
		require.NoError(t, err)
		assert.Equal(t, charge.StatusCancelled, got.Status)

		st, err := f.store.Reader().Statements.Get(ctx, "student-1", "term-1")
		require.NoError(t, err)
		assert.True(t, st.PendingBalance.IsZero())
		assert.Equal(t, 1, st.CancelledCount)
	})

	t.Run("with payments", func(t *testing.T) {
		c := f.charge(t, "student-2", "0")
		_, err := f.pay(ctx, c.ID, "10", "X-1")
		require.NoError(t, err)

		_, err = NewCancelChargeHandler(f.deps).Handle(ctx, CancelChargeCommand{
			ChargeID: c.ID, ActorID: "admin-1", Reason: "oops",
		})
		assert.ErrorIs(t, err, shared.ErrStateTransition)
	})
}

// day moves the clock to the given 2025 day and returns its midnight.
func (f *fixture) day(month time.Month, day int) time.Time {
	at := time.Date(2025, month, day, 0, 0, 0, 0, time.UTC)
	f.clock.Set(at.Add(9 * time.Hour))
	return at
}

func TestAccrueLateFee_OncePerMonth(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	ctx := context.Background()
	h := NewAccrueLateFeeHandler(f.deps)

	within, err := h.Handle(ctx, AccrueLateFeeCommand{ChargeID: c.ID, AsOf: f.day(time.March, 15)})
	require.NoError(t, err)
	assert.False(t, within.Outcome.Applied)
	assert.Equal(t, charge.SkipWithinGrace, within.Outcome.SkipReason)

	first, err := h.Handle(ctx, AccrueLateFeeCommand{ChargeID: c.ID, AsOf: f.day(time.March, 20)})
	require.NoError(t, err)
	require.True(t, first.Outcome.Applied)
	assert.True(t, d("90").Equal(first.Outcome.Amount))
	assert.Equal(t, charge.StatusOverdue, first.Charge.Status)
	assert.True(t, d("990").Equal(first.Charge.PendingBalance))

	again, err := h.Handle(ctx, AccrueLateFeeCommand{ChargeID: c.ID, AsOf: f.day(time.March, 28)})
	require.NoError(t, err)
	assert.False(t, again.Outcome.Applied)
	assert.Equal(t, charge.SkipSamePeriod, again.Outcome.SkipReason)

	f.day(time.April, 20)
	next, err := h.Handle(ctx, AccrueLateFeeCommand{ChargeID: c.ID})
	require.NoError(t, err)
	require.True(t, next.Outcome.Applied)
	assert.True(t, d("90").Equal(next.Outcome.Amount))
	assert.True(t, d("180").Equal(next.Charge.LateFee))

	st, err := f.store.Reader().Statements.Get(ctx, "student-1", "term-1")
	require.NoError(t, err)
	assert.True(t, d("180").Equal(st.TotalLateFees))
	assert.True(t, st.HasOverdueCharges)
	assert.Contains(t, f.events.Types(), shared.EventChargeOverdue)
}

func TestAccrueLateFee_RejectsFutureAsOf(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	ctx := context.Background()
	h := NewAccrueLateFeeHandler(f.deps)

	_, err := h.Handle(ctx, AccrueLateFeeCommand{ChargeID: c.ID, AsOf: time.Date(2025, time.December, 20, 0, 0, 0, 0, time.UTC)})
	require.ErrorIs(t, err, shared.ErrValidation)
	v := shared.ViolationsOf(err)
	require.Len(t, v, 1)
	assert.Equal(t, "as_of", v[0].Field)
	assert.Equal(t, "not_future", v[0].Rule)

	_, err = h.HandleSweep(ctx, AccrueLateFeesCommand{AsOf: time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.store.Reader().Charges.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.LateFee.IsZero())
	assert.Nil(t, got.LastLateFeeAccrualAt)

	// The rejected call must not block the accrual once the day arrives.
	f.day(time.April, 20)
	res, err := h.Handle(ctx, AccrueLateFeeCommand{ChargeID: c.ID})
	require.NoError(t, err)
	assert.True(t, res.Outcome.Applied)
}

func TestAccrueLateFees_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.charge(t, "student-1", "0")
	b := f.charge(t, "student-2", "0")
	_, err := f.pay(ctx, b.ID, "1000", "S-1")
	require.NoError(t, err)

	h := NewAccrueLateFeeHandler(f.deps)
	asOf := f.day(time.March, 20)

	stats, err := h.HandleSweep(ctx, AccrueLateFeesCommand{AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 1, Accrued: 1}, stats)

	stats, err = h.HandleSweep(ctx, AccrueLateFeesCommand{})
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 1, Skipped: 1}, stats)

	disabled, err := h.HandleSweep(ctx, AccrueLateFeesCommand{
		AsOf:          f.day(time.April, 20),
		SchoolEnabled: func(string) bool { return false },
	})
	require.NoError(t, err)
	assert.Zero(t, disabled.Scanned)

	got, err := f.store.Reader().Charges.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, d("100").Equal(got.LateFee))
}

func TestRecomputeStatement_Idempotent(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "10")
	ctx := context.Background()
	_, err := f.pay(ctx, c.ID, "300", "Z-1")
	require.NoError(t, err)

	h := NewRecomputeStatementHandler(f.deps)
	first, err := h.Handle(ctx, RecomputeStatementCommand{StudentID: "student-1", TermID: "term-1", ActorID: "admin-1"})
	require.NoError(t, err)
	second, err := h.Handle(ctx, RecomputeStatementCommand{StudentID: "student-1", TermID: "term-1", ActorID: "admin-1"})
	require.NoError(t, err)

	assert.True(t, first.SameFigures(second))
	assert.True(t, d("600").Equal(second.PendingBalance))
	assert.Greater(t, second.Version, first.Version)
}

func TestConceptAdmin_DeleteReferenced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.charge(t, "student-1", "0")
	h := NewConceptAdminHandler(f.deps)

	err := h.Delete(ctx, DeleteConceptCommand{ConceptID: f.tuition.ID, ActorID: "admin-1"})
	assert.ErrorIs(t, err, shared.ErrPolicyViolation)

	deactivated, err := h.Deactivate(ctx, DeactivateConceptCommand{ConceptID: f.tuition.ID, ActorID: "admin-1"})
	require.NoError(t, err)
	assert.False(t, deactivated.Active)

	_, err = NewCreateChargeHandler(f.deps).Handle(ctx, CreateChargeCommand{
		StudentID: "student-2",
		ConceptID: f.tuition.ID,
		TermID:    "term-1",
		DueDate:   time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		ActorID:   "admin-1",
	})
	assert.ErrorIs(t, err, shared.ErrPolicyViolation)
}

func TestConceptAdmin_DeleteUnreferenced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, NewConceptAdminHandler(f.deps).Delete(ctx, DeleteConceptCommand{ConceptID: f.tuition.ID, ActorID: "admin-1"}))
	_, err := f.store.Reader().Concepts.GetByID(ctx, f.tuition.ID)
	assert.True(t, shared.IsNotFound(err))
}

func TestGenerateRecurringCharges_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := NewCreateConceptHandler(f.deps).Handle(ctx, CreateConceptCommand{
		SchoolID:    "school-1",
		TermID:      "term-1",
		Name:        "Monthly fee",
		BaseAmount:  d("250"),
		Recurring:   true,
		Periodicity: concept.PeriodicityMonthly,
		DueDay:      5,
		ActorID:     "admin-1",
	})
	require.NoError(t, err)

	h := NewGenerateRecurringChargesHandler(f.deps)
	stats, err := h.Handle(ctx, GenerateRecurringChargesCommand{TermID: "term-1"})
	require.NoError(t, err)
	assert.Equal(t, GenerationStats{Students: 2, Created: 2}, stats)

	stats, err = h.Handle(ctx, GenerateRecurringChargesCommand{TermID: "term-1"})
	require.NoError(t, err)
	assert.Equal(t, GenerationStats{Students: 2, Existing: 2}, stats)

	charges, err := f.store.Reader().Charges.ListByStudentTerm(ctx, "student-1", "term-1")
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, "2025-03", charges[0].PeriodKey)
	assert.True(t, charges[0].AutoGenerated)
	assert.Equal(t, time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC), charges[0].DueDate)
}

func TestFlush_PublishFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture(t)
	f.deps.Events = failingPublisher{}

	c := f.charge(t, "student-1", "0")
	assert.NotEmpty(t, c.ID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(shared.Event) error { return errors.New("bus down") }

func TestAudit_RecordsMutations(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "student-1", "0")
	_, err := f.pay(context.Background(), c.ID, "50", "AU-1")
	require.NoError(t, err)

	actions := map[string]bool{}
	for _, r := range f.audit.records {
		actions[r.Entity+":"+r.Action] = true
	}
	assert.True(t, actions[audit.EntityConcept+":create"])
	assert.True(t, actions[audit.EntityCharge+":create"])
	assert.True(t, actions[audit.EntityPayment+":create"])
	assert.True(t, actions[audit.EntityCharge+":apply_payment"])
}
