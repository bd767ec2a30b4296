package command

import (
	"context"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/logger"
	"github.com/schoolhub/student-ledger/pkg/retry"
)

// SystemActor is the actor id recorded for scheduled operations.
const SystemActor = "system"

// AccrueLateFeeCommand accrues the late fee of one charge as of a date.
type AccrueLateFeeCommand struct {
	ChargeID string
	AsOf     time.Time // zero means today
	ActorID  string
}

// AccrueLateFeeResult reports what happened to the charge.
type AccrueLateFeeResult struct {
	Charge  *charge.Charge
	Outcome charge.LateFeeResult
}

// AccrueLateFeesCommand sweeps every overdue candidate.
type AccrueLateFeesCommand struct {
	AsOf      time.Time
	BatchSize int
	// SchoolEnabled filters schools; nil accrues for all.
	SchoolEnabled func(schoolID string) bool
}

// SweepStats summarizes a late fee sweep.
type SweepStats struct {
	Scanned int
	Accrued int
	Skipped int
	Failed  int
}

// AccrueLateFeeHandler handles single and sweep late fee accrual.
type AccrueLateFeeHandler struct {
	deps    *Deps
	retrier *retry.Retrier
}

// NewAccrueLateFeeHandler creates a new AccrueLateFeeHandler.
func NewAccrueLateFeeHandler(deps *Deps) *AccrueLateFeeHandler {
	return &AccrueLateFeeHandler{
		deps:    deps,
		retrier: retry.TransactionRetrier(shared.IsRetryable),
	}
}

// Handle accrues one period's late fee if the charge is past its grace
// period. Calling it again for the same period changes nothing.
func (h *AccrueLateFeeHandler) Handle(ctx context.Context, cmd AccrueLateFeeCommand) (*AccrueLateFeeResult, error) {
	const op = "AccrueLateFee"
	if err := requireFields("charge", op, "charge_id", cmd.ChargeID); err != nil {
		return nil, err
	}

	asOf, err := h.resolveAsOf(op, cmd.AsOf)
	if err != nil {
		return nil, err
	}
	now := h.deps.now()
	actor := cmd.ActorID
	if actor == "" {
		actor = SystemActor
	}

	fx := &effects{}
	result := &AccrueLateFeeResult{}

	err = h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		ch, err := repos.Charges.GetForUpdate(ctx, cmd.ChargeID)
		if err != nil {
			return err
		}
		cpt, err := repos.Concepts.GetByID(ctx, ch.ConceptID)
		if err != nil {
			return err
		}
		before := ch.Snapshot()

		outcome := ch.AccrueLateFee(asOf, now, conceptLateFeePolicy(cpt, h.deps.Policy), h.deps.Policy.Money, h.deps.Calendar)
		result.Charge, result.Outcome = ch, outcome
		if !outcome.Applied {
			return nil
		}

		if err := repos.Statements.Lock(ctx, ch.StudentID, ch.TermID, ch.SchoolID); err != nil {
			return err
		}
		if err := repos.Charges.Update(ctx, ch); err != nil {
			return err
		}
		st, err := recompute(ctx, repos, ch.StudentID, ch.TermID, ch.SchoolID, h.deps.Policy, now)
		if err != nil {
			return err
		}

		fx.audit(audit.NewRecord(audit.EntityCharge, ch.ID, "accrue_late_fee", actor, before, ch.Snapshot(), now))
		fx.emit(ch.Event(shared.EventLateFeeAccrued))
		if outcome.BecameOverdue {
			fx.emit(ch.Event(shared.EventChargeOverdue))
		}
		fx.emit(st.Event())
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome.Applied {
		h.deps.Logger.Info("late fee accrued",
			logger.ChargeID(result.Charge.ID),
			logger.Money("late_fee", result.Outcome.Amount),
			logger.Bool("became_overdue", result.Outcome.BecameOverdue),
		)
	}
	h.deps.flush(ctx, op, fx)
	return result, nil
}

// resolveAsOf defaults an empty date to today. A later day is rejected: it
// would mark the charge as accrued for a period that has not started.
func (h *AccrueLateFeeHandler) resolveAsOf(op string, asOf time.Time) (time.Time, error) {
	today := h.deps.Calendar.Today()
	if asOf.IsZero() {
		return today, nil
	}
	if h.deps.Calendar.IsAfterDay(asOf, today) {
		return time.Time{}, shared.NewValidationError("charge", op, "as_of", "not_future", "as of date cannot be in the future")
	}
	return asOf, nil
}

// HandleSweep accrues late fees on every candidate, one transaction per
// charge. Contention is retried; other failures are logged and counted.
func (h *AccrueLateFeeHandler) HandleSweep(ctx context.Context, cmd AccrueLateFeesCommand) (SweepStats, error) {
	var stats SweepStats

	asOf, err := h.resolveAsOf("AccrueLateFees", cmd.AsOf)
	if err != nil {
		return stats, err
	}
	batch := cmd.BatchSize
	if batch <= 0 {
		batch = 500
	}

	candidates, err := h.deps.UoW.Reader().Charges.List(ctx, charge.OverdueCandidates(asOf, 0))
	if err != nil {
		return stats, err
	}

	for i, c := range candidates {
		if i > 0 && i%batch == 0 {
			h.deps.Logger.Debug("late fee sweep progress", logger.Int("processed", i), logger.Int("total", len(candidates)))
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if cmd.SchoolEnabled != nil && !cmd.SchoolEnabled(c.SchoolID) {
			continue
		}
		stats.Scanned++

		res, err := retry.DoWithData(ctx, h.retrier, func(ctx context.Context) (*AccrueLateFeeResult, error) {
			return h.Handle(ctx, AccrueLateFeeCommand{ChargeID: c.ID, AsOf: asOf, ActorID: SystemActor})
		})
		switch {
		case err != nil:
			stats.Failed++
			h.deps.Logger.Error("late fee accrual failed", logger.ChargeID(c.ID), logger.Err(err))
		case res.Outcome.Applied:
			stats.Accrued++
		default:
			stats.Skipped++
		}
	}

	h.deps.Logger.Info("late fee sweep finished",
		logger.Time("as_of", asOf),
		logger.Int("scanned", stats.Scanned),
		logger.Int("accrued", stats.Accrued),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
	)
	return stats, nil
}
