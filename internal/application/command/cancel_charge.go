package command

import (
	"context"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// CancelChargeCommand voids a charge that has received no payment.
type CancelChargeCommand struct {
	ChargeID string
	ActorID  string
	Reason   string
}

// CancelChargeHandler handles CancelChargeCommand.
type CancelChargeHandler struct {
	deps *Deps
}

// NewCancelChargeHandler creates a new CancelChargeHandler.
func NewCancelChargeHandler(deps *Deps) *CancelChargeHandler {
	return &CancelChargeHandler{deps: deps}
}

// Handle cancels the charge and recomputes the statement.
func (h *CancelChargeHandler) Handle(ctx context.Context, cmd CancelChargeCommand) (*charge.Charge, error) {
	const op = "CancelCharge"
	if err := requireFields("charge", op, "charge_id", cmd.ChargeID, "actor_id", cmd.ActorID, "reason", cmd.Reason); err != nil {
		return nil, err
	}

	now := h.deps.now()
	fx := &effects{}
	var result *charge.Charge

	err := h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		ch, err := repos.Charges.GetForUpdate(ctx, cmd.ChargeID)
		if err != nil {
			return err
		}
		before := ch.Snapshot()

		if err := repos.Statements.Lock(ctx, ch.StudentID, ch.TermID, ch.SchoolID); err != nil {
			return err
		}
		if err := ch.Cancel(cmd.ActorID, cmd.Reason, now); err != nil {
			return err
		}
		if err := repos.Charges.Update(ctx, ch); err != nil {
			return err
		}

		st, err := recompute(ctx, repos, ch.StudentID, ch.TermID, ch.SchoolID, h.deps.Policy, now)
		if err != nil {
			return err
		}
		result = ch

		fx.audit(audit.NewRecord(audit.EntityCharge, ch.ID, "cancel", cmd.ActorID, before, ch.Snapshot(), now))
		fx.emit(ch.Event(shared.EventChargeCancelled))
		fx.emit(st.Event())
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.deps.Logger.Info("charge cancelled",
		logger.ChargeID(result.ID),
		logger.ActorID(cmd.ActorID),
		logger.String("reason", cmd.Reason),
	)
	h.deps.flush(ctx, op, fx)
	return result, nil
}
