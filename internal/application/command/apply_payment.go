package command

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/charge"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/payment"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY PAYMENT
// ══════════════════════════════════════════════════════════════════════════════

// ApplyPaymentCommand records money received against a charge.
type ApplyPaymentCommand struct {
	ChargeID    string
	Amount      decimal.Decimal
	Method      payment.Method
	Folio       string
	Reference   string
	InvoiceID   string
	PaymentDate time.Time
	ActorID     string
}

func (c ApplyPaymentCommand) params() payment.Params {
	return payment.Params{
		Amount:      c.Amount,
		Method:      c.Method,
		Folio:       c.Folio,
		Reference:   c.Reference,
		InvoiceID:   c.InvoiceID,
		ActorID:     c.ActorID,
		PaymentDate: c.PaymentDate,
	}
}

// PaymentResult is returned by the payment commands.
type PaymentResult struct {
	Payment   *payment.Payment
	Charge    *charge.Charge
	Statement *statement.Statement
}

// ApplyPaymentHandler handles ApplyPaymentCommand.
type ApplyPaymentHandler struct {
	deps *Deps
}

// NewApplyPaymentHandler creates a new ApplyPaymentHandler.
func NewApplyPaymentHandler(deps *Deps) *ApplyPaymentHandler {
	return &ApplyPaymentHandler{deps: deps}
}

// Handle applies the payment under a row lock on the charge. Concurrent
// payments on the same charge serialize; the loser sees the reduced pending
// balance and fails with an overpayment error.
func (h *ApplyPaymentHandler) Handle(ctx context.Context, cmd ApplyPaymentCommand) (*PaymentResult, error) {
	const op = "ApplyPayment"
	now := h.deps.now()

	v := cmd.params().Validate(now)
	h.deps.Policy.Money.CheckScale(&v, "amount", cmd.Amount)
	v.Check(!shared.IsBlank(cmd.ChargeID), "charge_id", "required", "charge id is required")
	if err := v.Err("payment", op); err != nil {
		return nil, err
	}

	fx := &effects{}
	result := &PaymentResult{}

	err := h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		ch, err := repos.Charges.GetForUpdate(ctx, cmd.ChargeID)
		if err != nil {
			return err
		}
		before := ch.Snapshot()

		if err := repos.Statements.Lock(ctx, ch.StudentID, ch.TermID, ch.SchoolID); err != nil {
			return err
		}

		p, err := payment.New(ch, cmd.params(), now)
		if err != nil {
			return err
		}
		if err := ch.ApplyPayment(p.Amount, p.Folio, now); err != nil {
			return err
		}

		taken, err := repos.Payments.ExistsByFolio(ctx, p.Folio)
		if err != nil {
			return err
		}
		if taken {
			return payment.DuplicateFolio(p.Folio)
		}

		if err := repos.Payments.Create(ctx, p); err != nil {
			return err
		}
		if err := repos.Charges.Update(ctx, ch); err != nil {
			return err
		}

		st, err := recompute(ctx, repos, ch.StudentID, ch.TermID, ch.SchoolID, h.deps.Policy, now)
		if err != nil {
			return err
		}

		result.Payment, result.Charge, result.Statement = p, ch, st

		fx.audit(audit.NewRecord(audit.EntityPayment, p.ID, "create", cmd.ActorID, nil, *p, now))
		fx.audit(audit.NewRecord(audit.EntityCharge, ch.ID, "apply_payment", cmd.ActorID, before, ch.Snapshot(), now))
		fx.emit(p.Event(shared.EventPaymentApplied))
		if ch.Status == charge.StatusPaid {
			fx.emit(ch.Event(shared.EventChargePaid))
		}
		fx.emit(st.Event())
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.deps.Logger.Info("payment applied",
		logger.PaymentID(result.Payment.ID),
		logger.ChargeID(result.Charge.ID),
		logger.Money("amount", result.Payment.Amount),
		logger.Money("pending_balance", result.Charge.PendingBalance),
		logger.String("status", string(result.Charge.Status)),
	)
	h.deps.flush(ctx, op, fx)
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CANCEL PAYMENT
// ══════════════════════════════════════════════════════════════════════════════

// CancelPaymentCommand reverses a payment.
type CancelPaymentCommand struct {
	PaymentID string
	ActorID   string
	Reason    string
}

// CancelPaymentHandler handles CancelPaymentCommand.
type CancelPaymentHandler struct {
	deps *Deps
}

// NewCancelPaymentHandler creates a new CancelPaymentHandler.
func NewCancelPaymentHandler(deps *Deps) *CancelPaymentHandler {
	return &CancelPaymentHandler{deps: deps}
}

// Handle marks the payment cancelled and reverses its amount on the charge.
// Locks are taken payment first, then charge, then statement.
func (h *CancelPaymentHandler) Handle(ctx context.Context, cmd CancelPaymentCommand) (*PaymentResult, error) {
	const op = "CancelPayment"
	if err := requireFields("payment", op, "payment_id", cmd.PaymentID, "actor_id", cmd.ActorID, "reason", cmd.Reason); err != nil {
		return nil, err
	}

	now := h.deps.now()
	fx := &effects{}
	result := &PaymentResult{}

	err := h.deps.UoW.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		p, err := repos.Payments.GetForUpdate(ctx, cmd.PaymentID)
		if err != nil {
			return err
		}
		paymentBefore := *p

		ch, err := repos.Charges.GetForUpdate(ctx, p.ChargeID)
		if err != nil {
			return err
		}
		chargeBefore := ch.Snapshot()

		if err := repos.Statements.Lock(ctx, ch.StudentID, ch.TermID, ch.SchoolID); err != nil {
			return err
		}

		if err := p.Cancel(cmd.ActorID, cmd.Reason, now); err != nil {
			return err
		}
		if err := ch.ReversePayment(p.Amount, now); err != nil {
			return err
		}
		if err := repos.Payments.Update(ctx, p); err != nil {
			return err
		}
		if err := repos.Charges.Update(ctx, ch); err != nil {
			return err
		}

		st, err := recompute(ctx, repos, ch.StudentID, ch.TermID, ch.SchoolID, h.deps.Policy, now)
		if err != nil {
			return err
		}

		result.Payment, result.Charge, result.Statement = p, ch, st

		fx.audit(audit.NewRecord(audit.EntityPayment, p.ID, "cancel", cmd.ActorID, paymentBefore, *p, now))
		fx.audit(audit.NewRecord(audit.EntityCharge, ch.ID, "reverse_payment", cmd.ActorID, chargeBefore, ch.Snapshot(), now))
		fx.emit(p.Event(shared.EventPaymentCancelled))
		fx.emit(ch.Event(shared.EventChargePaymentUndone))
		fx.emit(st.Event())
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.deps.Logger.Info("payment cancelled",
		logger.PaymentID(result.Payment.ID),
		logger.ChargeID(result.Charge.ID),
		logger.ActorID(cmd.ActorID),
	)
	h.deps.flush(ctx, op, fx)
	return result, nil
}
