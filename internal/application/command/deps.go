// Package command contains the ledger's write operations (CQRS commands).
// Every handler runs its mutation and the statement recompute in a single
// transaction, then publishes events and audit records after commit.
package command

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/tenant"
	"github.com/schoolhub/student-ledger/pkg/logger"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

// AuditRecorder stores audit records without failing the caller.
type AuditRecorder interface {
	Record(ctx context.Context, records []audit.Record)
}

// Policy holds the ledger-wide money rules.
type Policy struct {
	Money              shared.Money
	DefaultLateFeeRate decimal.Decimal
}

// DefaultPolicy returns two-decimal MXN with no default late fee.
func DefaultPolicy() Policy {
	return Policy{Money: shared.DefaultMoney(), DefaultLateFeeRate: decimal.Zero}
}

// Deps bundles the collaborators shared by all command handlers.
type Deps struct {
	UoW       ledger.UnitOfWork
	Directory tenant.Directory
	Events    shared.EventPublisher
	Audit     AuditRecorder
	Policy    Policy
	Calendar  *timeutil.Calendar
	Logger    *logger.Logger
}

func (d *Deps) now() time.Time {
	return d.Calendar.Now()
}

// effects collects what a command must emit once its transaction commits.
type effects struct {
	events []shared.Event
	trail  audit.Trail
}

func (fx *effects) emit(e shared.Event) {
	fx.events = append(fx.events, e)
}

func (fx *effects) audit(r audit.Record) {
	fx.trail.Add(r)
}

// flush publishes events and audit records. Failures are logged only: the
// ledger state is already committed.
func (d *Deps) flush(ctx context.Context, op string, fx *effects) {
	for _, e := range fx.events {
		if err := d.Events.Publish(e); err != nil {
			d.Logger.Warn("event publish failed",
				logger.Operation(op),
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
		}
	}
	if records := fx.trail.Records(); len(records) > 0 && d.Audit != nil {
		d.Audit.Record(ctx, records)
	}
}

// NopAuditRecorder discards records.
type NopAuditRecorder struct{}

// Record implements AuditRecorder.
func (NopAuditRecorder) Record(context.Context, []audit.Record) {}
