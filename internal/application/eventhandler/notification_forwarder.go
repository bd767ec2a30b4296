// Package eventhandler reacts to ledger events after commit. Handlers read
// events through Payload so they behave the same for local events and for
// events relayed from other instances.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/circuitbreaker"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFICATION FORWARDER
// Hands notifiable charge transitions (created, overdue, paid) to the
// messaging collaborator. Delivery is fire-and-forget: a failing collaborator
// is logged and, after a few failures, skipped by the circuit breaker.
// ═══════════════════════════════════════════════════════════════════════════

// Notification is the message handed to the messaging collaborator.
type Notification struct {
	ChargeID       string    `json:"charge_id"`
	StudentID      string    `json:"student_id"`
	SchoolID       string    `json:"school_id"`
	EventType      string    `json:"event_type"`
	Status         string    `json:"status"`
	PendingBalance string    `json:"pending_balance"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier delivers notifications to students or guardians.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotificationForwarder forwards charge events to a Notifier.
type NotificationForwarder struct {
	notifier Notifier
	breaker  *circuitbreaker.Breaker
	timeout  time.Duration
	logger   *logger.Logger
}

// NewNotificationForwarder creates a forwarder with a sink breaker.
func NewNotificationForwarder(notifier Notifier, timeout time.Duration, log *logger.Logger) *NotificationForwarder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log = log.With(logger.Component("notification_forwarder"))
	return &NotificationForwarder{
		notifier: notifier,
		timeout:  timeout,
		logger:   log,
		breaker: circuitbreaker.SinkBreaker("notifications", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	}
}

// EventTypes lists the events the forwarder subscribes to.
func (f *NotificationForwarder) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventChargeCreated, shared.EventChargeOverdue, shared.EventChargePaid}
}

// Handle forwards one event. It never returns delivery errors.
func (f *NotificationForwarder) Handle(event shared.Event) error {
	if !isNotifiable(event.EventType()) {
		return nil
	}

	payload := event.Payload()
	n := Notification{
		ChargeID:       payloadString(payload, "charge_id"),
		StudentID:      payloadString(payload, "student_id"),
		SchoolID:       payloadString(payload, "school_id"),
		EventType:      string(event.EventType()),
		Status:         payloadString(payload, "status"),
		PendingBalance: payloadString(payload, "pending_balance"),
		OccurredAt:     event.OccurredAt(),
	}
	if n.ChargeID == "" || n.StudentID == "" {
		f.logger.Warn("dropping notification without charge or student",
			logger.String("event_type", n.EventType),
			logger.String("aggregate_id", event.AggregateID()),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		return f.notifier.Notify(ctx, n)
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		f.logger.Debug("notification skipped, breaker open", logger.ChargeID(n.ChargeID))
	case err != nil:
		f.logger.Warn("notification delivery failed",
			logger.ChargeID(n.ChargeID),
			logger.StudentID(n.StudentID),
			logger.Err(err),
		)
	}
	return nil
}

func isNotifiable(t shared.EventType) bool {
	switch t {
	case shared.EventChargeCreated, shared.EventChargeOverdue, shared.EventChargePaid:
		return true
	}
	return false
}

func payloadString(payload map[string]interface{}, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
