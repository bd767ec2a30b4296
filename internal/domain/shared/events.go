package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Ledger event types. Events are published after the transaction that
// produced them has committed.
const (
	// Concept events
	EventConceptCreated     EventType = "concept.created"
	EventConceptDeactivated EventType = "concept.deactivated"

	// Charge events
	EventChargeCreated       EventType = "charge.created"
	EventChargeOverdue       EventType = "charge.overdue"
	EventChargePaid          EventType = "charge.paid"
	EventChargeCancelled     EventType = "charge.cancelled"
	EventLateFeeAccrued      EventType = "charge.late_fee_accrued"
	EventChargePaymentUndone EventType = "charge.payment_reversed"

	// Payment events
	EventPaymentApplied   EventType = "payment.applied"
	EventPaymentCancelled EventType = "payment.cancelled"

	// Statement events
	EventStatementRecomputed EventType = "statement.recomputed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Charge Events
// ═══════════════════════════════════════════════════════════════════════════

// ChargeEvent describes a charge transition. It is also the notification
// payload consumed by the messaging collaborator.
type ChargeEvent struct {
	BaseEvent
	ChargeID       string `json:"charge_id"`
	StudentID      string `json:"student_id"`
	SchoolID       string `json:"school_id"`
	TermID         string `json:"term_id"`
	ConceptID      string `json:"concept_id"`
	FinalAmount    string `json:"final_amount"`
	PendingBalance string `json:"pending_balance"`
	Status         string `json:"status"`
}

// Payload implements Event interface.
func (e ChargeEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"charge_id":       e.ChargeID,
		"student_id":      e.StudentID,
		"school_id":       e.SchoolID,
		"term_id":         e.TermID,
		"concept_id":      e.ConceptID,
		"final_amount":    e.FinalAmount,
		"pending_balance": e.PendingBalance,
		"status":          e.Status,
	}
}

// NewChargeEvent creates a ChargeEvent of the given type.
func NewChargeEvent(eventType EventType, chargeID, studentID, schoolID, termID, conceptID, finalAmount, pending, status string) ChargeEvent {
	return ChargeEvent{
		BaseEvent:      NewBaseEvent(eventType, chargeID),
		ChargeID:       chargeID,
		StudentID:      studentID,
		SchoolID:       schoolID,
		TermID:         termID,
		ConceptID:      conceptID,
		FinalAmount:    finalAmount,
		PendingBalance: pending,
		Status:         status,
	}
}

// IsNotifiable reports whether the messaging collaborator cares about it.
func (e ChargeEvent) IsNotifiable() bool {
	switch e.Type {
	case EventChargeCreated, EventChargeOverdue, EventChargePaid:
		return true
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// Payment Events
// ═══════════════════════════════════════════════════════════════════════════

// PaymentEvent is emitted when a payment is applied or cancelled.
type PaymentEvent struct {
	BaseEvent
	PaymentID string `json:"payment_id"`
	ChargeID  string `json:"charge_id"`
	StudentID string `json:"student_id"`
	TermID    string `json:"term_id"`
	Amount    string `json:"amount"`
	Folio     string `json:"folio"`
}

// Payload implements Event interface.
func (e PaymentEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"payment_id": e.PaymentID,
		"charge_id":  e.ChargeID,
		"student_id": e.StudentID,
		"term_id":    e.TermID,
		"amount":     e.Amount,
		"folio":      e.Folio,
	}
}

// NewPaymentEvent creates a PaymentEvent of the given type.
func NewPaymentEvent(eventType EventType, paymentID, chargeID, studentID, termID, amount, folio string) PaymentEvent {
	return PaymentEvent{
		BaseEvent: NewBaseEvent(eventType, paymentID),
		PaymentID: paymentID,
		ChargeID:  chargeID,
		StudentID: studentID,
		TermID:    termID,
		Amount:    amount,
		Folio:     folio,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Concept & Statement Events
// ═══════════════════════════════════════════════════════════════════════════

// ConceptEvent is emitted when a payment concept is created or deactivated.
type ConceptEvent struct {
	BaseEvent
	ConceptID string `json:"concept_id"`
	SchoolID  string `json:"school_id"`
	TermID    string `json:"term_id"`
	Name      string `json:"name"`
}

// Payload implements Event interface.
func (e ConceptEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"concept_id": e.ConceptID,
		"school_id":  e.SchoolID,
		"term_id":    e.TermID,
		"name":       e.Name,
	}
}

// NewConceptEvent creates a ConceptEvent of the given type.
func NewConceptEvent(eventType EventType, conceptID, schoolID, termID, name string) ConceptEvent {
	return ConceptEvent{
		BaseEvent: NewBaseEvent(eventType, conceptID),
		ConceptID: conceptID,
		SchoolID:  schoolID,
		TermID:    termID,
		Name:      name,
	}
}

// StatementRecomputedEvent is emitted after a statement row was rewritten.
type StatementRecomputedEvent struct {
	BaseEvent
	StudentID      string `json:"student_id"`
	TermID         string `json:"term_id"`
	PendingBalance string `json:"pending_balance"`
	IsCurrent      bool   `json:"is_current"`
}

// Payload implements Event interface.
func (e StatementRecomputedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.StudentID,
		"term_id":         e.TermID,
		"pending_balance": e.PendingBalance,
		"is_current":      e.IsCurrent,
	}
}

// NewStatementRecomputedEvent creates a StatementRecomputedEvent.
func NewStatementRecomputedEvent(studentID, termID, pending string, isCurrent bool) StatementRecomputedEvent {
	return StatementRecomputedEvent{
		BaseEvent:      NewBaseEvent(EventStatementRecomputed, studentID+":"+termID),
		StudentID:      studentID,
		TermID:         termID,
		PendingBalance: pending,
		IsCurrent:      isCurrent,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
