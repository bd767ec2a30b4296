// Package audit defines the change records the ledger emits for every
// mutation. Storage and retention belong to the sink.
package audit

import (
	"context"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// Entity names used in records.
const (
	EntityConcept   = "payment_concept"
	EntityCharge    = "charge"
	EntityPayment   = "payment"
	EntityStatement = "account_statement"
)

// Record is one before/after image of a mutated entity.
type Record struct {
	ID        string    `json:"id"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Before    any       `json:"before,omitempty"`
	After     any       `json:"after,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash,omitempty"`
}

// NewRecord builds a record stamped with now.
func NewRecord(entity, entityID, action, actorID string, before, after any, now time.Time) Record {
	return Record{
		ID:        shared.NewID(),
		Entity:    entity,
		EntityID:  entityID,
		Action:    action,
		ActorID:   actorID,
		Before:    before,
		After:     after,
		Timestamp: now,
	}
}

// Sink stores audit records. Writes happen after commit and may fail
// without affecting the ledger.
type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// Trail collects records during a command.
type Trail struct {
	records []Record
}

// Add appends a record.
func (t *Trail) Add(r Record) {
	t.records = append(t.records, r)
}

// Records returns the collected records.
func (t *Trail) Records() []Record {
	return t.records
}
