package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
)

// AuditSink appends audit records to ledger_audit_log in one batch.
type AuditSink struct {
	conn *Connection
}

// NewAuditSink creates a new AuditSink.
func NewAuditSink(conn *Connection) *AuditSink {
	return &AuditSink{conn: conn}
}

var _ audit.Sink = (*AuditSink)(nil)

// Write implements audit.Sink.
func (s *AuditSink) Write(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		before, err := jsonOrNil(rec.Before)
		if err != nil {
			return fmt.Errorf("audit %s: %w", rec.ID, err)
		}
		after, err := jsonOrNil(rec.After)
		if err != nil {
			return fmt.Errorf("audit %s: %w", rec.ID, err)
		}
		batch.Queue(`
			INSERT INTO ledger_audit_log (id, entity, entity_id, action, actor_id, before, after, recorded_at, hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.Entity, rec.EntityID, rec.Action, rec.ActorID, before, after, rec.Timestamp, rec.Hash,
		)
	}

	results := s.conn.Pool().SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return mapError("audit", "Write", err)
		}
	}
	return nil
}

func jsonOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
