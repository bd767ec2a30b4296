// Package service holds the adapters between application ports and the
// outside world: audit recording and notification delivery.
package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/pkg/circuitbreaker"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// AuditRecorder seals records with an integrity hash and writes them to a
// sink behind a circuit breaker. It never fails the caller.
type AuditRecorder struct {
	sink    audit.Sink
	breaker *circuitbreaker.Breaker
	timeout time.Duration
	logger  *logger.Logger
}

// NewAuditRecorder creates an AuditRecorder over sink.
func NewAuditRecorder(sink audit.Sink, timeout time.Duration, log *logger.Logger) *AuditRecorder {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	log = log.With(logger.Component("audit_recorder"))
	return &AuditRecorder{
		sink:    sink,
		timeout: timeout,
		logger:  log,
		breaker: circuitbreaker.SinkBreaker("audit", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	}
}

// Record hashes and writes records. Failures are logged.
func (r *AuditRecorder) Record(ctx context.Context, records []audit.Record) {
	if len(records) == 0 {
		return
	}

	sealed := make([]audit.Record, 0, len(records))
	for _, rec := range records {
		hash, err := HashRecord(rec)
		if err != nil {
			r.logger.Error("audit record hash failed",
				logger.String("entity", rec.Entity),
				logger.String("entity_id", rec.EntityID),
				logger.Err(err),
			)
			continue
		}
		rec.Hash = hash
		sealed = append(sealed, rec)
	}

	// The command's context may already be cancelled by the time we get here.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	err := r.breaker.Execute(writeCtx, func(ctx context.Context) error {
		return r.sink.Write(ctx, sealed)
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		r.logger.Warn("audit records dropped, breaker open", logger.Int("records", len(sealed)))
	case err != nil:
		r.logger.Error("audit write failed", logger.Int("records", len(sealed)), logger.Err(err))
	}
}

// HashRecord returns the hex BLAKE2b-256 digest of the record with its Hash
// field cleared.
func HashRecord(rec audit.Record) (string, error) {
	rec.Hash = ""
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal audit record: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyRecord reports whether rec still matches its hash.
func VerifyRecord(rec audit.Record) bool {
	want, err := HashRecord(rec)
	return err == nil && want == rec.Hash
}

// LoggerAuditSink writes audit records to the structured log.
type LoggerAuditSink struct {
	logger *logger.Logger
}

// NewLoggerAuditSink creates a LoggerAuditSink.
func NewLoggerAuditSink(log *logger.Logger) *LoggerAuditSink {
	return &LoggerAuditSink{logger: log.With(logger.Component("audit"))}
}

// Write implements audit.Sink.
func (s *LoggerAuditSink) Write(_ context.Context, records []audit.Record) error {
	for _, rec := range records {
		s.logger.Info("audit",
			logger.String("audit_id", rec.ID),
			logger.String("entity", rec.Entity),
			logger.String("entity_id", rec.EntityID),
			logger.String("action", rec.Action),
			logger.ActorID(rec.ActorID),
			logger.Time("timestamp", rec.Timestamp),
			logger.String("hash", rec.Hash),
		)
	}
	return nil
}

// MultiAuditSink writes to every sink and joins their errors.
type MultiAuditSink []audit.Sink

// Write implements audit.Sink.
func (m MultiAuditSink) Write(ctx context.Context, records []audit.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
