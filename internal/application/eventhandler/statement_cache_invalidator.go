package eventhandler

import (
	"context"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// StatementCacheInvalidator drops cached statements once they are rewritten.
type StatementCacheInvalidator struct {
	cache   statement.Cache
	timeout time.Duration
	logger  *logger.Logger
}

// NewStatementCacheInvalidator creates the invalidator.
func NewStatementCacheInvalidator(cache statement.Cache, log *logger.Logger) *StatementCacheInvalidator {
	return &StatementCacheInvalidator{
		cache:   cache,
		timeout: 2 * time.Second,
		logger:  log.With(logger.Component("statement_cache_invalidator")),
	}
}

// EventTypes lists the events the invalidator subscribes to.
func (h *StatementCacheInvalidator) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventStatementRecomputed}
}

// Handle invalidates the cached statement named by the event. Errors are
// returned so the dispatcher retries; a stale entry expires with its TTL.
func (h *StatementCacheInvalidator) Handle(event shared.Event) error {
	if event.EventType() != shared.EventStatementRecomputed {
		return nil
	}
	payload := event.Payload()
	studentID := payloadString(payload, "student_id")
	termID := payloadString(payload, "term_id")
	if studentID == "" || termID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, studentID, termID); err != nil {
		h.logger.Warn("statement cache invalidation failed",
			logger.StudentID(studentID),
			logger.TermID(termID),
			logger.Err(err),
		)
		return err
	}
	return nil
}
