package redis

import (
	"context"
	"errors"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/statement"
)

// StatementCache implements statement.Cache on top of Cache.
type StatementCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ statement.Cache = (*StatementCache)(nil)

// NewStatementCache creates a StatementCache. A non-positive ttl selects
// TTLStatement.
func NewStatementCache(cache *Cache, ttl time.Duration) *StatementCache {
	if ttl <= 0 {
		ttl = TTLStatement
	}
	return &StatementCache{cache: cache, ttl: ttl}
}

// Get returns nil on a miss.
func (s *StatementCache) Get(ctx context.Context, studentID, termID string) (*statement.Statement, error) {
	var st statement.Statement
	err := s.cache.Get(ctx, StatementKey(studentID, termID), &st)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Set stores the statement.
func (s *StatementCache) Set(ctx context.Context, st *statement.Statement) error {
	if st == nil {
		return nil
	}
	return s.cache.Set(ctx, StatementKey(st.StudentID, st.TermID), st, s.ttl)
}

// Invalidate drops the cached statement.
func (s *StatementCache) Invalidate(ctx context.Context, studentID, termID string) error {
	return s.cache.Delete(ctx, StatementKey(studentID, termID))
}
