package redis

import (
	"context"
	"errors"
	"time"

	"github.com/schoolhub/student-ledger/internal/domain/tenant"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// DirectoryCache is a read-through decorator of a tenant.Directory.
// Cache failures degrade to the wrapped directory.
type DirectoryCache struct {
	next  tenant.Directory
	cache *Cache
	ttl   time.Duration
	log   *logger.Logger
}

var _ tenant.Directory = (*DirectoryCache)(nil)

// NewDirectoryCache wraps next.
func NewDirectoryCache(next tenant.Directory, cache *Cache, ttl time.Duration, log *logger.Logger) *DirectoryCache {
	if ttl <= 0 {
		ttl = TTLDirectory
	}
	return &DirectoryCache{next: next, cache: cache, ttl: ttl, log: log.With(logger.Component("directory_cache"))}
}

// ResolveStudent implements tenant.Directory.
func (d *DirectoryCache) ResolveStudent(ctx context.Context, studentID string) (*tenant.Student, error) {
	key := StudentKey(studentID)

	var s tenant.Student
	err := d.cache.Get(ctx, key, &s)
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		d.log.Warn("directory cache read failed", logger.StudentID(studentID), logger.Err(err))
	}

	out, err := d.next.ResolveStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if err := d.cache.Set(ctx, key, out, d.ttl); err != nil {
		d.log.Warn("directory cache write failed", logger.StudentID(studentID), logger.Err(err))
	}
	return out, nil
}

// ResolveTerm implements tenant.Directory.
func (d *DirectoryCache) ResolveTerm(ctx context.Context, termID string) (*tenant.Term, error) {
	key := TermKey(termID)

	var t tenant.Term
	err := d.cache.Get(ctx, key, &t)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		d.log.Warn("directory cache read failed", logger.TermID(termID), logger.Err(err))
	}

	out, err := d.next.ResolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}
	if err := d.cache.Set(ctx, key, out, d.ttl); err != nil {
		d.log.Warn("directory cache write failed", logger.TermID(termID), logger.Err(err))
	}
	return out, nil
}

// ListActiveStudents is not cached; it only feeds the scheduled generator.
func (d *DirectoryCache) ListActiveStudents(ctx context.Context, schoolID string) ([]*tenant.Student, error) {
	return d.next.ListActiveStudents(ctx, schoolID)
}
