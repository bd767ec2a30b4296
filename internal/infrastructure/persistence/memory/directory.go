package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/tenant"
)

// Directory is an in-memory tenant.Directory seeded by the caller.
type Directory struct {
	mu       sync.RWMutex
	students map[string]tenant.Student
	terms    map[string]tenant.Term
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		students: make(map[string]tenant.Student),
		terms:    make(map[string]tenant.Term),
	}
}

var _ tenant.Directory = (*Directory)(nil)

// PutStudent adds or replaces a student.
func (d *Directory) PutStudent(s tenant.Student) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.students[s.ID] = s
}

// PutTerm adds or replaces a term.
func (d *Directory) PutTerm(t tenant.Term) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terms[t.ID] = t
}

// ResolveStudent implements tenant.Directory.
func (d *Directory) ResolveStudent(_ context.Context, studentID string) (*tenant.Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.students[studentID]
	if !ok {
		return nil, shared.NotFound("student", "Resolve", studentID)
	}
	return &s, nil
}

// ResolveTerm implements tenant.Directory.
func (d *Directory) ResolveTerm(_ context.Context, termID string) (*tenant.Term, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.terms[termID]
	if !ok {
		return nil, shared.NotFound("term", "Resolve", termID)
	}
	return &t, nil
}

// ListActiveStudents implements tenant.Directory.
func (d *Directory) ListActiveStudents(_ context.Context, schoolID string) ([]*tenant.Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*tenant.Student
	for _, s := range d.students {
		if s.SchoolID == schoolID && s.Active {
			cp := s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AuditSink keeps audit records in memory.
type AuditSink struct {
	mu      sync.Mutex
	records []audit.Record
	failErr error
}

// NewAuditSink creates an empty sink.
func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

// FailWith makes every subsequent write fail with err (nil restores).
func (s *AuditSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Write implements audit.Sink.
func (s *AuditSink) Write(_ context.Context, records []audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.records = append(s.records, records...)
	return nil
}

// Records returns a copy of the stored records.
func (s *AuditSink) Records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}
