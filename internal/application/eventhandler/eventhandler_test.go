package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	err   error
	calls int
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func chargeEvent(t shared.EventType) shared.ChargeEvent {
	return shared.NewChargeEvent(t, "charge-1", "student-1", "school-1", "term-1", "concept-1", "900.00", "0.00", "paid")
}

func TestNotificationForwarder_ForwardsNotifiableEvents(t *testing.T) {
	n := &recordingNotifier{}
	f := NewNotificationForwarder(n, time.Second, logger.Nop())

	require.NoError(t, f.Handle(chargeEvent(shared.EventChargePaid)))
	require.NoError(t, f.Handle(chargeEvent(shared.EventChargeCancelled)))
	require.NoError(t, f.Handle(shared.NewStatementRecomputedEvent("student-1", "term-1", "0.00", true)))

	require.Len(t, n.sent, 1)
	assert.Equal(t, "charge-1", n.sent[0].ChargeID)
	assert.Equal(t, "student-1", n.sent[0].StudentID)
	assert.Equal(t, string(shared.EventChargePaid), n.sent[0].EventType)
	assert.Equal(t, "paid", n.sent[0].Status)
}

func TestNotificationForwarder_SwallowsFailuresAndOpensBreaker(t *testing.T) {
	n := &recordingNotifier{err: errors.New("smtp down")}
	f := NewNotificationForwarder(n, time.Second, logger.Nop())

	for i := 0; i < 5; i++ {
		assert.NoError(t, f.Handle(chargeEvent(shared.EventChargeOverdue)))
	}
	// The sink breaker opens after three consecutive failures.
	assert.Equal(t, 3, n.calls)
}

func TestNotificationForwarder_EventTypes(t *testing.T) {
	f := NewNotificationForwarder(&recordingNotifier{}, 0, logger.Nop())
	assert.ElementsMatch(t,
		[]shared.EventType{shared.EventChargeCreated, shared.EventChargeOverdue, shared.EventChargePaid},
		f.EventTypes(),
	)
}

type fakeCache struct {
	invalidated []string
	err         error
}

func (c *fakeCache) Get(context.Context, string, string) (*statement.Statement, error) {
	return nil, nil
}

func (c *fakeCache) Set(context.Context, *statement.Statement) error { return nil }

func (c *fakeCache) Invalidate(_ context.Context, studentID, termID string) error {
	if c.err != nil {
		return c.err
	}
	c.invalidated = append(c.invalidated, studentID+"|"+termID)
	return nil
}

func TestStatementCacheInvalidator(t *testing.T) {
	cache := &fakeCache{}
	h := NewStatementCacheInvalidator(cache, logger.Nop())

	require.NoError(t, h.Handle(shared.NewStatementRecomputedEvent("student-1", "term-1", "10.00", false)))
	require.NoError(t, h.Handle(chargeEvent(shared.EventChargePaid)))
	assert.Equal(t, []string{"student-1|term-1"}, cache.invalidated)

	cache.err = errors.New("redis down")
	assert.Error(t, h.Handle(shared.NewStatementRecomputedEvent("student-1", "term-1", "10.00", false)))
}
