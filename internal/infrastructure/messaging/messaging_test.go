package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:     false,
		Logger:        logger.Nop(),
		EnableMetrics: true,
	})
}

func paidEvent() shared.Event {
	return shared.NewChargeEvent(shared.EventChargePaid, "charge-1", "student-1", "school-1", "term-1", "concept-1", "900.00", "0.00", "paid")
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	var paid, all int
	require.NoError(t, bus.Subscribe(shared.EventChargePaid, func(shared.Event) error { paid++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(paidEvent()))
	require.NoError(t, bus.Publish(shared.NewStatementRecomputedEvent("student-1", "term-1", "0.00", true)))

	assert.Equal(t, 1, paid)
	assert.Equal(t, 2, all)

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.TotalPublished)
	assert.EqualValues(t, 3, snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerFailureDoesNotFailPublish(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))

	assert.NoError(t, bus.Publish(paidEvent()))
	assert.EqualValues(t, 2, bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncDrainAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: logger.Nop()})
	var n int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		atomic.AddInt32(&n, 1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(paidEvent()))
	}
	bus.Drain()
	assert.EqualValues(t, 10, atomic.LoadInt32(&n))

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(paidEvent()), ErrEventBusClosed)
}

func TestDispatcher_RetriesThenDeadLetters(t *testing.T) {
	bus := syncBus()
	d := NewDispatcher(DispatcherConfig{
		EventBus:            bus,
		RetryConfig:         RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		DeadLetterQueueSize: 10,
		Logger:              logger.Nop(),
	})
	d.Use(RecoveryMiddleware(logger.Nop()))
	d.Use(LoggingMiddleware(logger.Nop()))

	var flaky, broken int
	require.NoError(t, d.Register(shared.EventChargePaid, "flaky", func(shared.Event) error {
		flaky++
		if flaky < 2 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, d.Register(shared.EventChargePaid, "broken", func(shared.Event) error {
		broken++
		panic("always")
	}))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(paidEvent()))

	assert.Equal(t, 2, flaky)
	assert.Equal(t, 3, broken)
	require.Equal(t, 1, d.DeadLetterQueue().Size())
	entry := d.DeadLetterQueue().Entries()[0]
	assert.Equal(t, "broken", entry.HandlerName)
	assert.ErrorIs(t, entry.Error, ErrHandlerPanic)
}

func TestDispatcher_RegisterValidation(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(syncBus()))
	assert.Error(t, d.Register(shared.EventChargePaid, "nil", nil))
	assert.Error(t, d.Register(shared.EventChargePaid, "", func(shared.Event) error { return nil }))
}

// loopbackRedis delivers published messages to every subscriber, like a
// single Redis server shared by several instances.
type loopbackRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

type loopbackClient struct{ hub *loopbackRedis }

func (c loopbackClient) Publish(_ context.Context, channel string, message interface{}) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for _, ch := range c.hub.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (c loopbackClient) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	c.hub.subs = append(c.hub.subs, ch)
	return ch, nil
}

func (c loopbackClient) Close() error { return nil }

func TestRedisEventBus_FansOutToOtherInstances(t *testing.T) {
	hub := &loopbackRedis{}
	newBus := func(id string) *RedisEventBus {
		b, err := NewRedisEventBus(RedisEventBusConfig{
			Client:         loopbackClient{hub: hub},
			InstanceID:     id,
			LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
			Logger:         logger.Nop(),
		})
		require.NoError(t, err)
		return b
	}
	a, b := newBus("a"), newBus("b")
	defer a.Close()
	defer b.Close()

	var localHits int32
	received := make(chan shared.Event, 1)
	require.NoError(t, a.Subscribe(shared.EventChargePaid, func(shared.Event) error {
		atomic.AddInt32(&localHits, 1)
		return nil
	}))
	require.NoError(t, b.Subscribe(shared.EventChargePaid, func(e shared.Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, a.Publish(paidEvent()))

	select {
	case e := <-received:
		assert.Equal(t, "charge-1", e.AggregateID())
		assert.Equal(t, "student-1", e.Payload()["student_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("remote event not delivered")
	}

	// Give instance a a moment to drop its own echo.
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&localHits))
}

func TestLocalOnly_SkipsRemoteEvents(t *testing.T) {
	var n int
	h := LocalOnly(func(shared.Event) error { n++; return nil })

	require.NoError(t, h(paidEvent()))
	require.NoError(t, h(NewRemoteEvent(shared.EventChargePaid, "charge-1", time.Now(), map[string]interface{}{})))

	assert.Equal(t, 1, n)
}
