package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/internal/application/eventhandler"
	"github.com/schoolhub/student-ledger/internal/domain/audit"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

type memorySink struct {
	records []audit.Record
	err     error
	writes  int
}

func (s *memorySink) Write(_ context.Context, records []audit.Record) error {
	s.writes++
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func record(action string) audit.Record {
	at := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	return audit.NewRecord(audit.EntityCharge, "charge-1", action, "admin-1",
		map[string]string{"status": "pending"}, map[string]string{"status": "paid"}, at)
}

func TestAuditRecorder_SealsRecords(t *testing.T) {
	sink := &memorySink{}
	r := NewAuditRecorder(sink, time.Second, logger.Nop())

	r.Record(context.Background(), []audit.Record{record("apply_payment"), record("cancel")})

	require.Len(t, sink.records, 2)
	for _, rec := range sink.records {
		assert.Len(t, rec.Hash, 64)
		assert.True(t, VerifyRecord(rec))
	}

	tampered := sink.records[0]
	tampered.ActorID = "someone-else"
	assert.False(t, VerifyRecord(tampered))
}

func TestAuditRecorder_CancelledContextStillWrites(t *testing.T) {
	sink := &memorySink{}
	r := NewAuditRecorder(sink, time.Second, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, []audit.Record{record("create")})

	assert.Len(t, sink.records, 1)
}

func TestAuditRecorder_BreakerStopsCallingDeadSink(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	r := NewAuditRecorder(sink, time.Second, logger.Nop())

	for i := 0; i < 6; i++ {
		r.Record(context.Background(), []audit.Record{record("create")})
	}
	assert.Equal(t, 3, sink.writes)
}

func TestMultiAuditSink(t *testing.T) {
	ok, bad := &memorySink{}, &memorySink{err: errors.New("nope")}
	err := MultiAuditSink{ok, bad, NewLoggerAuditSink(logger.Nop())}.Write(context.Background(), []audit.Record{record("create")})
	assert.Error(t, err)
	assert.Len(t, ok.records, 1)
}

type capturePublisher struct {
	channel string
	message string
}

func (p *capturePublisher) Publish(_ context.Context, channel string, message interface{}) error {
	p.channel = channel
	p.message = message.(string)
	return nil
}

func TestPubSubNotifier(t *testing.T) {
	pub := &capturePublisher{}
	n := NewPubSubNotifier(pub, "ledger:notifications")

	require.NoError(t, n.Notify(context.Background(), eventhandler.Notification{
		ChargeID:  "charge-1",
		StudentID: "student-1",
		EventType: "charge.paid",
	}))

	assert.Equal(t, "ledger:notifications", pub.channel)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(pub.message), &got))
	assert.Equal(t, "charge-1", got["charge_id"])
	assert.Equal(t, "charge.paid", got["event_type"])
	assert.NoError(t, NewLogNotifier(logger.Nop()).Notify(context.Background(), eventhandler.Notification{}))
}
