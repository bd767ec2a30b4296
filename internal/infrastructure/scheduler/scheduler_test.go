package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/student-ledger/pkg/logger"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("kaboom")
	}
	return j.err
}

type tickSchedule struct{ every time.Duration }

func (s tickSchedule) Next(t time.Time) time.Time { return t.Add(s.every) }
func (s tickSchedule) String() string           { return "tick" }

func newTestScheduler() *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Logger = logger.Nop()
	cfg.JobTimeout = time.Second
	return NewScheduler(cfg)
}

func TestParseCron(t *testing.T) {
	s, err := ParseCron("5 0 1 * *")
	require.NoError(t, err)
	assert.Equal(t, "5 0 1 * *", s.String())

	from := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 5, 0, 0, time.UTC), s.Next(from))

	_, err = ParseCron("every night")
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "a"}

	assert.ErrorIs(t, s.Register(nil, tickSchedule{time.Hour}), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.RegisterCron(job, "@every 1h"))
	assert.ErrorIs(t, s.Register(job, tickSchedule{time.Hour}), ErrJobAlreadyExists)
	assert.Error(t, s.RegisterCron(&countingJob{name: "b"}, "61 * * * *"))

	info, err := s.GetJobInfo("a")
	require.NoError(t, err)
	assert.Equal(t, "@every 1h", info.Schedule)
	assert.True(t, info.Enabled)
	assert.False(t, info.NextRun.IsZero())

	_, err = s.GetJobInfo("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Len(t, s.ListJobs(), 1)
}

func TestRunNow_RecordsResults(t *testing.T) {
	s := newTestScheduler()
	boom := errors.New("boom")
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: boom}
	panicky := &countingJob{name: "panicky", panic: true}
	for _, j := range []*countingJob{ok, bad, panicky} {
		require.NoError(t, s.Register(j, tickSchedule{time.Hour}))
	}

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)

	_, err = s.RunNow(context.Background(), "panicky")
	assert.ErrorIs(t, err, ErrJobPanic)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(3), snap.TotalExecutions)
	assert.Equal(t, int64(2), snap.TotalFailures)
	assert.Len(t, s.GetHistory(0), 3)
	assert.Len(t, s.GetHistory(1), 1)

	info, err := s.GetJobInfo("bad")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.FailCount)
	require.NotNil(t, info.LastResult)
	assert.False(t, info.LastResult.Success)
}

func TestScheduledRuns(t *testing.T) {
	s := newTestScheduler()
	active := &countingJob{name: "active"}
	paused := &countingJob{name: "paused"}
	require.NoError(t, s.Register(active, tickSchedule{50 * time.Millisecond}))
	require.NoError(t, s.Register(paused, tickSchedule{50 * time.Millisecond}))
	require.NoError(t, s.DisableJob("paused"))
	assert.ErrorIs(t, s.EnableJob("missing"), ErrJobNotFound)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return active.runs.Load() >= 2 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.ErrorIs(t, s.Stop(ctx), ErrSchedulerNotRunning)
	assert.Equal(t, int32(0), paused.runs.Load())
}
