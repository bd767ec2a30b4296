// Package jobs contains the ledger's scheduled jobs.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCRUE LATE FEES JOB
// ══════════════════════════════════════════════════════════════════════════════

// FeatureGate reports whether a feature is on for a school. An empty school
// id asks about the feature as a whole.
type FeatureGate interface {
	IsEnabled(feature, schoolID string) bool
}

// LateFeeSweeper runs the late fee sweep.
type LateFeeSweeper interface {
	HandleSweep(ctx context.Context, cmd command.AccrueLateFeesCommand) (command.SweepStats, error)
}

// AccrueLateFeesJob accrues the monthly late fee on every overdue charge of
// the schools that have the feature on.
type AccrueLateFeesJob struct {
	sweeper LateFeeSweeper
	gate    FeatureGate
	feature string
	logger  *logger.Logger
	config  AccrueLateFeesConfig

	lastStats atomic.Value // *LateFeeRunStats
}

// AccrueLateFeesConfig contains configuration for the sweep job.
type AccrueLateFeesConfig struct {
	// BatchSize controls sweep progress logging.
	BatchSize int

	// Feature is the flag gating the sweep per school.
	Feature string
}

// LateFeeRunStats describes the last sweep.
type LateFeeRunStats struct {
	StartedAt time.Time
	Duration  time.Duration
	command.SweepStats
}

// NewAccrueLateFeesJob creates a new sweep job. A nil gate runs for every
// school.
func NewAccrueLateFeesJob(sweeper LateFeeSweeper, gate FeatureGate, log *logger.Logger, config AccrueLateFeesConfig) *AccrueLateFeesJob {
	if log == nil {
		log = logger.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	return &AccrueLateFeesJob{
		sweeper: sweeper,
		gate:    gate,
		feature: config.Feature,
		logger:  log.With(logger.String("job", "accrue_late_fees")),
		config:  config,
	}
}

// Name implements scheduler.Job.
func (j *AccrueLateFeesJob) Name() string {
	return "accrue_late_fees"
}

// Description implements scheduler.Job.
func (j *AccrueLateFeesJob) Description() string {
	return "Accrues the monthly late fee on overdue charges"
}

// Run implements scheduler.Job. Schools with the feature off are skipped
// inside the sweep, so a per-school override still works while the feature
// is off globally.
func (j *AccrueLateFeesJob) Run(ctx context.Context) error {
	started := time.Now()
	cmd := command.AccrueLateFeesCommand{BatchSize: j.config.BatchSize}
	if j.gate != nil {
		cmd.SchoolEnabled = func(schoolID string) bool {
			return j.gate.IsEnabled(j.feature, schoolID)
		}
	}

	stats, err := j.sweeper.HandleSweep(ctx, cmd)
	j.lastStats.Store(&LateFeeRunStats{StartedAt: started, Duration: time.Since(started), SweepStats: stats})
	if err == nil && stats.Failed > 0 {
		j.logger.Warn("late fee sweep finished with failures", logger.Int("failed", stats.Failed))
	}
	return err
}

// LastStats returns the stats of the last run, or nil.
func (j *AccrueLateFeesJob) LastStats() *LateFeeRunStats {
	if v, ok := j.lastStats.Load().(*LateFeeRunStats); ok {
		return v
	}
	return nil
}
