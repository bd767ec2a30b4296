package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/internal/domain/tenant"
	"github.com/schoolhub/student-ledger/pkg/logger"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATE RECURRING CHARGES JOB
// ══════════════════════════════════════════════════════════════════════════════

// RecurringGenerator issues the current period's recurring charges of a term.
type RecurringGenerator interface {
	Handle(ctx context.Context, cmd command.GenerateRecurringChargesCommand) (command.GenerationStats, error)
}

// GenerateRecurringChargesJob issues recurring charges for the configured
// terms. Re-running it within a period creates nothing new.
type GenerateRecurringChargesJob struct {
	generator RecurringGenerator
	directory tenant.Directory
	gate      FeatureGate
	calendar  *timeutil.Calendar
	logger    *logger.Logger
	config    GenerateRecurringChargesConfig

	lastStats atomic.Value // *RecurringRunStats
}

// GenerateRecurringChargesConfig contains configuration for the job.
type GenerateRecurringChargesConfig struct {
	TermIDs []string
	Feature string
}

// RecurringRunStats describes the last run.
type RecurringRunStats struct {
	StartedAt    time.Time
	Duration     time.Duration
	Terms        int
	SkippedTerms int
	command.GenerationStats
}

// NewGenerateRecurringChargesJob creates a new generation job.
func NewGenerateRecurringChargesJob(
	generator RecurringGenerator,
	directory tenant.Directory,
	gate FeatureGate,
	calendar *timeutil.Calendar,
	log *logger.Logger,
	config GenerateRecurringChargesConfig,
) *GenerateRecurringChargesJob {
	if log == nil {
		log = logger.Default()
	}
	if calendar == nil {
		calendar = timeutil.UTC()
	}
	return &GenerateRecurringChargesJob{
		generator: generator,
		directory: directory,
		gate:      gate,
		calendar:  calendar,
		logger:    log.With(logger.String("job", "generate_recurring_charges")),
		config:    config,
	}
}

// Name implements scheduler.Job.
func (j *GenerateRecurringChargesJob) Name() string {
	return "generate_recurring_charges"
}

// Description implements scheduler.Job.
func (j *GenerateRecurringChargesJob) Description() string {
	return "Issues the current period charge of recurring concepts"
}

// Run implements scheduler.Job. A failing term does not stop the others;
// their errors are joined.
func (j *GenerateRecurringChargesJob) Run(ctx context.Context) error {
	started := time.Now()
	today := j.calendar.Today()
	run := &RecurringRunStats{StartedAt: started}

	var errs []error
	for _, termID := range j.config.TermIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		term, err := j.directory.ResolveTerm(ctx, termID)
		if err != nil {
			errs = append(errs, fmt.Errorf("term %s: %w", termID, err))
			continue
		}
		if !term.Contains(today) {
			run.SkippedTerms++
			j.logger.Debug("term not in session, skipping", logger.TermID(termID))
			continue
		}
		if j.gate != nil && !j.gate.IsEnabled(j.config.Feature, term.SchoolID) {
			run.SkippedTerms++
			j.logger.Debug("recurring generation disabled for school",
				logger.TermID(termID), logger.SchoolID(term.SchoolID))
			continue
		}

		stats, err := j.generator.Handle(ctx, command.GenerateRecurringChargesCommand{
			TermID:  termID,
			AsOf:    today,
			ActorID: command.SystemActor,
		})
		run.Terms++
		run.Students += stats.Students
		run.Created += stats.Created
		run.Existing += stats.Existing
		run.Failed += stats.Failed
		if err != nil {
			errs = append(errs, fmt.Errorf("term %s: %w", termID, err))
		}
	}

	run.Duration = time.Since(started)
	j.lastStats.Store(run)
	return errors.Join(errs...)
}

// LastStats returns the stats of the last run, or nil.
func (j *GenerateRecurringChargesJob) LastStats() *RecurringRunStats {
	if v, ok := j.lastStats.Load().(*RecurringRunStats); ok {
		return v
	}
	return nil
}
