// Package main is the entry point of the ledger background worker.
//
// The worker owns the periodic jobs:
//   - the nightly late fee sweep over overdue charges
//   - the monthly generation of recurring charges for the configured terms
//
// It also applies database migrations when DB_AUTO_MIGRATE is set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schoolhub/student-ledger/config"
	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/internal/bootstrap"
	"github.com/schoolhub/student-ledger/internal/infrastructure/scheduler"
	"github.com/schoolhub/student-ledger/internal/infrastructure/scheduler/jobs"
	"github.com/schoolhub/student-ledger/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg).With(logger.Component("worker"))
	log.Info("starting ledger worker",
		logger.String("late_fee_cron", cfg.Scheduler.LateFeeCron),
		logger.String("recurring_cron", cfg.Scheduler.RecurringCron),
		logger.Int("recurring_terms", len(cfg.Scheduler.RecurringTermIDs)),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. INFRASTRUCTURE
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	if cfg.Database.AutoMigrate {
		if err := infra.Migrate(ctx); err != nil {
			return err
		}
	}

	// The worker's own events still invalidate caches and notify students.
	if _, err := infra.StartDispatcher(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker idle until shutdown")
		<-ctx.Done()
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. JOBS
	// ─────────────────────────────────────────────────────────────────────────
	deps := infra.Deps()

	lateFees := jobs.NewAccrueLateFeesJob(
		command.NewAccrueLateFeeHandler(deps),
		cfg.Features,
		log,
		jobs.AccrueLateFeesConfig{
			BatchSize: cfg.Scheduler.BatchSize,
			Feature:   config.FeatureLateFeeAccrual,
		},
	)
	recurring := jobs.NewGenerateRecurringChargesJob(
		command.NewGenerateRecurringChargesHandler(deps),
		infra.Directory,
		cfg.Features,
		infra.Calendar,
		log,
		jobs.GenerateRecurringChargesConfig{
			TermIDs: cfg.Scheduler.RecurringTermIDs,
			Feature: config.FeatureRecurringGeneration,
		},
	)

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         log,
		Timezone:       infra.Calendar.Location(),
		JobTimeout:     cfg.Scheduler.JobTimeout,
		MaxHistorySize: 100,
	})
	if err := sched.RegisterCron(lateFees, cfg.Scheduler.LateFeeCron); err != nil {
		return fmt.Errorf("register %s: %w", lateFees.Name(), err)
	}
	if err := sched.RegisterCron(recurring, cfg.Scheduler.RecurringCron); err != nil {
		return fmt.Errorf("register %s: %w", recurring.Name(), err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. RUN UNTIL SIGNAL
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	for _, info := range sched.ListJobs() {
		log.Info("job scheduled",
			logger.String("job", info.Name),
			logger.String("schedule", info.Schedule),
			logger.Time("next_run", info.NextRun),
		)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, waiting for running jobs")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		log.Error("scheduler did not stop cleanly", logger.Err(err))
	}

	m := sched.GetMetrics().Snapshot()
	log.Info("ledger worker stopped",
		logger.Any("executions", m.TotalExecutions),
		logger.Any("failures", m.TotalFailures),
	)
	return nil
}
