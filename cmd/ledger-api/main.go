// Package main is the entry point of the ledger REST API.
//
// The API serves the payment concept catalog, charges, payments, account
// statements and the aging report. Background work (late fees, recurring
// charges) runs in ledger-worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/schoolhub/student-ledger/config"
	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/internal/application/query"
	"github.com/schoolhub/student-ledger/internal/bootstrap"
	httpapi "github.com/schoolhub/student-ledger/internal/interface/http"
	"github.com/schoolhub/student-ledger/internal/interface/http/handlers"
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

	log := bootstrap.NewLogger(cfg)
	log.Info("starting ledger api",
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.Ledger.TimeZone),
		logger.String("currency", cfg.Ledger.Currency),
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

	if _, err := infra.StartDispatcher(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	deps := infra.Deps()
	reader := infra.UoW.Reader()

	commands := httpapi.Commands{
		CreateConcept:     command.NewCreateConceptHandler(deps),
		ConceptAdmin:      command.NewConceptAdminHandler(deps),
		CreateCharge:      command.NewCreateChargeHandler(deps),
		CancelCharge:      command.NewCancelChargeHandler(deps),
		AccrueLateFee:     command.NewAccrueLateFeeHandler(deps),
		GenerateRecurring: command.NewGenerateRecurringChargesHandler(deps),
		ApplyPayment:      command.NewApplyPaymentHandler(deps),
		CancelPayment:     command.NewCancelPaymentHandler(deps),
		Recompute:         command.NewRecomputeStatementHandler(deps),
	}
	queries := httpapi.Queries{
		GetStatement:     query.NewGetStatementHandler(reader, infra.Directory, infra.StatementCache, log),
		GetCharge:        query.NewGetChargeHandler(reader),
		GetChargeHistory: query.NewGetChargeHistoryHandler(reader),
		GetAgingReport:   query.NewGetAgingReportHandler(reader, infra.Calendar),
		ListConcepts:     query.NewListConceptsHandler(reader),
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", handlers.NewDatabaseCheck(infra.DB))
	if infra.Cache != nil {
		health.AddOptionalCheck("redis", handlers.NewCacheCheck(infra.Cache))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpapi.NewServer(httpapi.Config{
		Addr:              cfg.HTTP.Addr,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		BodyLimit:         cfg.HTTP.BodyLimit,
		ContentionRetries: cfg.HTTP.ContentionRetries,
		Version:           cfg.App.Version,
	}, httpapi.Dependencies{
		Commands:      commands,
		Queries:       queries,
		Calendar:      infra.Calendar,
		Logger:        log,
		HealthChecker: health,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("ledger api stopped")
	return nil
}
