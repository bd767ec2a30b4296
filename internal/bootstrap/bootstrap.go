// Package bootstrap wires the infrastructure shared by the ledger binaries:
// Postgres, the optional Redis layer, the event bus and the command
// dependencies.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schoolhub/student-ledger/config"
	"github.com/schoolhub/student-ledger/internal/application/command"
	"github.com/schoolhub/student-ledger/internal/application/eventhandler"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
	"github.com/schoolhub/student-ledger/internal/domain/statement"
	"github.com/schoolhub/student-ledger/internal/domain/tenant"
	"github.com/schoolhub/student-ledger/internal/infrastructure/messaging"
	"github.com/schoolhub/student-ledger/internal/infrastructure/persistence/postgres"
	"github.com/schoolhub/student-ledger/internal/infrastructure/persistence/redis"
	"github.com/schoolhub/student-ledger/internal/infrastructure/service"
	"github.com/schoolhub/student-ledger/pkg/logger"
	"github.com/schoolhub/student-ledger/pkg/timeutil"
)

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: cfg.App.Debug,
	}).With(
		logger.String("service", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// Infrastructure holds every long-lived connection of a ledger process.
type Infrastructure struct {
	Config   *config.Config
	Logger   *logger.Logger
	Calendar *timeutil.Calendar

	DB  *postgres.Connection
	UoW *postgres.UnitOfWork

	// Cache is nil when Redis is disabled or unreachable.
	Cache *redis.Cache

	// StatementCache is nil unless Redis is up and the statement cache
	// feature is on.
	StatementCache statement.Cache

	Directory tenant.Directory
	Bus       shared.EventBus
	Audit     *service.AuditRecorder

	closers []func()
}

// Open connects to Postgres and, when enabled, Redis. Redis failures degrade
// to a local event bus and no caches; Postgres failures are fatal.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{
		Config:   cfg,
		Logger:   log,
		Calendar: timeutil.MustCalendar(cfg.Ledger.TimeZone),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// POSTGRES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")
	db, err := postgres.NewConnection(ctx, postgresConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	infra.DB = db
	infra.closers = append(infra.closers, db.Close)
	infra.UoW = postgres.NewUnitOfWork(db)
	log.Info("database connection established")

	var directory tenant.Directory = postgres.NewDirectoryRepository(db)

	// ─────────────────────────────────────────────────────────────────────────
	// REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redisConfig(cfg))
		if err != nil {
			log.Warn("redis unavailable, caches and cross-instance events disabled", logger.Err(err))
		} else {
			infra.Cache = cache
			infra.closers = append(infra.closers, func() { _ = cache.Close() })
			directory = redis.NewDirectoryCache(directory, cache, cfg.Redis.DirectoryTTL, log)
			if cfg.Features.IsEnabled(config.FeatureStatementCache, "") {
				infra.StatementCache = redis.NewStatementCache(cache, cfg.Redis.StatementTTL)
			}
			log.Info("redis connection established")
		}
	}
	infra.Directory = directory

	// ─────────────────────────────────────────────────────────────────────────
	// EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log
	if infra.Cache != nil {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(infra.Cache),
			ChannelName:    cfg.Redis.EventsChannel,
			LocalBusConfig: local,
			Logger:         log,
		})
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("start event bus: %w", err)
		}
		infra.Bus = bus
		// Runs before the cache closer: closers execute in reverse.
		infra.closers = append(infra.closers, func() { _ = bus.Close() })
	} else {
		bus := messaging.NewInMemoryEventBus(local)
		infra.Bus = bus
		infra.closers = append(infra.closers, func() { _ = bus.Close() })
	}

	// ─────────────────────────────────────────────────────────────────────────
	// AUDIT
	// ─────────────────────────────────────────────────────────────────────────
	sink := service.MultiAuditSink{postgres.NewAuditSink(db), service.NewLoggerAuditSink(log)}
	infra.Audit = service.NewAuditRecorder(sink, 0, log)

	return infra, nil
}

// Deps returns the collaborators of the command handlers.
func (i *Infrastructure) Deps() *command.Deps {
	return &command.Deps{
		UoW:       i.UoW,
		Directory: i.Directory,
		Events:    i.Bus,
		Audit:     i.Audit,
		Policy: command.Policy{
			Money:              shared.Money{Currency: i.Config.Ledger.Currency, Places: i.Config.Ledger.DecimalPlaces},
			DefaultLateFeeRate: i.Config.Ledger.DefaultLateFeeRate,
		},
		Calendar: i.Calendar,
		Logger:   i.Logger,
	}
}

// StartDispatcher routes bus events to the statement cache invalidator and
// the notification forwarder.
func (i *Infrastructure) StartDispatcher() (*messaging.Dispatcher, error) {
	dcfg := messaging.DefaultDispatcherConfig(i.Bus)
	dcfg.Logger = i.Logger
	d := messaging.NewDispatcher(dcfg)
	d.Use(messaging.RecoveryMiddleware(i.Logger))
	d.Use(messaging.LoggingMiddleware(i.Logger))

	var errs []error
	if i.StatementCache != nil {
		inv := eventhandler.NewStatementCacheInvalidator(i.StatementCache, i.Logger)
		for _, t := range inv.EventTypes() {
			errs = append(errs, d.Register(t, "statement_cache_invalidator", inv.Handle))
		}
	}

	var notifier eventhandler.Notifier = service.NewLogNotifier(i.Logger)
	if i.Cache != nil {
		notifier = service.NewPubSubNotifier(redis.NewPubSub(i.Cache), i.Config.Redis.NotificationsChannel)
	}
	fwd := eventhandler.NewNotificationForwarder(notifier, 0, i.Logger)
	for _, t := range fwd.EventTypes() {
		errs = append(errs, d.Register(t, "notification_forwarder", messaging.LocalOnly(fwd.Handle)))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := d.Start(); err != nil {
		return nil, err
	}
	i.closers = append(i.closers, d.Stop)
	return d, nil
}

// Migrate applies pending schema migrations.
func (i *Infrastructure) Migrate(ctx context.Context) error {
	applied, err := postgres.NewMigrator(i.DB).Migrate(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	i.Logger.Info("database schema is up to date", logger.Int("applied", applied))
	return nil
}

// Close releases everything in reverse order of acquisition.
func (i *Infrastructure) Close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
	i.closers = nil
}

func postgresConfig(cfg *config.Config) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = cfg.Database.URL
	pc.Host = cfg.Database.Host
	pc.Port = cfg.Database.Port
	pc.Database = cfg.Database.Name
	pc.User = cfg.Database.User
	pc.Password = cfg.Database.Password
	pc.SSLMode = cfg.Database.SSLMode
	pc.MaxConns = int32(cfg.Database.MaxConns)
	pc.MinConns = int32(cfg.Database.MinConns)
	pc.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pc.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pc.ConnectTimeout = cfg.Database.ConnectTimeout
	pc.LockTimeout = cfg.Ledger.LockTimeout
	pc.TimeZone = cfg.Ledger.TimeZone
	return pc
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}
