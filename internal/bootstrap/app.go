// Package bootstrap assembles the metering engine from configuration. The
// server and the operator CLI share it so both run against the same wiring.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/infrastructure/billing"
	"github.com/aimeter/backend/internal/infrastructure/cache"
	"github.com/aimeter/backend/internal/infrastructure/config"
	"github.com/aimeter/backend/internal/infrastructure/event"
	"github.com/aimeter/backend/internal/infrastructure/logger"
	"github.com/aimeter/backend/internal/infrastructure/persistence"
	"github.com/aimeter/backend/internal/infrastructure/provider"
	"github.com/aimeter/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// App holds the assembled metering services
type App struct {
	Config   *config.Config
	Settings appmetering.Settings
	Logger   *zap.Logger

	DB      *persistence.Database
	Cache   *cache.Backend
	Events  *event.InMemoryEventBus
	Metrics *telemetry.MeteringMetrics

	Providers *appmetering.ProviderRegistry
	Limiter   *appmetering.UsageLimiter
	Resolver  *appmetering.PlanResolver
	Ledger    *appmetering.CreditLedger
	Billing   appmetering.BillingDriver
	Recorder  *appmetering.UsageRecorder
	Async     *appmetering.AsyncUsageRecorder
	Meter     *appmetering.Meter

	Reports    *appmetering.ReportService
	Overages   *appmetering.OverageSyncService
	Retention  *appmetering.RetentionService
	Plans      *appmetering.PlanService
	Validation *appmetering.ValidationService
	// Webhooks is nil unless the Stripe driver is configured
	Webhooks *appmetering.SubscriptionWebhookService

	closers []func() error
}

// New builds every metering service from cfg. The caller owns the returned
// App and must Close it.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	settings, err := cfg.Metering.Settings()
	if err != nil {
		return nil, fmt.Errorf("invalid metering configuration: %w", err)
	}

	app := &App{Config: cfg, Settings: settings, Logger: log}
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	settings := a.Settings
	meterLog := logger.ForMetering(a.Logger, settings.Logging.Enabled)

	db, err := persistence.NewDatabase(&cfg.Database, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := telemetry.InstrumentDatabase(db.DB, telemetry.DBTracingConfig{
		Enabled:  cfg.Telemetry.Enabled,
		DBSystem: dbSystem(cfg.Database.Driver),
	}, a.Logger); err != nil {
		return err
	}
	if cfg.Database.Driver == "sqlite" {
		if err := db.Migrate(); err != nil {
			return err
		}
	}

	backend, err := cache.NewFactory(cfg.Redis, cache.WithLogger(a.Logger)).CreateBackend()
	if err != nil {
		return fmt.Errorf("failed to create cache backend: %w", err)
	}
	a.Cache = backend
	a.closers = append(a.closers, backend.Close)
	if !backend.Distributed && settings.Security.PreventRaceConditions {
		a.Logger.Warn("Entity locks are process-local; run a single instance or enable Redis")
	}

	metrics, err := telemetry.NewMeteringMetrics(otel.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		return fmt.Errorf("failed to create metering metrics: %w", err)
	}
	a.Metrics = metrics

	a.Events = event.NewInMemoryEventBus(a.Logger)
	event.RegisterMeteringHandlers(a.Events,
		event.NewLoggingHandler(meterLog, logger.ParseLevel(settings.Logging.Level), settings.Logging.LogFailures),
		event.NewMetricsHandler(metrics),
	)

	usageRepo := persistence.NewGormUsageRecordRepository(db.DB, settings.Storage.DeletionPolicy)
	planRepo := persistence.NewGormPlanRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	overrideRepo := persistence.NewGormOverrideRepository(db.DB)
	walletRepo := persistence.NewGormCreditWalletRepository(db.DB)
	overageRepo := persistence.NewGormOverageRepository(db.DB)

	costs := metering.NewCostCalculator(settings.Pricing)
	a.Providers = appmetering.NewProviderRegistry(costs)
	provider.Register(a.Providers)
	if err := a.Providers.Validate(settings); err != nil {
		return err
	}

	a.Resolver = appmetering.NewPlanResolver(subscriptionRepo, backend.Subscriptions, settings, meterLog)
	a.Limiter, err = appmetering.NewUsageLimiter(appmetering.UsageLimiterDeps{
		Resolver:  a.Resolver,
		Usage:     usageRepo,
		Overrides: overrideRepo,
		Cache:     backend.Totals,
		Metrics:   metrics,
		Logger:    meterLog,
	}, settings)
	if err != nil {
		return err
	}

	converter := appmetering.NewCurrencyConverter(settings, meterLog)
	a.Ledger = appmetering.NewCreditLedger(walletRepo, converter, a.Events, settings, meterLog)

	var sink metering.ChargeSink
	if settings.Billing.Driver == appmetering.DriverStripe {
		stripeSink, err := billing.NewStripeChargeSink(&cfg.Stripe, meterLog)
		if err != nil {
			return err
		}
		sink = stripeSink
	}

	if settings.Billing.Driver == appmetering.DriverNull {
		a.Billing = appmetering.NullBillingDriver{}
	} else {
		a.Billing, err = appmetering.NewPlanBillingDriver(appmetering.PlanBillingDriverDeps{
			Resolver:  a.Resolver,
			Ledger:    a.Ledger,
			Overages:  overageRepo,
			Sink:      sink,
			Converter: converter,
			Events:    a.Events,
			Logger:    meterLog,
		}, settings)
		if err != nil {
			return err
		}
	}

	a.Recorder = appmetering.NewUsageRecorder(usageRepo, settings, meterLog)
	var writer appmetering.UsageWriter = a.Recorder
	if settings.Performance.QueueUsageRecording {
		a.Async = appmetering.NewAsyncUsageRecorder(a.Recorder, a.Limiter, settings, meterLog)
		writer = a.Async
	}

	a.Meter = appmetering.NewMeter(appmetering.MeterDeps{
		Limiter:   a.Limiter,
		Resolver:  a.Resolver,
		Recorder:  writer,
		Billing:   a.Billing,
		Providers: a.Providers,
		Costs:     costs,
		Locker:    backend.Locker,
		Events:    a.Events,
		Metrics:   metrics,
		Logger:    meterLog,
	}, settings)

	a.Reports, err = appmetering.NewReportService(usageRepo, settings, meterLog)
	if err != nil {
		return err
	}
	a.Overages = appmetering.NewOverageSyncService(overageRepo, a.Resolver, sink, metrics, meterLog)
	a.Retention = appmetering.NewRetentionService(usageRepo, settings, meterLog)
	a.Plans = appmetering.NewPlanService(planRepo, subscriptionRepo, a.Resolver, a.Limiter, a.Events, meterLog)
	a.Validation = appmetering.NewValidationService(settings, a.Providers, usageRepo, subscriptionRepo)

	if settings.Billing.Driver == appmetering.DriverStripe {
		a.Webhooks = appmetering.NewSubscriptionWebhookService(appmetering.SubscriptionWebhookServiceConfig{
			Config:        &cfg.Stripe,
			Subscriptions: subscriptionRepo,
			Resolver:      a.Resolver,
			Limiter:       a.Limiter,
			Events:        a.Events,
			Processed:     backend.Processed,
			Settings:      settings,
			Logger:        meterLog,
		})
	}
	return nil
}

// Start launches the event bus and, when enabled, the usage queue
func (a *App) Start(ctx context.Context) error {
	if err := a.Events.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	if a.Async != nil {
		if err := a.Async.Start(ctx); err != nil {
			return fmt.Errorf("failed to start usage queue: %w", err)
		}
	}
	return nil
}

// Stop drains the usage queue and the event bus
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if a.Async != nil {
		if err := a.Async.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("usage queue: %w", err))
		}
	}
	if a.Events != nil {
		if err := a.Events.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("event bus: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Ready reports whether the database answers
func (a *App) Ready() error {
	return a.DB.Ping()
}

// Close releases the cache backend and the database, in reverse order of
// acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func dbSystem(driver string) string {
	if driver == "sqlite" {
		return "sqlite"
	}
	return "postgresql"
}
