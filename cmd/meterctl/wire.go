package main

import (
	"context"
	"fmt"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/bootstrap"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/infrastructure/config"
	"github.com/aimeter/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

type overageSyncer interface {
	Sync(ctx context.Context, limit int) (appmetering.OverageSyncResult, error)
}

type retentionCleaner interface {
	Cleanup(ctx context.Context, days int, dryRun bool) (appmetering.CleanupResult, error)
}

type reportGenerator interface {
	Generate(ctx context.Context, billable *metering.BillableRef, which appmetering.ReportPeriod) (*appmetering.UsageReport, error)
}

type planManager interface {
	ListActive(ctx context.Context) ([]*metering.Plan, error)
	MigratePlan(ctx context.Context, input appmetering.MigratePlanInput) (*metering.Subscription, error)
}

type configValidator interface {
	Validate(ctx context.Context) (appmetering.ValidationReport, error)
}

// services are the operations exposed by meterctl
type services struct {
	overages   overageSyncer
	retention  retentionCleaner
	reports    reportGenerator
	plans      planManager
	validation configValidator
	syncLimit  int
	close      func() error
}

// serviceLoader builds the services lazily so --help works without a database
type serviceLoader func(ctx context.Context, logLevel string) (*services, error)

func wireServices(ctx context.Context, logLevel string) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		_ = logger.Sync(log)
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	return &services{
		overages:   app.Overages,
		retention:  app.Retention,
		reports:    app.Reports,
		plans:      app.Plans,
		validation: app.Validation,
		syncLimit:  cfg.Scheduler.OverageSyncLimit,
		close: func() error {
			if err := app.Stop(ctx); err != nil {
				log.Warn("Metering did not drain cleanly", zap.Error(err))
			}
			err := app.Close()
			_ = logger.Sync(log)
			return err
		},
	}, nil
}
