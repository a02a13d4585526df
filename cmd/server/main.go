package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/aimeter/backend/docs"
	"github.com/aimeter/backend/internal/bootstrap"
	"github.com/aimeter/backend/internal/infrastructure/config"
	"github.com/aimeter/backend/internal/infrastructure/logger"
	"github.com/aimeter/backend/internal/infrastructure/scheduler"
	"github.com/aimeter/backend/internal/infrastructure/telemetry"
	"github.com/aimeter/backend/internal/interfaces/http/handler"
	"github.com/aimeter/backend/internal/interfaces/http/middleware"
	"github.com/aimeter/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//	@title			AI Meter API
//	@version		1.0
//	@description	Usage metering, quota enforcement and billing for AI provider calls

//	@BasePath	/api/v1

//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Telemetry providers are installed globally before any instrument is created
	tel, log := setupTelemetry(ctx, cfg, log)
	defer tel.shutdown(log)

	log.Info("Starting AI Meter",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("billing_driver", cfg.Metering.Driver),
	)

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize metering", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()
	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start metering", zap.Error(err))
	}
	log.Info("Metering initialized",
		zap.Strings("providers", app.Providers.Names()),
		zap.Bool("distributed_cache", app.Cache.Distributed),
		zap.Bool("queued_recording", app.Async != nil),
	)

	// Background jobs
	sched := scheduler.New(cfg.Scheduler, app.Cache.Locker, log)
	if cfg.Scheduler.Enabled {
		if err := sched.RegisterMeteringJobs(app.Overages, app.Retention); err != nil {
			log.Fatal("Failed to register scheduled jobs", zap.Error(err))
		}
		if err := sched.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(logger.GinMiddleware(log))

	handlers := router.MeteringHandlers{
		Limits:  handler.NewLimitHandler(app.Limiter, app.Reports),
		Usage:   handler.NewUsageHandler(app.Meter, app.Settings.DefaultProvider),
		Wallets: handler.NewWalletHandler(app.Ledger, app.Billing),
	}
	if app.Webhooks != nil {
		handlers.Webhooks = handler.NewStripeWebhookHandler(app.Webhooks)
	}

	r := router.NewRouter(engine)
	r.Register(router.MeteringGroups(handlers, router.MeteringRoutesConfig{
		Quota: middleware.EnforceQuota(app.Limiter, middleware.QuotaConfig{
			OverageBehavior: app.Settings.Billing.OverageBehavior,
			Logger:          log,
		}),
		Auth:         middleware.APIKeyAuth(cfg.HTTP.APIKeys),
		MaxBodyBytes: cfg.HTTP.MaxBodySize,
	})...)
	r.Setup()
	router.RegisterHealth(engine, app.Ready)
	router.RegisterDocs(engine, middleware.SwaggerProtection(middleware.SwaggerConfig{
		Enabled:     cfg.Swagger.Enabled,
		RequireAuth: cfg.Swagger.RequireAuth,
		AllowedIPs:  cfg.Swagger.AllowedIPs,
	}, middleware.APIKeyAuth(cfg.HTTP.APIKeys)))

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if cfg.Scheduler.Enabled {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Error("Scheduler did not stop cleanly", zap.Error(err))
		}
	}
	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Metering did not drain cleanly", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

type telemetryProviders struct {
	tracer *telemetry.TracerProvider
	meter  *telemetry.MeterProvider
	logs   *telemetry.LoggerProvider
}

// setupTelemetry installs the trace, metric and log providers. Failures are
// logged and leave the corresponding signal on the no-op provider. The
// returned logger is teed to the OTLP log exporter when enabled.
func setupTelemetry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*telemetryProviders, *zap.Logger) {
	telCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
	}
	tel := &telemetryProviders{}

	tp, err := telemetry.NewTracerProvider(ctx, telCfg, log)
	if err != nil {
		log.Error("Failed to initialize tracing", zap.Error(err))
	} else {
		tel.tracer = tp
	}

	mp, err := telemetry.NewMeterProvider(ctx, telCfg, log)
	if err != nil {
		log.Error("Failed to initialize metrics", zap.Error(err))
	} else {
		tel.meter = mp
	}

	logsCfg := telCfg
	logsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled
	lp, err := telemetry.NewLoggerProvider(ctx, logsCfg)
	if err != nil {
		log.Error("Failed to initialize log export", zap.Error(err))
		return tel, log
	}
	tel.logs = lp
	return tel, lp.Bridge(log, zapcore.InfoLevel)
}

func (t *telemetryProviders) shutdown(log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if t.tracer != nil {
		if err := t.tracer.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if t.meter != nil {
		if err := t.meter.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown meter provider", zap.Error(err))
		}
	}
	if t.logs != nil {
		if err := t.logs.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown logger provider", zap.Error(err))
		}
	}
}
