package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/infrastructure/billing"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Swagger   SwaggerConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
	Stripe    billing.StripeConfig
	Metering  MeteringConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Path            string // sqlite file path
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
}

// RedisConfig holds Redis connection settings. With Redis disabled the
// limit cache and entity locks fall back to process memory.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address of the Redis server
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	// APIKeys guard the limit and wallet endpoints; empty disables the check
	APIKeys []string
}

// SwaggerConfig holds API documentation endpoint configuration
type SwaggerConfig struct {
	Enabled     bool     // Serve /swagger/*
	RequireAuth bool     // Require an API key to read the docs
	AllowedIPs  []string // IP whitelist (CIDR notation supported)
}

// SchedulerConfig holds the metering job schedules
type SchedulerConfig struct {
	Enabled          bool
	OverageSyncCron  string
	OverageSyncLimit int
	RetentionCron    string
	JobTimeout       time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
	SamplingRatio     float64
	LogsEnabled       bool
}

// MeteringConfig is the raw metering section. Settings converts it into
// the immutable snapshot used by the metering services.
type MeteringConfig struct {
	DefaultProvider string
	Providers       []string
	Pricing         metering.PricingTable

	Driver                        string
	OverageBehavior               string
	OverageSyncStrategy           string
	CreditOverdraftAllowed        bool
	Currency                      string
	PaymentFailureGracePeriodDays int
	CurrencyRates                 map[string]decimal.Decimal

	PeriodType      string
	PeriodAlignment string
	Timezone        string

	PruneAfterDays int
	DeletionPolicy string

	CacheLimitChecks    bool
	CacheTTL            time.Duration
	QueueUsageRecording bool
	BatchSize           int

	ValidateFeatureNames  bool
	SanitizeMetadata      bool
	PreventRaceConditions bool
	LockTTL               time.Duration

	LoggingEnabled bool
	LoggingLevel   string
	LogFailures    bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with AIMETER_ prefix (e.g., AIMETER_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	v.AddConfigPath("/etc/aimeter")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds the configuration from an initialized viper instance
func LoadFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("AIMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	v.SetDefault("swagger.enabled", true)
	v.SetDefault("swagger.require_auth", true)
	setMeteringDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			APIKeys:        v.GetStringSlice("http.api_keys"),
		},
		Swagger: SwaggerConfig{
			Enabled:     v.GetBool("swagger.enabled"),
			RequireAuth: v.GetBool("swagger.require_auth"),
			AllowedIPs:  v.GetStringSlice("swagger.allowed_ips"),
		},
		Scheduler: SchedulerConfig{
			Enabled:          v.GetBool("scheduler.enabled"),
			OverageSyncCron:  v.GetString("scheduler.overage_sync_cron"),
			OverageSyncLimit: v.GetInt("scheduler.overage_sync_limit"),
			RetentionCron:    v.GetString("scheduler.retention_cron"),
			JobTimeout:       v.GetDuration("scheduler.job_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
		Stripe: billing.StripeConfig{
			SecretKey:         v.GetString("stripe.secret_key"),
			WebhookSecret:     v.GetString("stripe.webhook_secret"),
			IsTestMode:        v.GetBool("stripe.is_test_mode"),
			DefaultCurrency:   v.GetString("stripe.default_currency"),
			ChargeDescription: v.GetString("stripe.charge_description"),
		},
	}

	meteringCfg, err := loadMetering(v)
	if err != nil {
		return nil, err
	}
	cfg.Metering = meteringCfg

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setMeteringDefaults registers the metering defaults with viper so that
// boolean switches which default to true can still be turned off
func setMeteringDefaults(v *viper.Viper) {
	d := appmetering.DefaultSettings()
	v.SetDefault("metering.default_provider", d.DefaultProvider)
	v.SetDefault("metering.enabled_providers", d.Providers)
	v.SetDefault("metering.billing.driver", d.Billing.Driver)
	v.SetDefault("metering.billing.overage_behavior", string(d.Billing.OverageBehavior))
	v.SetDefault("metering.billing.overage_sync_strategy", string(d.Billing.OverageSyncStrategy))
	v.SetDefault("metering.billing.credit_overdraft_allowed", d.Billing.CreditOverdraftAllowed)
	v.SetDefault("metering.billing.currency", d.Billing.Currency)
	v.SetDefault("metering.billing.payment_failure_grace_period_days", d.Billing.PaymentFailureGracePeriodDays)
	v.SetDefault("metering.period.type", string(d.Period.Type))
	v.SetDefault("metering.period.alignment", string(d.Period.Alignment))
	v.SetDefault("metering.period.timezone", d.Period.Timezone)
	v.SetDefault("metering.storage.prune_after_days", d.Storage.PruneAfterDays)
	v.SetDefault("metering.storage.deletion_policy", string(d.Storage.DeletionPolicy))
	v.SetDefault("metering.performance.cache_limit_checks", d.Performance.CacheLimitChecks)
	v.SetDefault("metering.performance.cache_ttl", d.Performance.CacheTTL)
	v.SetDefault("metering.performance.queue_usage_recording", d.Performance.QueueUsageRecording)
	v.SetDefault("metering.performance.batch_size", d.Performance.BatchSize)
	v.SetDefault("metering.security.validate_feature_names", d.Security.ValidateFeatureNames)
	v.SetDefault("metering.security.sanitize_metadata", d.Security.SanitizeMetadata)
	v.SetDefault("metering.security.prevent_race_conditions", d.Security.PreventRaceConditions)
	v.SetDefault("metering.security.lock_ttl", d.Security.LockTTL)
	v.SetDefault("metering.logging.enabled", d.Logging.Enabled)
	v.SetDefault("metering.logging.level", d.Logging.Level)
	v.SetDefault("metering.logging.log_failures", d.Logging.LogFailures)
}

func loadMetering(v *viper.Viper) (MeteringConfig, error) {
	pricing, err := parsePricing(v.GetStringMap("metering.providers"))
	if err != nil {
		return MeteringConfig{}, err
	}
	rates, err := parseRates(v.GetStringMap("metering.billing.currency_rates"))
	if err != nil {
		return MeteringConfig{}, err
	}

	return MeteringConfig{
		DefaultProvider: v.GetString("metering.default_provider"),
		Providers:       v.GetStringSlice("metering.enabled_providers"),
		Pricing:         pricing,

		Driver:                        v.GetString("metering.billing.driver"),
		OverageBehavior:               v.GetString("metering.billing.overage_behavior"),
		OverageSyncStrategy:           v.GetString("metering.billing.overage_sync_strategy"),
		CreditOverdraftAllowed:        v.GetBool("metering.billing.credit_overdraft_allowed"),
		Currency:                      v.GetString("metering.billing.currency"),
		PaymentFailureGracePeriodDays: v.GetInt("metering.billing.payment_failure_grace_period_days"),
		CurrencyRates:                 rates,

		PeriodType:      v.GetString("metering.period.type"),
		PeriodAlignment: v.GetString("metering.period.alignment"),
		Timezone:        v.GetString("metering.period.timezone"),

		PruneAfterDays: v.GetInt("metering.storage.prune_after_days"),
		DeletionPolicy: v.GetString("metering.storage.deletion_policy"),

		CacheLimitChecks:    v.GetBool("metering.performance.cache_limit_checks"),
		CacheTTL:            v.GetDuration("metering.performance.cache_ttl"),
		QueueUsageRecording: v.GetBool("metering.performance.queue_usage_recording"),
		BatchSize:           v.GetInt("metering.performance.batch_size"),

		ValidateFeatureNames:  v.GetBool("metering.security.validate_feature_names"),
		SanitizeMetadata:      v.GetBool("metering.security.sanitize_metadata"),
		PreventRaceConditions: v.GetBool("metering.security.prevent_race_conditions"),
		LockTTL:               v.GetDuration("metering.security.lock_ttl"),

		LoggingEnabled: v.GetBool("metering.logging.enabled"),
		LoggingLevel:   v.GetString("metering.logging.level"),
		LogFailures:    v.GetBool("metering.logging.log_failures"),
	}, nil
}

// parsePricing reads providers.<name>.models.<model>.{input,output}_price_per_1k
func parsePricing(providers map[string]any) (metering.PricingTable, error) {
	table := metering.PricingTable{}
	for provider, raw := range providers {
		section := cast.ToStringMap(raw)
		models := cast.ToStringMap(section["models"])
		if len(models) == 0 {
			continue
		}
		table[provider] = make(map[string]metering.ModelPrice, len(models))
		for model, rawPrice := range models {
			prices := cast.ToStringMap(rawPrice)
			input, err := toDecimal(prices["input_price_per_1k"])
			if err != nil {
				return nil, fmt.Errorf("metering.providers.%s.models.%s.input_price_per_1k: %w", provider, model, err)
			}
			output, err := toDecimal(prices["output_price_per_1k"])
			if err != nil {
				return nil, fmt.Errorf("metering.providers.%s.models.%s.output_price_per_1k: %w", provider, model, err)
			}
			table[provider][model] = metering.ModelPrice{InputPricePer1K: input, OutputPricePer1K: output}
		}
	}
	return table, nil
}

// parseRates reads currency_rates entries keyed "from_to", e.g. eur_usd = 1.08
func parseRates(raw map[string]any) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal, len(raw))
	for key, value := range raw {
		rate, err := toDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("metering.billing.currency_rates.%s: %w", key, err)
		}
		rates[strings.ToLower(key)] = rate
	}
	return rates, nil
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	default:
		i, err := cast.ToInt64E(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %v", value)
		}
		return decimal.NewFromInt(i), nil
	}
}

// Settings converts the metering section into the validated snapshot
func (m MeteringConfig) Settings() (appmetering.Settings, error) {
	providers := append([]string(nil), m.Providers...)
	sort.Strings(providers)

	settings := appmetering.Settings{
		DefaultProvider: m.DefaultProvider,
		Providers:       providers,
		Pricing:         m.Pricing,
		Billing: appmetering.BillingSettings{
			Driver:                        m.Driver,
			OverageBehavior:               appmetering.OverageBehavior(m.OverageBehavior),
			OverageSyncStrategy:           appmetering.SyncStrategy(m.OverageSyncStrategy),
			CreditOverdraftAllowed:        m.CreditOverdraftAllowed,
			Currency:                      strings.ToLower(m.Currency),
			PaymentFailureGracePeriodDays: m.PaymentFailureGracePeriodDays,
			CurrencyRates:                 m.CurrencyRates,
		},
		Period: appmetering.PeriodSettings{
			Type:      metering.CycleType(m.PeriodType),
			Alignment: metering.Alignment(m.PeriodAlignment),
			Timezone:  m.Timezone,
		},
		Storage: appmetering.StorageSettings{
			PruneAfterDays: m.PruneAfterDays,
			DeletionPolicy: metering.DeletionPolicy(m.DeletionPolicy),
		},
		Performance: appmetering.PerformanceSettings{
			CacheLimitChecks:    m.CacheLimitChecks,
			CacheTTL:            m.CacheTTL,
			QueueUsageRecording: m.QueueUsageRecording,
			BatchSize:           m.BatchSize,
		},
		Security: appmetering.SecuritySettings{
			ValidateFeatureNames:  m.ValidateFeatureNames,
			SanitizeMetadata:      m.SanitizeMetadata,
			PreventRaceConditions: m.PreventRaceConditions,
			LockTTL:               m.LockTTL,
		},
		Logging: appmetering.LoggingSettings{
			Enabled:     m.LoggingEnabled,
			Level:       m.LoggingLevel,
			LogFailures: m.LogFailures,
		},
	}
	if settings.Pricing == nil {
		settings.Pricing = metering.PricingTable{}
	}
	if settings.Billing.CurrencyRates == nil {
		settings.Billing.CurrencyRates = map[string]decimal.Decimal{}
	}

	if err := settings.Validate(); err != nil {
		return appmetering.Settings{}, err
	}
	return settings, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "aimeter"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "aimeter.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "aimeter"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20
	}
	if cfg.Scheduler.OverageSyncCron == "" {
		cfg.Scheduler.OverageSyncCron = "*/15 * * * *"
	}
	if cfg.Scheduler.OverageSyncLimit == 0 {
		cfg.Scheduler.OverageSyncLimit = appmetering.DefaultOverageSyncLimit
	}
	if cfg.Scheduler.RetentionCron == "" {
		cfg.Scheduler.RetentionCron = "0 3 * * *"
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 10 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "aimeter"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	if cfg.Stripe.DefaultCurrency == "" {
		cfg.Stripe.DefaultCurrency = cfg.Metering.Currency
	}
	if cfg.Stripe.ChargeDescription == "" {
		cfg.Stripe.ChargeDescription = billing.DefaultStripeConfig().ChargeDescription
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Metering.Driver == appmetering.DriverStripe {
		if err := c.Stripe.Validate(); err != nil {
			return fmt.Errorf("metering.billing.driver is stripe: %w", err)
		}
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if len(c.HTTP.APIKeys) == 0 {
			return fmt.Errorf("http.api_keys is required in production")
		}
		if c.Swagger.Enabled && !c.Swagger.RequireAuth && len(c.Swagger.AllowedIPs) == 0 {
			return fmt.Errorf("swagger endpoint must be disabled, require authentication, or have IP restriction in production")
		}
		if c.Metering.Driver == appmetering.DriverStripe && c.Stripe.IsTestMode {
			return fmt.Errorf("stripe.is_test_mode must be false in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
