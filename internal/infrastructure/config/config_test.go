package config

import (
	"os"
	"strings"
	"testing"
	"time"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackedEnv = []string{
	"AIMETER_APP_NAME",
	"AIMETER_APP_ENV",
	"AIMETER_APP_PORT",
	"AIMETER_DATABASE_DRIVER",
	"AIMETER_DATABASE_PATH",
	"AIMETER_DATABASE_HOST",
	"AIMETER_DATABASE_PORT",
	"AIMETER_DATABASE_PASSWORD",
	"AIMETER_DATABASE_SSLMODE",
	"AIMETER_DATABASE_MAX_OPEN_CONNS",
	"AIMETER_DATABASE_MAX_IDLE_CONNS",
	"AIMETER_REDIS_ENABLED",
	"AIMETER_HTTP_API_KEYS",
	"AIMETER_SWAGGER_ENABLED",
	"AIMETER_SWAGGER_REQUIRE_AUTH",
	"AIMETER_SWAGGER_ALLOWED_IPS",
	"AIMETER_STRIPE_SECRET_KEY",
	"AIMETER_STRIPE_IS_TEST_MODE",
	"AIMETER_METERING_BILLING_DRIVER",
	"AIMETER_METERING_BILLING_OVERAGE_BEHAVIOR",
	"AIMETER_METERING_STORAGE_DELETION_POLICY",
	"AIMETER_METERING_PERFORMANCE_CACHE_LIMIT_CHECKS",
}

// isolateEnv clears tracked variables and restores them when the test ends
func isolateEnv(t *testing.T) {
	t.Helper()
	saved := make(map[string]string, len(trackedEnv))
	for _, k := range trackedEnv {
		saved[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	})
}

func loadTOML(t *testing.T, content string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader(content)))
	return LoadFromViper(v)
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		isolateEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "aimeter", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "aimeter", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, "*/15 * * * *", cfg.Scheduler.OverageSyncCron)
		assert.Equal(t, "0 3 * * *", cfg.Scheduler.RetentionCron)
		assert.Equal(t, appmetering.DefaultOverageSyncLimit, cfg.Scheduler.OverageSyncLimit)

		assert.Equal(t, "openai", cfg.Metering.DefaultProvider)
		assert.Equal(t, appmetering.DriverNull, cfg.Metering.Driver)
		assert.Equal(t, "block", cfg.Metering.OverageBehavior)
		assert.Equal(t, "usd", cfg.Stripe.DefaultCurrency)
		assert.True(t, cfg.Metering.CacheLimitChecks)
		assert.Equal(t, 300*time.Second, cfg.Metering.CacheTTL)
	})

	t.Run("loads values from environment variables with AIMETER prefix", func(t *testing.T) {
		isolateEnv(t)
		os.Setenv("AIMETER_APP_NAME", "meter-test")
		os.Setenv("AIMETER_APP_PORT", "9000")
		os.Setenv("AIMETER_DATABASE_DRIVER", "sqlite")
		os.Setenv("AIMETER_DATABASE_PATH", "/tmp/meter.db")
		os.Setenv("AIMETER_REDIS_ENABLED", "true")
		os.Setenv("AIMETER_METERING_BILLING_OVERAGE_BEHAVIOR", "charge")
		os.Setenv("AIMETER_METERING_STORAGE_DELETION_POLICY", "tombstone")
		os.Setenv("AIMETER_METERING_PERFORMANCE_CACHE_LIMIT_CHECKS", "false")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "meter-test", cfg.App.Name)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, "/tmp/meter.db", cfg.Database.DSN())
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, "charge", cfg.Metering.OverageBehavior)
		assert.Equal(t, "tombstone", cfg.Metering.DeletionPolicy)
		assert.False(t, cfg.Metering.CacheLimitChecks)
	})

	t.Run("rejects unknown database driver", func(t *testing.T) {
		isolateEnv(t)
		os.Setenv("AIMETER_DATABASE_DRIVER", "mysql")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.driver")
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		isolateEnv(t)
		os.Setenv("AIMETER_DATABASE_MAX_OPEN_CONNS", "5")
		os.Setenv("AIMETER_DATABASE_MAX_IDLE_CONNS", "10")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle_conns")
	})

	t.Run("requires stripe credentials when stripe driver selected", func(t *testing.T) {
		isolateEnv(t)
		os.Setenv("AIMETER_METERING_BILLING_DRIVER", "stripe")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metering.billing.driver is stripe")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setupValid := func(t *testing.T) {
		isolateEnv(t)
		os.Setenv("AIMETER_APP_ENV", "production")
		os.Setenv("AIMETER_DATABASE_PASSWORD", "secret")
		os.Setenv("AIMETER_DATABASE_SSLMODE", "require")
		os.Setenv("AIMETER_HTTP_API_KEYS", "ops-key")
	}

	t.Run("passes validation with valid production config", func(t *testing.T) {
		setupValid(t)

		_, err := Load()
		require.NoError(t, err)
	})

	t.Run("requires database.password in production", func(t *testing.T) {
		setupValid(t)
		os.Unsetenv("AIMETER_DATABASE_PASSWORD")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.password")
	})

	t.Run("requires SSL enabled in production", func(t *testing.T) {
		setupValid(t)
		os.Setenv("AIMETER_DATABASE_SSLMODE", "disable")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sslmode")
	})

	t.Run("requires api keys in production", func(t *testing.T) {
		setupValid(t)
		os.Unsetenv("AIMETER_HTTP_API_KEYS")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http.api_keys")
	})

	t.Run("requires protected swagger in production", func(t *testing.T) {
		setupValid(t)
		os.Setenv("AIMETER_SWAGGER_REQUIRE_AUTH", "false")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "swagger")

		os.Setenv("AIMETER_SWAGGER_ALLOWED_IPS", "10.0.0.0/8")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Swagger.AllowedIPs)
	})

	t.Run("sqlite skips postgres production checks", func(t *testing.T) {
		setupValid(t)
		os.Unsetenv("AIMETER_DATABASE_PASSWORD")
		os.Setenv("AIMETER_DATABASE_DRIVER", "sqlite")

		_, err := Load()
		require.NoError(t, err)
	})

	t.Run("rejects stripe test mode in production", func(t *testing.T) {
		setupValid(t)
		os.Setenv("AIMETER_METERING_BILLING_DRIVER", "stripe")
		os.Setenv("AIMETER_STRIPE_SECRET_KEY", "sk_test_abc")
		os.Setenv("AIMETER_STRIPE_IS_TEST_MODE", "true")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is_test_mode")
	})
}

func TestMeteringConfig_Settings(t *testing.T) {
	t.Run("parses pricing table and currency rates", func(t *testing.T) {
		isolateEnv(t)
		cfg, err := loadTOML(t, `
[metering]
default_provider = "anthropic"
enabled_providers = ["openai", "anthropic"]

[metering.providers.openai.models.gpt-4]
input_price_per_1k = 0.03
output_price_per_1k = "0.06"

[metering.providers.anthropic.models.claude-3]
input_price_per_1k = 0.25
output_price_per_1k = 1

[metering.billing]
currency = "EUR"

[metering.billing.currency_rates]
usd_eur = 0.5
`)
		require.NoError(t, err)

		settings, err := cfg.Metering.Settings()
		require.NoError(t, err)

		assert.Equal(t, "anthropic", settings.DefaultProvider)
		assert.Equal(t, []string{"anthropic", "openai"}, settings.Providers)
		assert.Equal(t, "eur", settings.BillingCurrency())

		gpt := settings.Pricing["openai"]["gpt-4"]
		assert.True(t, gpt.InputPricePer1K.Equal(decimal.RequireFromString("0.03")))
		assert.True(t, gpt.OutputPricePer1K.Equal(decimal.RequireFromString("0.06")))
		claude := settings.Pricing["anthropic"]["claude-3"]
		assert.True(t, claude.InputPricePer1K.Equal(decimal.RequireFromString("0.25")))
		assert.True(t, claude.OutputPricePer1K.Equal(decimal.NewFromInt(1)))

		assert.True(t, settings.Billing.CurrencyRates["usd_eur"].Equal(decimal.RequireFromString("0.5")))
	})

	t.Run("defaults produce valid settings", func(t *testing.T) {
		isolateEnv(t)
		cfg, err := loadTOML(t, "")
		require.NoError(t, err)

		settings, err := cfg.Metering.Settings()
		require.NoError(t, err)

		assert.Equal(t, metering.CycleMonthly, settings.Period.Type)
		assert.Equal(t, metering.DeletionPolicyHard, settings.Storage.DeletionPolicy)
		assert.Equal(t, appmetering.SyncBatch, settings.Billing.OverageSyncStrategy)
		assert.Equal(t, 100, settings.Performance.BatchSize)
		assert.NotNil(t, settings.Pricing)
	})

	t.Run("rejects default provider outside enabled list", func(t *testing.T) {
		isolateEnv(t)
		cfg, err := loadTOML(t, `
[metering]
default_provider = "mistral"
`)
		require.NoError(t, err)

		_, err = cfg.Metering.Settings()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mistral")
	})

	t.Run("rejects invalid period type", func(t *testing.T) {
		isolateEnv(t)
		cfg, err := loadTOML(t, `
[metering.period]
type = "hourly"
`)
		require.NoError(t, err)

		_, err = cfg.Metering.Settings()
		require.Error(t, err)
	})

	t.Run("rejects malformed price", func(t *testing.T) {
		isolateEnv(t)
		v := viper.New()
		v.SetConfigType("toml")
		require.NoError(t, v.ReadConfig(strings.NewReader(`
[metering.providers.openai.models.gpt-4]
input_price_per_1k = "cheap"
`)))

		_, err := LoadFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input_price_per_1k")
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid postgres DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "p@ss word",
			DBName:   "aimeter",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.True(t, strings.HasPrefix(dsn, "postgres://postgres:"))
		assert.Contains(t, dsn, "localhost:5432/aimeter")
		assert.Contains(t, dsn, "sslmode=disable")
		assert.NotContains(t, dsn, "p@ss word")
	})

	t.Run("returns path for sqlite", func(t *testing.T) {
		cfg := DatabaseConfig{Driver: "sqlite", Path: "file::memory:?cache=shared"}
		assert.Equal(t, "file::memory:?cache=shared", cfg.DSN())
	})
}
