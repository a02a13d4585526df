package metering

import (
	"fmt"
	"strings"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// OverageBehavior decides what happens once a plan's hard limit is reached
type OverageBehavior string

const (
	// OverageBlock rejects calls beyond the limit
	OverageBlock OverageBehavior = "block"
	// OverageCharge lets calls through and bills the overage
	OverageCharge OverageBehavior = "charge"
	// OverageAllow lets calls through without billing
	OverageAllow OverageBehavior = "allow"
)

// SyncStrategy decides when plan-mode overage reaches the payment system
type SyncStrategy string

const (
	// SyncImmediate charges synchronously, falling back to batch on failure
	SyncImmediate SyncStrategy = "immediate"
	// SyncBatch accumulates overage rows for the sync job
	SyncBatch SyncStrategy = "batch"
)

// Billing driver names
const (
	DriverStripe = "stripe"
	DriverNull   = "null"
)

// Settings is the immutable metering configuration snapshot. It is built
// once at startup and passed by value; changing configuration means
// building a new snapshot.
type Settings struct {
	DefaultProvider string `validate:"required"`
	Providers       []string
	Pricing         metering.PricingTable
	Billing         BillingSettings
	Period          PeriodSettings
	Storage         StorageSettings
	Performance     PerformanceSettings
	Security        SecuritySettings
	Logging         LoggingSettings
}

// BillingSettings configures settlement
type BillingSettings struct {
	Driver                        string          `validate:"oneof=stripe null"`
	OverageBehavior               OverageBehavior `validate:"oneof=block charge allow"`
	OverageSyncStrategy           SyncStrategy    `validate:"oneof=immediate batch"`
	CreditOverdraftAllowed        bool
	Currency                      string `validate:"required,len=3"`
	PaymentFailureGracePeriodDays int    `validate:"gte=0"`
	CurrencyRates                 map[string]decimal.Decimal
}

// PeriodSettings configures the accounting window
type PeriodSettings struct {
	Type      metering.CycleType `validate:"oneof=daily weekly monthly yearly rolling"`
	Alignment metering.Alignment `validate:"oneof=calendar rolling"`
	Timezone  string
}

// StorageSettings configures retention
type StorageSettings struct {
	PruneAfterDays int                     `validate:"gt=0"`
	DeletionPolicy metering.DeletionPolicy `validate:"oneof=hard tombstone"`
}

// PerformanceSettings configures caching and async recording
type PerformanceSettings struct {
	CacheLimitChecks    bool
	CacheTTL            time.Duration `validate:"gt=0"`
	QueueUsageRecording bool
	BatchSize           int `validate:"gt=0"`
}

// SecuritySettings configures input hygiene and concurrency protection
type SecuritySettings struct {
	ValidateFeatureNames  bool
	SanitizeMetadata      bool
	PreventRaceConditions bool
	LockTTL               time.Duration `validate:"gt=0"`
}

// LoggingSettings gates metering log output
type LoggingSettings struct {
	Enabled     bool
	Level       string `validate:"oneof=debug info warn error"`
	LogFailures bool
}

// DefaultSettings returns the built-in defaults
func DefaultSettings() Settings {
	return Settings{
		DefaultProvider: "openai",
		Providers:       []string{"openai", "anthropic", "manual"},
		Pricing:         metering.PricingTable{},
		Billing: BillingSettings{
			Driver:                        DriverNull,
			OverageBehavior:               OverageBlock,
			OverageSyncStrategy:           SyncBatch,
			Currency:                      metering.DefaultCurrency,
			PaymentFailureGracePeriodDays: 7,
			CurrencyRates:                 map[string]decimal.Decimal{},
		},
		Period: PeriodSettings{
			Type:      metering.CycleMonthly,
			Alignment: metering.AlignmentCalendar,
			Timezone:  "UTC",
		},
		Storage: StorageSettings{
			PruneAfterDays: 365,
			DeletionPolicy: metering.DeletionPolicyHard,
		},
		Performance: PerformanceSettings{
			CacheLimitChecks: true,
			CacheTTL:         300 * time.Second,
			BatchSize:        100,
		},
		Security: SecuritySettings{
			ValidateFeatureNames:  true,
			SanitizeMetadata:      true,
			PreventRaceConditions: true,
			LockTTL:               10 * time.Second,
		},
		Logging: LoggingSettings{
			Enabled:     true,
			Level:       "info",
			LogFailures: true,
		},
	}
}

var settingsValidator = validator.New()

// Validate checks the snapshot for consistency
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid metering settings: %w", err)
	}
	if !s.HasProvider(s.DefaultProvider) {
		return fmt.Errorf("invalid metering settings: default provider %q is not configured", s.DefaultProvider)
	}
	if _, err := s.PeriodCalculator(); err != nil {
		return fmt.Errorf("invalid metering settings: %w", err)
	}
	for key, rate := range s.Billing.CurrencyRates {
		if !rate.IsPositive() {
			return fmt.Errorf("invalid metering settings: currency rate %q must be positive", key)
		}
	}
	return nil
}

// HasProvider reports whether a provider name is configured
func (s Settings) HasProvider(name string) bool {
	for _, p := range s.Providers {
		if p == name {
			return true
		}
	}
	return false
}

// PeriodCalculator builds the calculator for the configured period
func (s Settings) PeriodCalculator() (*metering.PeriodCalculator, error) {
	return metering.NewPeriodCalculator(s.Period.Type, s.Period.Alignment, s.Period.Timezone)
}

// BillingCurrency returns the lower-cased settlement currency
func (s Settings) BillingCurrency() string {
	return strings.ToLower(s.Billing.Currency)
}
