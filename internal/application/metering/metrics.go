package metering

import (
	"context"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/shopspring/decimal"
)

// Metrics receives metering measurements. Implementations must be safe
// for concurrent use.
type Metrics interface {
	RecordUsage(ctx context.Context, provider, model string, tokens int64, cost decimal.Decimal)
	RecordLimitCheck(ctx context.Context, duration time.Duration, result metering.LimitCheckResult)
	RecordBillingFailure(ctx context.Context, mode metering.BillingMode)
	RecordOverageSync(ctx context.Context, synced, failed int)
	RecordProviderFailure(ctx context.Context, provider, model string)
}

type noopMetrics struct{}

func (noopMetrics) RecordUsage(context.Context, string, string, int64, decimal.Decimal)          {}
func (noopMetrics) RecordLimitCheck(context.Context, time.Duration, metering.LimitCheckResult) {}
func (noopMetrics) RecordBillingFailure(context.Context, metering.BillingMode)                 {}
func (noopMetrics) RecordOverageSync(context.Context, int, int)                                {}
func (noopMetrics) RecordProviderFailure(context.Context, string, string)                      {}

// NoopMetrics returns a Metrics that discards everything
func NoopMetrics() Metrics {
	return noopMetrics{}
}
