package telemetry

import (
	"context"
	"errors"
	"time"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics constructor receives no meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// MeteringMetrics records metering measurements as OpenTelemetry
// instruments. It implements the application Metrics port and counts
// published domain events.
type MeteringMetrics struct {
	usageTotal           *Counter
	tokensTotal          *Counter
	costTotal            *FloatCounter
	limitChecks          *Counter
	limitCheckDuration   *Histogram
	billingFailuresTotal *Counter
	overageSyncTotal     *Counter
	providerFailures     *Counter
	eventsTotal          *Counter
}

// NewMeteringMetrics registers the metering instruments on meter
func NewMeteringMetrics(meter metric.Meter) (*MeteringMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &MeteringMetrics{}
	var err error
	counters := []struct {
		dst         **Counter
		name        string
		description string
		unit        string
	}{
		{&m.usageTotal, "aimeter_usage_records_total", "Metered provider calls", "{calls}"},
		{&m.tokensTotal, "aimeter_tokens_total", "Tokens consumed by metered calls", "{tokens}"},
		{&m.limitChecks, "aimeter_limit_checks_total", "Quota checks performed", "{checks}"},
		{&m.billingFailuresTotal, "aimeter_billing_failures_total", "Billing attempts that failed after a call succeeded", "{failures}"},
		{&m.overageSyncTotal, "aimeter_overage_sync_total", "Overage records processed by the sync job", "{overages}"},
		{&m.providerFailures, "aimeter_provider_failures_total", "Provider calls that returned an error", "{calls}"},
		{&m.eventsTotal, "aimeter_events_total", "Metering domain events published", "{events}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(meter, c.name, c.description, c.unit); err != nil {
			return nil, err
		}
	}

	if m.costTotal, err = NewFloatCounter(meter, "aimeter_cost_total", "Cost of metered calls", "{currency}"); err != nil {
		return nil, err
	}
	m.limitCheckDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "aimeter_limit_check_duration_seconds",
		Description: "Latency of quota checks",
		Unit:        "s",
		Boundaries:  LimitCheckBuckets,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordUsage implements appmetering.Metrics
func (m *MeteringMetrics) RecordUsage(ctx context.Context, provider, model string, tokens int64, cost decimal.Decimal) {
	attrs := []attribute.KeyValue{AttrProvider.String(provider), AttrModel.String(model)}
	m.usageTotal.Inc(ctx, attrs...)
	if tokens > 0 {
		m.tokensTotal.Add(ctx, tokens, attrs...)
	}
	m.costTotal.Add(ctx, cost.InexactFloat64(), attrs...)
}

// RecordLimitCheck implements appmetering.Metrics
func (m *MeteringMetrics) RecordLimitCheck(ctx context.Context, duration time.Duration, result metering.LimitCheckResult) {
	attrs := []attribute.KeyValue{
		AttrAllowed.Bool(result.Allowed),
		AttrLimitReached.Bool(result.HardLimitReached),
	}
	m.limitChecks.Inc(ctx, attrs...)
	m.limitCheckDuration.RecordDuration(ctx, duration, attrs...)
}

// RecordBillingFailure implements appmetering.Metrics
func (m *MeteringMetrics) RecordBillingFailure(ctx context.Context, mode metering.BillingMode) {
	m.billingFailuresTotal.Inc(ctx, AttrBillingMode.String(string(mode)))
}

// RecordOverageSync implements appmetering.Metrics
func (m *MeteringMetrics) RecordOverageSync(ctx context.Context, synced, failed int) {
	if synced > 0 {
		m.overageSyncTotal.Add(ctx, int64(synced), AttrOutcome.String("synced"))
	}
	if failed > 0 {
		m.overageSyncTotal.Add(ctx, int64(failed), AttrOutcome.String("failed"))
	}
}

// RecordProviderFailure implements appmetering.Metrics
func (m *MeteringMetrics) RecordProviderFailure(ctx context.Context, provider, model string) {
	m.providerFailures.Inc(ctx, AttrProvider.String(provider), AttrModel.String(model))
}

// RecordEvent counts one published domain event
func (m *MeteringMetrics) RecordEvent(ctx context.Context, eventType string) {
	m.eventsTotal.Inc(ctx, AttrEventType.String(eventType))
}

var _ appmetering.Metrics = (*MeteringMetrics)(nil)
