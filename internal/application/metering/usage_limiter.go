package metering

import (
	"context"
	"errors"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UsageLimiter decides whether a billable may consume more in the
// current period
type UsageLimiter struct {
	resolver  *PlanResolver
	usage     metering.UsageRecordRepository
	overrides metering.UsageLimitOverrideRepository
	cache     metering.UsageTotalsCache
	periods   *metering.PeriodCalculator
	useCache  bool
	ttl       time.Duration
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// UsageLimiterDeps contains the collaborators of UsageLimiter
type UsageLimiterDeps struct {
	Resolver  *PlanResolver
	Usage     metering.UsageRecordRepository
	Overrides metering.UsageLimitOverrideRepository
	Cache     metering.UsageTotalsCache
	Metrics   Metrics
	Logger    *zap.Logger
}

// NewUsageLimiter creates a UsageLimiter
func NewUsageLimiter(deps UsageLimiterDeps, settings Settings) (*UsageLimiter, error) {
	periods, err := settings.PeriodCalculator()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &UsageLimiter{
		resolver:  deps.Resolver,
		usage:     deps.Usage,
		overrides: deps.Overrides,
		cache:     deps.Cache,
		periods:   periods,
		useCache:  settings.Performance.CacheLimitChecks && deps.Cache != nil,
		ttl:       settings.Performance.CacheTTL,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// CurrentPeriod returns the accounting window containing now
func (l *UsageLimiter) CurrentPeriod() metering.BillingPeriod {
	return l.periods.Period(l.now())
}

// CheckLimit evaluates the billable's quota. requestedTokens and
// requestedCost, when known, are the consumption about to be added.
func (l *UsageLimiter) CheckLimit(ctx context.Context, billable metering.BillableRef, requestedTokens *int64, requestedCost *decimal.Decimal) (metering.LimitCheckResult, error) {
	started := time.Now()
	result, err := l.checkLimit(ctx, billable, requestedTokens, requestedCost)
	if err == nil {
		l.metrics.RecordLimitCheck(ctx, time.Since(started), result)
	}
	return result, err
}

func (l *UsageLimiter) checkLimit(ctx context.Context, billable metering.BillableRef, requestedTokens *int64, requestedCost *decimal.Decimal) (metering.LimitCheckResult, error) {
	if billable.IsZero() {
		return metering.UnlimitedResult(), nil
	}

	sub, err := l.resolver.ResolveSubscription(ctx, billable)
	if err != nil {
		return metering.LimitCheckResult{}, err
	}
	now := l.now()
	if sub == nil || !sub.IsActive(now) {
		return metering.UnlimitedResult(), nil
	}
	plan := sub.Plan
	if plan == nil || !plan.IsActive {
		return metering.UnlimitedResult(), nil
	}

	period := l.periods.Period(now)

	override, err := l.overrides.FindCovering(ctx, billable, period)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return metering.LimitCheckResult{}, err
	}

	tokenLimit, costLimit := metering.EffectiveLimits(plan, override)
	if tokenLimit == nil && costLimit == nil {
		return metering.UnlimitedResult(), nil
	}

	used, err := l.UsageForPeriod(ctx, billable, period)
	if err != nil {
		return metering.LimitCheckResult{}, err
	}

	return metering.EvaluateLimits(tokenLimit, costLimit, used, requestedTokens, requestedCost), nil
}

// UsageForPeriod returns the billable's usage totals within the period,
// served from cache when enabled
func (l *UsageLimiter) UsageForPeriod(ctx context.Context, billable metering.BillableRef, period metering.BillingPeriod) (metering.UsageTotals, error) {
	if l.useCache {
		cached, err := l.cache.GetTotals(ctx, billable, period)
		if err != nil {
			l.logger.Warn("Usage cache read failed",
				zap.String("billable", billable.Key()),
				zap.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}

	totals, err := l.usage.SumForBillable(ctx, billable, period.Start, period.End)
	if err != nil {
		return metering.UsageTotals{}, err
	}

	if l.useCache {
		if err := l.cache.SetTotals(ctx, billable, period, totals, l.ttl); err != nil {
			l.logger.Warn("Usage cache write failed",
				zap.String("billable", billable.Key()),
				zap.Error(err))
		}
	}
	return totals, nil
}

// ClearCache drops cached usage totals of the billable
func (l *UsageLimiter) ClearCache(ctx context.Context, billable metering.BillableRef) {
	if !l.useCache || billable.IsZero() {
		return
	}
	if err := l.cache.InvalidateTotals(ctx, billable); err != nil {
		l.logger.Warn("Usage cache invalidation failed",
			zap.String("billable", billable.Key()),
			zap.Error(err))
	}
}
