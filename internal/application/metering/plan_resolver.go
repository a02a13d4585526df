package metering

import (
	"context"
	"errors"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// PlanResolver looks up the current subscription and plan of a billable,
// caching the subscription for the configured TTL
type PlanResolver struct {
	subscriptions metering.SubscriptionRepository
	cache         metering.SubscriptionCache
	ttl           time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewPlanResolver creates a PlanResolver. A nil cache disables caching.
func NewPlanResolver(
	subscriptions metering.SubscriptionRepository,
	cache metering.SubscriptionCache,
	settings Settings,
	logger *zap.Logger,
) *PlanResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanResolver{
		subscriptions: subscriptions,
		cache:         cache,
		ttl:           settings.Performance.CacheTTL,
		logger:        logger,
		now:           time.Now,
	}
}

// ResolveSubscription returns the current subscription, or nil when the
// billable has none
func (r *PlanResolver) ResolveSubscription(ctx context.Context, billable metering.BillableRef) (*metering.Subscription, error) {
	if billable.IsZero() {
		return nil, nil
	}

	if r.cache != nil {
		cached, err := r.cache.GetSubscription(ctx, billable)
		if err != nil {
			r.logger.Warn("Subscription cache read failed",
				zap.String("billable", billable.Key()),
				zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	sub, err := r.subscriptions.FindCurrent(ctx, billable, r.now())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetSubscription(ctx, billable, sub, r.ttl); err != nil {
			r.logger.Warn("Subscription cache write failed",
				zap.String("billable", billable.Key()),
				zap.Error(err))
		}
	}
	return sub, nil
}

// ResolvePlan returns the plan of the active subscription, or nil
func (r *PlanResolver) ResolvePlan(ctx context.Context, billable metering.BillableRef) (*metering.Plan, error) {
	sub, err := r.ResolveSubscription(ctx, billable)
	if err != nil || sub == nil {
		return nil, err
	}
	if !sub.IsActive(r.now()) {
		return nil, nil
	}
	return sub.Plan, nil
}

// BillingMode returns the billing mode of the current subscription, or
// the empty mode when there is none
func (r *PlanResolver) BillingMode(ctx context.Context, billable metering.BillableRef) (metering.BillingMode, error) {
	sub, err := r.ResolveSubscription(ctx, billable)
	if err != nil || sub == nil {
		return "", err
	}
	return sub.BillingMode, nil
}

// ClearCache drops the cached subscription of the billable
func (r *PlanResolver) ClearCache(ctx context.Context, billable metering.BillableRef) {
	if r.cache == nil || billable.IsZero() {
		return
	}
	if err := r.cache.InvalidateSubscription(ctx, billable); err != nil {
		r.logger.Warn("Subscription cache invalidation failed",
			zap.String("billable", billable.Key()),
			zap.Error(err))
	}
}
