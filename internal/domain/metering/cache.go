package metering

import (
	"context"
	"time"
)

// UsageTotalsCache caches per-period usage totals. It holds derived state
// only; every write path invalidates it explicitly.
type UsageTotalsCache interface {
	// GetTotals returns cached totals, or nil when absent
	GetTotals(ctx context.Context, billable BillableRef, period BillingPeriod) (*UsageTotals, error)

	// SetTotals caches totals for the period
	SetTotals(ctx context.Context, billable BillableRef, period BillingPeriod, totals UsageTotals, ttl time.Duration) error

	// InvalidateTotals drops every cached period of the billable
	InvalidateTotals(ctx context.Context, billable BillableRef) error
}

// SubscriptionCache caches the current subscription of a billable
type SubscriptionCache interface {
	// GetSubscription returns the cached subscription, or nil when absent
	GetSubscription(ctx context.Context, billable BillableRef) (*Subscription, error)

	// SetSubscription caches the subscription
	SetSubscription(ctx context.Context, billable BillableRef, sub *Subscription, ttl time.Duration) error

	// InvalidateSubscription drops the cached subscription
	InvalidateSubscription(ctx context.Context, billable BillableRef) error
}
