package metering

import (
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// UsageLimitOverride replaces plan limits for one billable over a window.
// Token and cost limits are chosen independently: a nil field falls back
// to the plan's value.
type UsageLimitOverride struct {
	shared.BaseEntity
	Billable    BillableRef
	PeriodStart time.Time
	PeriodEnd   time.Time
	TokenLimit  *int64
	CostLimit   *decimal.Decimal
}

// NewUsageLimitOverride creates an override with validation
func NewUsageLimitOverride(billable BillableRef, start, end time.Time) (*UsageLimitOverride, error) {
	if billable.IsZero() {
		return nil, shared.NewDomainError("INVALID_BILLABLE", "Override requires a billable entity")
	}
	if !end.After(start) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Override period end must be after start")
	}
	return &UsageLimitOverride{
		BaseEntity:  shared.NewBaseEntity(),
		Billable:    billable,
		PeriodStart: start,
		PeriodEnd:   end,
	}, nil
}

// Covers reports whether the override fully spans the given window
func (o *UsageLimitOverride) Covers(period BillingPeriod) bool {
	return !o.PeriodStart.After(period.Start) && !o.PeriodEnd.Before(period.End)
}

// EffectiveLimits merges plan limits with an optional override
func EffectiveLimits(plan *Plan, override *UsageLimitOverride) (tokenLimit *int64, costLimit *decimal.Decimal) {
	if plan != nil {
		tokenLimit = plan.TokenLimit
		costLimit = plan.CostLimit
	}
	if override != nil {
		if override.TokenLimit != nil {
			tokenLimit = override.TokenLimit
		}
		if override.CostLimit != nil {
			costLimit = override.CostLimit
		}
	}
	return tokenLimit, costLimit
}
