package metering

import (
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Overage accumulates plan-mode usage beyond the allowance for one
// billable and period. An open (unsynced) row is incremented until it is
// pushed to the payment system; after that a new row starts accumulating.
type Overage struct {
	shared.BaseEntity
	Billable         BillableRef
	SourceUsageID    *uuid.UUID
	PeriodStart      time.Time
	PeriodEnd        time.Time
	Tokens           int64
	Cost             decimal.Decimal
	Currency         string
	ExternalChargeID string
	SyncedAt         *time.Time
}

// NewOverage opens an overage row for a period
func NewOverage(billable BillableRef, period BillingPeriod, tokens int64, cost decimal.Decimal, currency string) (*Overage, error) {
	if billable.IsZero() {
		return nil, shared.NewDomainError("INVALID_BILLABLE", "Overage requires a billable entity")
	}
	if tokens < 0 || cost.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Overage{
		BaseEntity:  shared.NewBaseEntity(),
		Billable:    billable,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Tokens:      tokens,
		Cost:        cost,
		Currency:    currency,
	}, nil
}

// IsSynced reports whether the overage was pushed to the payment system
func (o *Overage) IsSynced() bool {
	return o.SyncedAt != nil
}

// Increment adds tokens and cost to an open overage
func (o *Overage) Increment(tokens int64, cost decimal.Decimal) error {
	if o.IsSynced() {
		return shared.NewDomainError("OVERAGE_CLOSED", "Synced overage cannot be incremented")
	}
	if tokens < 0 || cost.IsNegative() {
		return ErrInvalidAmount
	}
	o.Tokens += tokens
	o.Cost = o.Cost.Add(cost)
	o.UpdatedAt = time.Now()
	return nil
}

// MarkSynced closes the overage with the payment system's charge ID
func (o *Overage) MarkSynced(chargeID string, at time.Time) {
	o.ExternalChargeID = chargeID
	o.SyncedAt = &at
	o.UpdatedAt = at
}
