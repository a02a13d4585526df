package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageRecordFilter defines filtering options for usage record queries
type UsageRecordFilter struct {
	Billable *BillableRef // Filter by billable entity
	From     *time.Time   // occurred_at >= From
	To       *time.Time   // occurred_at < To
	Provider string       // Filter by provider
	Feature  string       // Filter by feature tag
	Limit    int          // Maximum rows, 0 means no limit
}

// WithBillable sets the billable filter
func (f UsageRecordFilter) WithBillable(billable BillableRef) UsageRecordFilter {
	f.Billable = &billable
	return f
}

// WithPeriod restricts the filter to a billing period
func (f UsageRecordFilter) WithPeriod(period BillingPeriod) UsageRecordFilter {
	f.From = &period.Start
	f.To = &period.End
	return f
}

// UsageRecordRepository defines persistence for usage records
type UsageRecordRepository interface {
	// Create inserts a record. When a record with the same idempotency key
	// already exists, the stored record is returned and created is false.
	Create(ctx context.Context, record *UsageRecord) (stored *UsageRecord, created bool, err error)

	// CreateBatch inserts records in a single transaction, skipping
	// idempotency-key duplicates, and returns the number inserted
	CreateBatch(ctx context.Context, records []*UsageRecord) (int, error)

	// FindByIdempotencyKey retrieves a record by its deduplication key
	FindByIdempotencyKey(ctx context.Context, key string) (*UsageRecord, error)

	// SumForBillable totals usage for a billable within [start, end)
	SumForBillable(ctx context.Context, billable BillableRef, start, end time.Time) (UsageTotals, error)

	// Find lists records matching the filter, newest first
	Find(ctx context.Context, filter UsageRecordFilter) ([]*UsageRecord, error)

	// CountOlderThan counts records that occurred before the cutoff
	CountOlderThan(ctx context.Context, before time.Time) (int64, error)

	// DeleteOlderThan prunes records that occurred before the cutoff
	// using the repository's deletion policy
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)

	// CountWithoutBillable counts records not attributed to any billable
	CountWithoutBillable(ctx context.Context) (int64, error)
}

// PlanRepository defines persistence for plans
type PlanRepository interface {
	// Save creates or updates a plan
	Save(ctx context.Context, plan *Plan) error

	// FindByID retrieves a plan by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Plan, error)

	// FindBySlug retrieves a plan by its unique slug
	FindBySlug(ctx context.Context, slug string) (*Plan, error)

	// ListActive lists active plans ordered by name
	ListActive(ctx context.Context) ([]*Plan, error)
}

// SubscriptionRepository defines persistence for subscriptions
type SubscriptionRepository interface {
	// Save creates or updates a subscription
	Save(ctx context.Context, sub *Subscription) error

	// FindCurrent returns the most recently started subscription that is
	// active at now, with its plan loaded
	FindCurrent(ctx context.Context, billable BillableRef, now time.Time) (*Subscription, error)

	// FindByStripeSubscriptionID finds the subscription linked to a Stripe subscription
	FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)

	// FindByStripeCustomerID finds the latest subscription linked to a Stripe customer
	FindByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*Subscription, error)

	// CountWithoutPlan counts subscriptions in a billing mode that have no plan
	CountWithoutPlan(ctx context.Context, mode BillingMode) (int64, error)
}

// UsageLimitOverrideRepository defines persistence for limit overrides
type UsageLimitOverrideRepository interface {
	// Save creates or updates an override
	Save(ctx context.Context, override *UsageLimitOverride) error

	// FindCovering returns the newest override that fully spans the period
	FindCovering(ctx context.Context, billable BillableRef, period BillingPeriod) (*UsageLimitOverride, error)
}

// WalletMutation changes a locked wallet and returns the ledger entry to append
type WalletMutation func(wallet *CreditWallet) (*CreditTransaction, error)

// CreditWalletRepository defines persistence for wallets and their ledger
type CreditWalletRepository interface {
	// FindByBillable retrieves the wallet of a billable
	FindByBillable(ctx context.Context, billable BillableRef) (*CreditWallet, error)

	// Mutate runs fn against the row-locked wallet, creating it with the
	// given currency when missing. The updated balance and the returned
	// transaction are written in the same database transaction.
	Mutate(ctx context.Context, billable BillableRef, currency string, fn WalletMutation) (*CreditWallet, *CreditTransaction, error)

	// ListTransactions lists ledger entries of a wallet, newest first
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*CreditTransaction, error)
}

// OverageRepository defines persistence for plan-mode overages
type OverageRepository interface {
	// Create inserts an overage row
	Create(ctx context.Context, overage *Overage) error

	// AddToOpen increments the unsynced overage for the billable and
	// period, opening a new row when none is open
	AddToOpen(ctx context.Context, billable BillableRef, period BillingPeriod, tokens int64, cost decimal.Decimal, currency string) (*Overage, error)

	// FindUnsynced lists unsynced overages with non-zero cost, oldest first
	FindUnsynced(ctx context.Context, limit int) ([]*Overage, error)

	// MarkSynced closes an overage with the payment system's charge ID,
	// settling only the tokens and cost that were charged
	MarkSynced(ctx context.Context, charged *Overage, chargeID string, at time.Time) error
}
