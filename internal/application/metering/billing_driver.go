package metering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoChargeCustomer is returned when an immediate charge has no
// payment-system customer to bill
var ErrNoChargeCustomer = errors.New("billing: subscription has no payment customer")

// ErrChargeSinkUnavailable is returned when no payment sink is configured
var ErrChargeSinkUnavailable = errors.New("billing: charge sink not configured")

// BillingDriver settles the cost of a recorded call
type BillingDriver interface {
	// HandleUsage settles one call. limit is the result of the pre-call
	// quota check and currency is the currency of cost.
	HandleUsage(ctx context.Context, billable metering.BillableRef, cost decimal.Decimal, tokens int64, limit metering.LimitCheckResult, currency string) error

	// HandleRefund returns amount to the billable. Only credits-mode
	// billables are refunded; for the others the transaction is nil.
	HandleRefund(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal, reason string) (*metering.CreditTransaction, error)
}

// NullBillingDriver records usage without settling it
type NullBillingDriver struct{}

// HandleUsage implements BillingDriver
func (NullBillingDriver) HandleUsage(context.Context, metering.BillableRef, decimal.Decimal, int64, metering.LimitCheckResult, string) error {
	return nil
}

// HandleRefund implements BillingDriver
func (NullBillingDriver) HandleRefund(context.Context, metering.BillableRef, decimal.Decimal, string) (*metering.CreditTransaction, error) {
	return nil, nil
}

// PlanBillingDriver settles credits-mode usage against the wallet and
// plan-mode overage against the payment system
type PlanBillingDriver struct {
	resolver  *PlanResolver
	ledger    *CreditLedger
	overages  metering.OverageRepository
	sink      metering.ChargeSink
	converter *CurrencyConverter
	periods   *metering.PeriodCalculator
	events    shared.EventPublisher
	behavior  OverageBehavior
	strategy  SyncStrategy
	currency  string
	logger    *zap.Logger
	now       func() time.Time
}

// PlanBillingDriverDeps contains the collaborators of PlanBillingDriver.
// Sink may be nil, in which case immediate charges fall back to batch.
type PlanBillingDriverDeps struct {
	Resolver  *PlanResolver
	Ledger    *CreditLedger
	Overages  metering.OverageRepository
	Sink      metering.ChargeSink
	Converter *CurrencyConverter
	Events    shared.EventPublisher
	Logger    *zap.Logger
}

// NewPlanBillingDriver creates a PlanBillingDriver
func NewPlanBillingDriver(deps PlanBillingDriverDeps, settings Settings) (*PlanBillingDriver, error) {
	periods, err := settings.PeriodCalculator()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanBillingDriver{
		resolver:  deps.Resolver,
		ledger:    deps.Ledger,
		overages:  deps.Overages,
		sink:      deps.Sink,
		converter: deps.Converter,
		periods:   periods,
		events:    deps.Events,
		behavior:  settings.Billing.OverageBehavior,
		strategy:  settings.Billing.OverageSyncStrategy,
		currency:  settings.BillingCurrency(),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// HandleUsage implements BillingDriver
func (d *PlanBillingDriver) HandleUsage(ctx context.Context, billable metering.BillableRef, cost decimal.Decimal, tokens int64, limit metering.LimitCheckResult, currency string) error {
	sub, err := d.resolver.ResolveSubscription(ctx, billable)
	if err != nil {
		return err
	}

	if sub != nil && sub.BillingMode == metering.BillingModeCredits {
		return d.deductCredits(ctx, billable, cost, tokens, currency)
	}
	return d.handleOverage(ctx, billable, sub, cost, tokens, limit, currency)
}

func (d *PlanBillingDriver) deductCredits(ctx context.Context, billable metering.BillableRef, cost decimal.Decimal, tokens int64, currency string) error {
	if !cost.IsPositive() {
		return nil
	}
	meta := map[string]any{
		"tokens":            tokens,
		"original_cost":     cost.String(),
		"original_currency": currency,
	}
	if _, err := d.ledger.DeductCredits(ctx, billable, cost, currency, metering.ReasonUsage, meta); err != nil {
		d.logger.Error("Failed to deduct credits",
			zap.String("billable", billable.Key()),
			zap.String("cost", cost.String()),
			zap.String("currency", currency),
			zap.Error(err))
		return err
	}
	return nil
}

func (d *PlanBillingDriver) handleOverage(ctx context.Context, billable metering.BillableRef, sub *metering.Subscription, cost decimal.Decimal, tokens int64, limit metering.LimitCheckResult, currency string) error {
	if !limit.HardLimitReached {
		return nil
	}
	if sub == nil || sub.Plan == nil || !sub.Plan.AllowsOverage() {
		return nil
	}
	if d.behavior != OverageCharge {
		return nil
	}

	overage := cost
	if limit.RemainingCost != nil && limit.RemainingCost.LessThan(cost) {
		overage = cost.Sub(*limit.RemainingCost)
	}
	if !overage.IsPositive() {
		return nil
	}
	amount := d.converter.Convert(overage, currency, d.currency)

	chargeID := ""
	if d.strategy == SyncImmediate {
		id, err := d.chargeImmediately(ctx, billable, sub, amount, tokens)
		if err != nil {
			d.logger.Warn("Immediate overage charge failed, storing for batch sync",
				zap.String("billable", billable.Key()),
				zap.String("amount", amount.String()),
				zap.Error(err))
		} else {
			chargeID = id
		}
	}

	if chargeID == "" {
		if _, err := d.overages.AddToOpen(ctx, billable, d.periods.Period(d.now()), tokens, amount, d.currency); err != nil {
			return fmt.Errorf("failed to store overage: %w", err)
		}
	}

	d.publish(ctx, metering.NewOverageChargedEvent(billable, amount, d.currency, tokens, chargeID))
	return nil
}

// chargeImmediately bills the overage and stores it as an already synced row
func (d *PlanBillingDriver) chargeImmediately(ctx context.Context, billable metering.BillableRef, sub *metering.Subscription, amount decimal.Decimal, tokens int64) (string, error) {
	if d.sink == nil {
		return "", ErrChargeSinkUnavailable
	}
	customerID := sub.StripeCustomerID()
	if customerID == "" {
		return "", ErrNoChargeCustomer
	}

	now := d.now()
	chargeID, err := d.sink.CreateCharge(ctx, metering.ChargeRequest{
		CustomerID:     customerID,
		AmountMinor:    ToMinorUnits(amount),
		Currency:       d.currency,
		Description:    fmt.Sprintf("AI Usage Overage - %d tokens", tokens),
		IdempotencyKey: OverageIdempotencyKey(billable, amount, tokens, now),
	})
	if err != nil {
		return "", err
	}

	row, err := metering.NewOverage(billable, d.periods.Period(now), tokens, amount, d.currency)
	if err != nil {
		return "", err
	}
	row.MarkSynced(chargeID, now)
	if err := d.overages.Create(ctx, row); err != nil {
		d.logger.Error("Failed to store charged overage",
			zap.String("billable", billable.Key()),
			zap.String("charge_id", chargeID),
			zap.Error(err))
	}
	return chargeID, nil
}

// HandleRefund implements BillingDriver
func (d *PlanBillingDriver) HandleRefund(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal, reason string) (*metering.CreditTransaction, error) {
	sub, err := d.resolver.ResolveSubscription(ctx, billable)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.BillingMode != metering.BillingModeCredits {
		return nil, nil
	}
	meta := map[string]any{}
	if reason != "" {
		meta["note"] = reason
	}
	return d.ledger.AddCredits(ctx, billable, amount, d.currency, metering.ReasonRefund, meta)
}

func (d *PlanBillingDriver) publish(ctx context.Context, event shared.DomainEvent) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(ctx, event); err != nil {
		d.logger.Warn("Failed to publish billing event",
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	}
}

// ToMinorUnits converts an amount to the currency's minor unit (cents)
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// OverageIdempotencyKey derives the charge key for an immediate overage.
// Retries of the same charge on the same day map to the same key.
func OverageIdempotencyKey(billable metering.BillableRef, amount decimal.Decimal, tokens int64, at time.Time) string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%s", billable.Type, billable.ID, amount.String(), tokens, at.UTC().Format("2006-01-02"))
	sum := sha256.Sum256([]byte(raw))
	return "ai-overage-" + hex.EncodeToString(sum[:])
}
