package metering

import (
	"context"
	"errors"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreditLedger moves money in and out of prepaid wallets. Every mutation
// runs against the row-locked wallet and appends one ledger entry.
type CreditLedger struct {
	wallets        metering.CreditWalletRepository
	converter      *CurrencyConverter
	events         shared.EventPublisher
	currency       string
	allowOverdraft bool
	logger         *zap.Logger
}

// NewCreditLedger creates a CreditLedger
func NewCreditLedger(
	wallets metering.CreditWalletRepository,
	converter *CurrencyConverter,
	events shared.EventPublisher,
	settings Settings,
	logger *zap.Logger,
) *CreditLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditLedger{
		wallets:        wallets,
		converter:      converter,
		events:         events,
		currency:       settings.BillingCurrency(),
		allowOverdraft: settings.Billing.CreditOverdraftAllowed,
		logger:         logger,
	}
}

// AddCredits credits the billable's wallet, creating it on first use.
// amount is expressed in currency and converted to the wallet currency.
func (l *CreditLedger) AddCredits(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal, currency, reason string, meta map[string]any) (*metering.CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, metering.ErrInvalidAmount
	}
	if reason == "" {
		reason = metering.ReasonTopUp
	}

	wallet, tx, err := l.wallets.Mutate(ctx, billable, l.currency, func(w *metering.CreditWallet) (*metering.CreditTransaction, error) {
		converted := l.converter.Convert(amount, currencyOr(currency, w.Currency), w.Currency)
		return w.Credit(converted, reason, meta)
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, metering.NewCreditsAddedEvent(wallet, tx))
	l.logger.Info("Credits added",
		zap.String("billable", billable.Key()),
		zap.String("amount", tx.Amount.String()),
		zap.String("currency", wallet.Currency),
		zap.String("balance", wallet.Balance.String()),
		zap.String("reason", reason))
	return tx, nil
}

// DeductCredits debits the billable's wallet. amount is expressed in
// currency and converted to the wallet currency under the row lock.
// Without overdraft an InsufficientCreditsError is returned when the
// balance does not cover the converted amount.
func (l *CreditLedger) DeductCredits(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal, currency, reason string, meta map[string]any) (*metering.CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, metering.ErrInvalidAmount
	}
	if reason == "" {
		reason = metering.ReasonUsage
	}

	var shortfall *metering.InsufficientCreditsError
	wallet, tx, err := l.wallets.Mutate(ctx, billable, l.currency, func(w *metering.CreditWallet) (*metering.CreditTransaction, error) {
		converted := l.converter.Convert(amount, currencyOr(currency, w.Currency), w.Currency)
		tx, err := w.Debit(converted, reason, meta, l.allowOverdraft)
		if errors.Is(err, metering.ErrInsufficientCredits) {
			shortfall = &metering.InsufficientCreditsError{
				Billable: billable,
				Required: converted.StringFixed(2),
				Balance:  w.Balance.StringFixed(2),
				Currency: w.Currency,
			}
			return nil, shortfall
		}
		return tx, err
	})
	if err != nil {
		if shortfall != nil {
			return nil, shortfall
		}
		return nil, err
	}

	l.publish(ctx, metering.NewCreditsDeductedEvent(wallet, tx))
	return tx, nil
}

// HasSufficientBalance reports whether the wallet covers amount, given in
// the wallet currency. A billable without a wallet has no balance.
func (l *CreditLedger) HasSufficientBalance(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal) (bool, error) {
	wallet, err := l.wallets.FindByBillable(ctx, billable)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return !amount.IsPositive(), nil
		}
		return false, err
	}
	return wallet.HasSufficientBalance(amount), nil
}

// Wallet returns the billable's wallet, or shared.ErrNotFound
func (l *CreditLedger) Wallet(ctx context.Context, billable metering.BillableRef) (*metering.CreditWallet, error) {
	return l.wallets.FindByBillable(ctx, billable)
}

// Transactions lists the newest ledger entries of the billable's wallet
func (l *CreditLedger) Transactions(ctx context.Context, billable metering.BillableRef, limit int) ([]*metering.CreditTransaction, error) {
	wallet, err := l.wallets.FindByBillable(ctx, billable)
	if err != nil {
		return nil, err
	}
	return l.wallets.ListTransactions(ctx, wallet.ID, limit)
}

func (l *CreditLedger) publish(ctx context.Context, event shared.DomainEvent) {
	if l.events == nil {
		return
	}
	if err := l.events.Publish(ctx, event); err != nil {
		l.logger.Warn("Failed to publish ledger event",
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	}
}

func currencyOr(currency, fallback string) string {
	if currency == "" {
		return fallback
	}
	return currency
}
