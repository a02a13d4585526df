package metering

import (
	"context"
	"sync"
	"testing"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(settings Settings) (*CreditLedger, *memoryWalletRepository, *recordingPublisher) {
	wallets := newMemoryWalletRepository()
	events := &recordingPublisher{}
	ledger := NewCreditLedger(wallets, NewCurrencyConverter(settings, nil), events, settings, nil)
	return ledger, wallets, events
}

func TestCreditLedger_AddAndDeduct(t *testing.T) {
	ledger, _, events := newTestLedger(testSettings())
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, testBillable(), decimal.RequireFromString("100.00"), "usd", "", nil)
	require.NoError(t, err)

	tx, err := ledger.DeductCredits(ctx, testBillable(), decimal.RequireFromString("30.00"), "usd", "", nil)
	require.NoError(t, err)
	assert.Equal(t, metering.DirectionDebit, tx.Direction)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("30.00")))
	assert.Equal(t, metering.ReasonUsage, tx.Reason)

	wallet, err := ledger.Wallet(ctx, testBillable())
	require.NoError(t, err)
	assert.Equal(t, "70.00", wallet.Balance.StringFixed(2))

	history, err := ledger.Transactions(ctx, testBillable(), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, metering.DirectionDebit, history[0].Direction)

	assert.Equal(t, []string{metering.EventTypeCreditsAdded, metering.EventTypeCreditsDeducted}, events.types())
}

func TestCreditLedger_DeductInsufficient(t *testing.T) {
	ledger, _, events := newTestLedger(testSettings())
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, testBillable(), decimal.NewFromInt(5), "usd", "", nil)
	require.NoError(t, err)

	_, err = ledger.DeductCredits(ctx, testBillable(), decimal.NewFromInt(10), "usd", "", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, metering.ErrInsufficientCredits)
	var shortfall *metering.InsufficientCreditsError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, "10.00", shortfall.Required)
	assert.Equal(t, "5.00", shortfall.Balance)

	ok, err := ledger.HasSufficientBalance(ctx, testBillable(), decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, events.types(), 1)
}

func TestCreditLedger_DeductWithOverdraft(t *testing.T) {
	settings := testSettings()
	settings.Billing.CreditOverdraftAllowed = true
	ledger, _, _ := newTestLedger(settings)
	ctx := context.Background()

	_, err := ledger.DeductCredits(ctx, testBillable(), decimal.NewFromInt(3), "usd", "", nil)
	require.NoError(t, err)

	wallet, err := ledger.Wallet(ctx, testBillable())
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(-3)))
}

func TestCreditLedger_ConvertsToWalletCurrency(t *testing.T) {
	settings := testSettings()
	settings.Billing.Currency = "eur"
	settings.Billing.CurrencyRates = map[string]decimal.Decimal{
		"usd_eur": decimal.RequireFromString("0.5"),
	}
	ledger, _, _ := newTestLedger(settings)
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, testBillable(), decimal.NewFromInt(10), "eur", "", nil)
	require.NoError(t, err)
	tx, err := ledger.DeductCredits(ctx, testBillable(), decimal.NewFromInt(4), "usd", "", nil)
	require.NoError(t, err)

	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(2)))
	wallet, err := ledger.Wallet(ctx, testBillable())
	require.NoError(t, err)
	assert.Equal(t, "eur", wallet.Currency)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(8)))
}

func TestCreditLedger_RejectsNonPositiveAmounts(t *testing.T) {
	ledger, _, _ := newTestLedger(testSettings())
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, testBillable(), decimal.Zero, "usd", "", nil)
	assert.ErrorIs(t, err, metering.ErrInvalidAmount)
	_, err = ledger.DeductCredits(ctx, testBillable(), decimal.NewFromInt(-1), "usd", "", nil)
	assert.ErrorIs(t, err, metering.ErrInvalidAmount)
}

func TestCreditLedger_ConcurrentDeductionsLoseNothing(t *testing.T) {
	ledger, _, _ := newTestLedger(testSettings())
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, testBillable(), decimal.NewFromInt(1000), "usd", "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.DeductCredits(ctx, testBillable(), decimal.NewFromInt(3), "usd", "", nil)
		}()
	}
	wg.Wait()

	wallet, err := ledger.Wallet(ctx, testBillable())
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(850)))
}

func TestCreditLedger_HasSufficientBalance_NoWallet(t *testing.T) {
	ledger, _, _ := newTestLedger(testSettings())

	ok, err := ledger.HasSufficientBalance(context.Background(), testBillable(), decimal.NewFromInt(1))

	require.NoError(t, err)
	assert.False(t, ok)
}
