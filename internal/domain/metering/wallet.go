package metering

import (
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionDirection is the sign of a ledger entry
type TransactionDirection string

const (
	DirectionCredit TransactionDirection = "credit"
	DirectionDebit  TransactionDirection = "debit"
)

// IsValid returns true if the direction is known
func (d TransactionDirection) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// String returns the string representation of TransactionDirection
func (d TransactionDirection) String() string {
	return string(d)
}

// Ledger reasons written by the metering engine
const (
	ReasonUsage  = "usage"
	ReasonRefund = "refund"
	ReasonTopUp  = "top_up"
)

// CreditWallet is the prepaid balance of one billable. The balance only
// changes together with an appended CreditTransaction.
type CreditWallet struct {
	shared.BaseEntity
	Billable BillableRef
	Balance  decimal.Decimal
	Currency string
	Meta     map[string]any
}

// CreditTransaction is an immutable ledger entry
type CreditTransaction struct {
	shared.BaseEntity
	WalletID   uuid.UUID
	Amount     decimal.Decimal
	Direction  TransactionDirection
	Reason     string
	Meta       map[string]any
	OccurredAt time.Time
}

// NewCreditWallet creates an empty wallet
func NewCreditWallet(billable BillableRef, currency string) (*CreditWallet, error) {
	if billable.IsZero() {
		return nil, shared.NewDomainError("INVALID_BILLABLE", "Wallet requires a billable entity")
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &CreditWallet{
		BaseEntity: shared.NewBaseEntity(),
		Billable:   billable,
		Balance:    decimal.Zero,
		Currency:   currency,
		Meta:       make(map[string]any),
	}, nil
}

// HasSufficientBalance reports whether amount can be debited without overdraft
func (w *CreditWallet) HasSufficientBalance(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// Credit adds amount to the balance and returns the ledger entry
func (w *CreditWallet) Credit(amount decimal.Decimal, reason string, meta map[string]any) (*CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	w.Balance = w.Balance.Add(amount)
	w.Touch()
	return w.newTransaction(amount, DirectionCredit, reason, meta), nil
}

// Debit subtracts amount from the balance and returns the ledger entry.
// Without overdraft a debit larger than the balance is rejected.
func (w *CreditWallet) Debit(amount decimal.Decimal, reason string, meta map[string]any, allowOverdraft bool) (*CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !allowOverdraft && !w.HasSufficientBalance(amount) {
		return nil, ErrInsufficientCredits
	}
	w.Balance = w.Balance.Sub(amount)
	w.Touch()
	return w.newTransaction(amount, DirectionDebit, reason, meta), nil
}

func (w *CreditWallet) newTransaction(amount decimal.Decimal, direction TransactionDirection, reason string, meta map[string]any) *CreditTransaction {
	if meta == nil {
		meta = make(map[string]any)
	}
	now := time.Now()
	return &CreditTransaction{
		BaseEntity: shared.NewBaseEntity(),
		WalletID:   w.ID,
		Amount:     amount,
		Direction:  direction,
		Reason:     reason,
		Meta:       meta,
		OccurredAt: now,
	}
}

// SignedAmount returns the amount as it affects the balance
func (t *CreditTransaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
