package dto

import (
	"strings"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// LimitStatusResponse is the quota status of a billable in the current period
type LimitStatusResponse struct {
	BillableType     string          `json:"billable_type"`
	BillableID       string          `json:"billable_id"`
	Allowed          bool            `json:"allowed"`
	Approaching      bool            `json:"approaching"`
	HardLimitReached bool            `json:"hard_limit_reached"`
	RemainingTokens  *int64          `json:"remaining_tokens"`
	RemainingCost    *string         `json:"remaining_cost"`
	UsagePercentage  float64         `json:"usage_percentage"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	Usage            *UsageTotalsDTO `json:"usage,omitempty"`
}

// UsageTotalsDTO is aggregated usage with the cost as a decimal string
type UsageTotalsDTO struct {
	Calls  int64  `json:"calls"`
	Tokens int64  `json:"tokens"`
	Cost   string `json:"cost"`
}

// NewLimitStatusResponse builds the response from a limit check
func NewLimitStatusResponse(billable metering.BillableRef, result metering.LimitCheckResult, period metering.BillingPeriod, totals *metering.UsageTotals) LimitStatusResponse {
	resp := LimitStatusResponse{
		BillableType:     billable.Type,
		BillableID:       billable.ID,
		Allowed:          result.Allowed,
		Approaching:      result.Approaching,
		HardLimitReached: result.HardLimitReached,
		RemainingTokens:  result.RemainingTokens,
		UsagePercentage:  result.UsagePercentage,
		PeriodStart:      period.Start,
		PeriodEnd:        period.End,
	}
	if result.RemainingCost != nil {
		cost := result.RemainingCost.String()
		resp.RemainingCost = &cost
	}
	if totals != nil {
		resp.Usage = &UsageTotalsDTO{
			Calls:  totals.Calls,
			Tokens: totals.Tokens,
			Cost:   totals.Cost.String(),
		}
	}
	return resp
}

// WalletResponse is a prepaid credit wallet
type WalletResponse struct {
	ID           string    `json:"id"`
	BillableType string    `json:"billable_type"`
	BillableID   string    `json:"billable_id"`
	Balance      string    `json:"balance"`
	Currency     string    `json:"currency"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewWalletResponse converts a wallet
func NewWalletResponse(w *metering.CreditWallet) WalletResponse {
	return WalletResponse{
		ID:           w.ID.String(),
		BillableType: w.Billable.Type,
		BillableID:   w.Billable.ID,
		Balance:      w.Balance.String(),
		Currency:     w.Currency,
		UpdatedAt:    w.UpdatedAt,
	}
}

// TransactionResponse is one ledger entry
type TransactionResponse struct {
	ID         string         `json:"id"`
	WalletID   string         `json:"wallet_id"`
	Amount     string         `json:"amount"`
	Direction  string         `json:"direction"`
	Reason     string         `json:"reason"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewTransactionResponse converts a ledger entry
func NewTransactionResponse(tx *metering.CreditTransaction) TransactionResponse {
	return TransactionResponse{
		ID:         tx.ID.String(),
		WalletID:   tx.WalletID.String(),
		Amount:     tx.Amount.String(),
		Direction:  tx.Direction.String(),
		Reason:     tx.Reason,
		Meta:       tx.Meta,
		OccurredAt: tx.OccurredAt,
	}
}

// TopUpRequest adds credits to a wallet. Amount is a decimal string so no
// precision is lost in transit.
type TopUpRequest struct {
	Amount   string         `json:"amount" binding:"required,numeric"`
	Currency string         `json:"currency" binding:"omitempty,len=3,alpha"`
	Reason   string         `json:"reason" binding:"omitempty,max=64"`
	Meta     map[string]any `json:"meta"`
}

// RefundRequest returns credits for a previously billed call
type RefundRequest struct {
	Amount string `json:"amount" binding:"required,numeric"`
	Reason string `json:"reason" binding:"omitempty,max=255"`
}

// RefundResponse reports the outcome of a refund. Refunded is false when
// the billable is not in credits mode and nothing was credited.
type RefundResponse struct {
	Refunded    bool                 `json:"refunded"`
	Amount      string               `json:"amount"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// NewRefundResponse converts a refund outcome. A nil tx means nothing was refunded.
func NewRefundResponse(tx *metering.CreditTransaction) RefundResponse {
	if tx == nil {
		return RefundResponse{
			Refunded: false,
			Amount:   "0",
			Reason:   "billable is not in credits mode",
		}
	}
	resp := NewTransactionResponse(tx)
	return RefundResponse{Refunded: true, Amount: tx.Amount.String(), Transaction: &resp}
}

// RecordUsageRequest reports one AI call made outside the service. Token
// counts and cost feed the quota check before the usage is recorded.
type RecordUsageRequest struct {
	Provider       string         `json:"provider" binding:"omitempty,max=64"`
	Model          string         `json:"model" binding:"omitempty,max=128"`
	Feature        string         `json:"feature" binding:"omitempty,max=100"`
	InputTokens    *int64         `json:"input_tokens" binding:"omitempty,gte=0"`
	OutputTokens   *int64         `json:"output_tokens" binding:"omitempty,gte=0"`
	TotalTokens    *int64         `json:"total_tokens" binding:"omitempty,gte=0"`
	Cost           string         `json:"cost" binding:"omitempty,numeric"`
	Currency       string         `json:"currency" binding:"omitempty,len=3,alpha"`
	IdempotencyKey string         `json:"idempotency_key" binding:"omitempty,max=255"`
	Meta           map[string]any `json:"meta"`
}

// ProviderUsage converts the request into a usage report. A missing total
// is derived from the input and output counts.
func (r RecordUsageRequest) ProviderUsage() (metering.ProviderUsage, error) {
	usage := metering.ProviderUsage{
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		Currency:     strings.ToLower(r.Currency),
	}
	if usage.TotalTokens == nil && (r.InputTokens != nil || r.OutputTokens != nil) {
		total := lo.FromPtr(r.InputTokens) + lo.FromPtr(r.OutputTokens)
		usage.TotalTokens = &total
	}
	if r.Cost != "" {
		cost, err := decimal.NewFromString(r.Cost)
		if err != nil {
			return metering.ProviderUsage{}, err
		}
		if cost.IsNegative() {
			return metering.ProviderUsage{}, metering.ErrInvalidAmount
		}
		usage.TotalCost = &cost
	}
	return usage, nil
}

// UsageRecordedResponse is the outcome of a reported call
type UsageRecordedResponse struct {
	RecordID         *string `json:"record_id"`
	Queued           bool    `json:"queued"`
	Tokens           int64   `json:"tokens"`
	Cost             string  `json:"cost"`
	Currency         string  `json:"currency"`
	Approaching      bool    `json:"approaching"`
	HardLimitReached bool    `json:"hard_limit_reached"`
	RemainingTokens  *int64  `json:"remaining_tokens"`
	RemainingCost    *string `json:"remaining_cost"`
	UsagePercentage  float64 `json:"usage_percentage"`
}

// NewUsageRecordedResponse builds the response of a metered call. The
// remaining figures are those of the pre-call check.
func NewUsageRecordedResponse(usage metering.ProviderUsage, limit metering.LimitCheckResult, record *metering.UsageRecord) UsageRecordedResponse {
	resp := UsageRecordedResponse{
		Queued:           record == nil,
		Tokens:           usage.Tokens(),
		Cost:             usage.Cost().String(),
		Currency:         usage.CurrencyOrDefault(),
		Approaching:      limit.Approaching,
		HardLimitReached: limit.HardLimitReached,
		RemainingTokens:  limit.RemainingTokens,
		UsagePercentage:  limit.UsagePercentage,
	}
	if limit.RemainingCost != nil {
		resp.RemainingCost = lo.ToPtr(limit.RemainingCost.String())
	}
	if record != nil {
		resp.RecordID = lo.ToPtr(record.ID.String())
	}
	return resp
}
