package metering

import "github.com/shopspring/decimal"

// DefaultCurrency is used when a provider does not report one
const DefaultCurrency = "usd"

// ProviderUsage is the consumption reported for one provider call.
// Every figure is optional because providers may omit any of them.
type ProviderUsage struct {
	InputTokens  *int64           `json:"input_tokens,omitempty"`
	OutputTokens *int64           `json:"output_tokens,omitempty"`
	TotalTokens  *int64           `json:"total_tokens,omitempty"`
	InputCost    *decimal.Decimal `json:"input_cost,omitempty"`
	OutputCost   *decimal.Decimal `json:"output_cost,omitempty"`
	TotalCost    *decimal.Decimal `json:"total_cost,omitempty"`
	Currency     string           `json:"currency,omitempty"`
}

// Tokens returns the total token count, or 0 when unknown
func (u ProviderUsage) Tokens() int64 {
	if u.TotalTokens != nil {
		return *u.TotalTokens
	}
	return 0
}

// Cost returns the total cost, or zero when unknown
func (u ProviderUsage) Cost() decimal.Decimal {
	if u.TotalCost != nil {
		return *u.TotalCost
	}
	return decimal.Zero
}

// CurrencyOrDefault returns the reported currency or DefaultCurrency
func (u ProviderUsage) CurrencyOrDefault() string {
	if u.Currency == "" {
		return DefaultCurrency
	}
	return u.Currency
}

// HasCost reports whether a total cost was supplied
func (u ProviderUsage) HasCost() bool {
	return u.TotalCost != nil
}

// WithCosts returns a copy carrying the given cost breakdown
func (u ProviderUsage) WithCosts(costs CostBreakdown) ProviderUsage {
	in, out, total := costs.InputCost, costs.OutputCost, costs.TotalCost
	u.InputCost = &in
	u.OutputCost = &out
	u.TotalCost = &total
	if u.Currency == "" {
		u.Currency = DefaultCurrency
	}
	return u
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}

// DecimalPtr returns a pointer to v
func DecimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}
