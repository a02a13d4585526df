package metering

import (
	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// ModelPrice is the per-1K-token price of one model
type ModelPrice struct {
	InputPricePer1K  decimal.Decimal
	OutputPricePer1K decimal.Decimal
}

// PricingTable maps provider -> model -> price. It is built once from
// configuration and never mutated afterwards.
type PricingTable map[string]map[string]ModelPrice

// Lookup returns the price of a provider/model pair
func (t PricingTable) Lookup(provider, model string) (ModelPrice, bool) {
	models, ok := t[provider]
	if !ok {
		return ModelPrice{}, false
	}
	price, ok := models[model]
	return price, ok
}

// CostBreakdown is the priced result of a call
type CostBreakdown struct {
	InputCost  decimal.Decimal
	OutputCost decimal.Decimal
	TotalCost  decimal.Decimal
	// Priced is false when no price existed for the provider/model pair
	Priced bool
}

// CostCalculator prices token counts against a PricingTable
type CostCalculator struct {
	prices PricingTable
}

// NewCostCalculator creates a calculator over a pricing table
func NewCostCalculator(prices PricingTable) *CostCalculator {
	if prices == nil {
		prices = PricingTable{}
	}
	return &CostCalculator{prices: prices}
}

// Calculate prices a call.
//
// With both input and output counts each side is priced at its own rate.
// With only a total, the total is split evenly between input and output
// and each half is priced at its side's rate. That split is an
// approximation: providers that only report totals cannot be costed
// exactly. Unknown provider/model pairs cost zero. Costs never go
// below zero.
func (c *CostCalculator) Calculate(provider, model string, inputTokens, outputTokens, totalTokens *int64) CostBreakdown {
	price, ok := c.prices.Lookup(provider, model)
	if !ok {
		return CostBreakdown{InputCost: decimal.Zero, OutputCost: decimal.Zero, TotalCost: decimal.Zero}
	}

	var in, out decimal.Decimal
	switch {
	case inputTokens != nil && outputTokens != nil:
		in = decimal.NewFromInt(*inputTokens).Div(thousand).Mul(price.InputPricePer1K)
		out = decimal.NewFromInt(*outputTokens).Div(thousand).Mul(price.OutputPricePer1K)
	case totalTokens != nil:
		half := decimal.NewFromInt(*totalTokens).Div(decimal.NewFromInt(2)).Div(thousand)
		in = half.Mul(price.InputPricePer1K)
		out = half.Mul(price.OutputPricePer1K)
	default:
		return CostBreakdown{InputCost: decimal.Zero, OutputCost: decimal.Zero, TotalCost: decimal.Zero, Priced: true}
	}

	in = decimal.Max(in, decimal.Zero)
	out = decimal.Max(out, decimal.Zero)
	return CostBreakdown{
		InputCost:  in,
		OutputCost: out,
		TotalCost:  in.Add(out),
		Priced:     true,
	}
}

// HasPrice reports whether the provider/model pair is priced
func (c *CostCalculator) HasPrice(provider, model string) bool {
	_, ok := c.prices.Lookup(provider, model)
	return ok
}
