package provider

import (
	"context"

	"github.com/aimeter/backend/internal/domain/metering"
)

// AnthropicClient meters Anthropic messages responses. Anthropic reports
// input and output tokens only, so the total is derived.
type AnthropicClient struct {
	model string
	costs *metering.CostCalculator
}

// NewAnthropicClient creates an Anthropic client for model
func NewAnthropicClient(model string, costs *metering.CostCalculator) *AnthropicClient {
	return &AnthropicClient{model: model, costs: calculatorOrEmpty(costs)}
}

// Call runs op and extracts input and output token counts
func (c *AnthropicClient) Call(ctx context.Context, op metering.Operation) (metering.ProviderResult, error) {
	response, err := op(ctx)
	if err != nil {
		return metering.ProviderResult{}, err
	}
	return metering.ProviderResult{Response: response, Usage: c.ExtractUsage(response)}, nil
}

// ExtractUsage prices the usage reported in response
func (c *AnthropicClient) ExtractUsage(response any) metering.ProviderUsage {
	counts, _ := extractCounts(response)
	in, out := counts.input(), counts.output()

	var total *int64
	if in != nil || out != nil {
		total = metering.Int64Ptr(valueOrZero(in) + valueOrZero(out))
	}
	usage := metering.ProviderUsage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		Currency:     metering.DefaultCurrency,
	}
	return usage.WithCosts(c.costs.Calculate(Anthropic, c.model, in, out, nil))
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
