package provider

import (
	"context"

	"github.com/aimeter/backend/internal/domain/metering"
)

// OpenAIClient meters OpenAI chat and completion responses
type OpenAIClient struct {
	model string
	costs *metering.CostCalculator
}

// NewOpenAIClient creates an OpenAI client for model
func NewOpenAIClient(model string, costs *metering.CostCalculator) *OpenAIClient {
	return &OpenAIClient{model: model, costs: calculatorOrEmpty(costs)}
}

// Call runs op and extracts prompt, completion and total token counts.
// Errors from op are returned unchanged.
func (c *OpenAIClient) Call(ctx context.Context, op metering.Operation) (metering.ProviderResult, error) {
	response, err := op(ctx)
	if err != nil {
		return metering.ProviderResult{}, err
	}
	return metering.ProviderResult{Response: response, Usage: c.ExtractUsage(response)}, nil
}

// ExtractUsage prices the usage reported in response
func (c *OpenAIClient) ExtractUsage(response any) metering.ProviderUsage {
	counts, _ := extractCounts(response)
	in, out, total := counts.input(), counts.output(), counts.total()
	return pricedUsage(c.costs, OpenAI, c.model, in, out, total)
}
