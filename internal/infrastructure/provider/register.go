package provider

import (
	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
)

// Register adds the built-in provider clients to registry
func Register(registry *appmetering.ProviderRegistry) {
	registry.Register(OpenAI, func(model string, costs *metering.CostCalculator) metering.ProviderClient {
		return NewOpenAIClient(model, costs)
	})
	registry.Register(Anthropic, func(model string, costs *metering.CostCalculator) metering.ProviderClient {
		return NewAnthropicClient(model, costs)
	})
	registry.Register(Manual, func(model string, costs *metering.CostCalculator) metering.ProviderClient {
		return NewManualClient(model, costs)
	})
}

func calculatorOrEmpty(costs *metering.CostCalculator) *metering.CostCalculator {
	if costs == nil {
		return metering.NewCostCalculator(nil)
	}
	return costs
}
