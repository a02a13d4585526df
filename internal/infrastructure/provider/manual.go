package provider

import (
	"context"
	"sync"

	"github.com/aimeter/backend/internal/domain/metering"
)

// ManualClient reports usage supplied by the caller. It is used for
// providers the metering engine cannot parse, or for in-house models.
type ManualClient struct {
	mu    sync.Mutex
	model string
	usage *metering.ProviderUsage
}

// NewManualClient creates a manual client for model
func NewManualClient(model string, _ *metering.CostCalculator) *ManualClient {
	return &ManualClient{model: model}
}

// SetUsage presets the usage reported by the next Call
func (c *ManualClient) SetUsage(usage metering.ProviderUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := usage
	c.usage = &u
}

// Call runs op and reports the preset usage, or empty usage when none was set
func (c *ManualClient) Call(ctx context.Context, op metering.Operation) (metering.ProviderResult, error) {
	response, err := op(ctx)
	if err != nil {
		return metering.ProviderResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	usage := metering.ProviderUsage{Currency: metering.DefaultCurrency}
	if c.usage != nil {
		usage = *c.usage
		if usage.Currency == "" {
			usage.Currency = metering.DefaultCurrency
		}
	}
	return metering.ProviderResult{Response: response, Usage: usage}, nil
}
