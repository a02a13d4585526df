package metering

import "context"

// Operation performs the real provider call and returns its raw response
type Operation func(ctx context.Context) (any, error)

// ProviderResult pairs a raw provider response with the usage extracted from it
type ProviderResult struct {
	Response any
	Usage    ProviderUsage
}

// ProviderClient runs an operation and extracts usage from its response.
// Implementations must not fail because usage fields are missing; they
// report nil figures instead.
type ProviderClient interface {
	Call(ctx context.Context, op Operation) (ProviderResult, error)
}

// UsagePresetter is implemented by clients whose usage is supplied by the caller
type UsagePresetter interface {
	SetUsage(usage ProviderUsage)
}

// ProviderConstructor builds a client for one model
type ProviderConstructor func(model string, costs *CostCalculator) ProviderClient
