package metering

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/samber/lo"
)

// ProviderRegistry maps provider names to client constructors
type ProviderRegistry struct {
	mu           sync.RWMutex
	constructors map[string]metering.ProviderConstructor
	costs        *metering.CostCalculator
}

// NewProviderRegistry creates an empty registry pricing calls with costs
func NewProviderRegistry(costs *metering.CostCalculator) *ProviderRegistry {
	if costs == nil {
		costs = metering.NewCostCalculator(nil)
	}
	return &ProviderRegistry{
		constructors: make(map[string]metering.ProviderConstructor),
		costs:        costs,
	}
}

// Register adds or replaces a provider constructor
func (r *ProviderRegistry) Register(name string, constructor metering.ProviderConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = constructor
}

// Has reports whether a provider is registered
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[name]
	return ok
}

// Names returns the registered provider names in sorted order
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.constructors)
	sort.Strings(names)
	return names
}

// Resolve builds a client for the provider and model
func (r *ProviderRegistry) Resolve(name, model string) (metering.ProviderClient, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", metering.ErrUnknownProvider, name)
	}
	client := constructor(model, r.costs)
	if client == nil {
		return nil, fmt.Errorf("provider %s returned no client", name)
	}
	return client, nil
}

// Validate checks that every configured provider is registered and
// builds a client
func (r *ProviderRegistry) Validate(settings Settings) error {
	for _, name := range lo.Uniq(append([]string{settings.DefaultProvider}, settings.Providers...)) {
		if _, err := r.Resolve(name, "unknown"); err != nil {
			return fmt.Errorf("invalid provider configuration: %w", err)
		}
	}
	return nil
}
