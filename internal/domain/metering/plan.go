package metering

import (
	"strings"

	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Plan is a subscription tier with optional token and cost ceilings.
// A nil TokenLimit means unlimited tokens; independently, a nil CostLimit
// means unlimited cost. A nil OveragePricePer1K means the plan does not
// allow paid overage.
type Plan struct {
	shared.BaseEntity
	Name              string
	Slug              string
	TokenLimit        *int64
	CostLimit         *decimal.Decimal
	OveragePricePer1K *decimal.Decimal
	Features          map[string]any
	IsActive          bool
	TrialDays         int
}

// NewPlan creates an active plan with no limits
func NewPlan(name, slug string) (*Plan, error) {
	name = strings.TrimSpace(name)
	slug = strings.TrimSpace(slug)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_PLAN_NAME", "Plan name cannot be empty")
	}
	if slug == "" {
		return nil, shared.NewDomainError("INVALID_PLAN_SLUG", "Plan slug cannot be empty")
	}
	return &Plan{
		BaseEntity: shared.NewBaseEntity(),
		Name:       name,
		Slug:       slug,
		Features:   make(map[string]any),
		IsActive:   true,
	}, nil
}

// WithTokenLimit sets the per-period token ceiling
func (p *Plan) WithTokenLimit(limit int64) *Plan {
	p.TokenLimit = &limit
	return p
}

// WithCostLimit sets the per-period cost ceiling
func (p *Plan) WithCostLimit(limit decimal.Decimal) *Plan {
	p.CostLimit = &limit
	return p
}

// WithOveragePrice enables paid overage at the given price per 1K tokens
func (p *Plan) WithOveragePrice(pricePer1K decimal.Decimal) *Plan {
	p.OveragePricePer1K = &pricePer1K
	return p
}

// Deactivate marks the plan unusable
func (p *Plan) Deactivate() {
	p.IsActive = false
}

// HasUnlimitedTokens returns true if the plan has no token ceiling
func (p *Plan) HasUnlimitedTokens() bool {
	return p.TokenLimit == nil
}

// HasUnlimitedCost returns true if the plan has no cost ceiling
func (p *Plan) HasUnlimitedCost() bool {
	return p.CostLimit == nil
}

// AllowsOverage returns true if usage beyond the limits may be billed
func (p *Plan) AllowsOverage() bool {
	return p.OveragePricePer1K != nil
}
