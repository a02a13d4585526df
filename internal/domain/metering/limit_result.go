package metering

import "github.com/shopspring/decimal"

// ApproachingThreshold is the usage percentage at which a billable is
// reported as approaching its limit
const ApproachingThreshold = 80.0

// LimitCheckResult is the outcome of a quota check. Nil remaining figures
// mean the corresponding dimension is unlimited.
type LimitCheckResult struct {
	Allowed          bool             `json:"allowed"`
	Approaching      bool             `json:"approaching"`
	HardLimitReached bool             `json:"hard_limit_reached"`
	RemainingTokens  *int64           `json:"remaining_tokens"`
	RemainingCost    *decimal.Decimal `json:"remaining_cost"`
	UsagePercentage  float64          `json:"usage_percentage"`
}

// AllowedResult builds a passing result; approaching is derived from the
// usage percentage
func AllowedResult(remainingTokens *int64, remainingCost *decimal.Decimal, usagePercentage float64) LimitCheckResult {
	return LimitCheckResult{
		Allowed:          true,
		Approaching:      usagePercentage >= ApproachingThreshold,
		HardLimitReached: false,
		RemainingTokens:  remainingTokens,
		RemainingCost:    remainingCost,
		UsagePercentage:  usagePercentage,
	}
}

// LimitReachedResult builds a hard-limit result with nothing remaining
func LimitReachedResult() LimitCheckResult {
	zeroTokens := int64(0)
	zeroCost := decimal.Zero
	return LimitCheckResult{
		Allowed:          false,
		Approaching:      true,
		HardLimitReached: true,
		RemainingTokens:  &zeroTokens,
		RemainingCost:    &zeroCost,
		UsagePercentage:  100,
	}
}

// UnlimitedResult builds a result for billables without any ceiling
func UnlimitedResult() LimitCheckResult {
	return LimitCheckResult{Allowed: true}
}

// IsUnlimited reports whether neither dimension is limited
func (r LimitCheckResult) IsUnlimited() bool {
	return r.Allowed && r.RemainingTokens == nil && r.RemainingCost == nil
}

var hundred = decimal.NewFromInt(100)

// EvaluateLimits decides a quota check from the effective limits and the
// usage already recorded in the period. Token and cost ceilings are
// checked independently; breaching either one reaches the hard limit, and
// the reported percentage is the higher of the two.
func EvaluateLimits(tokenLimit *int64, costLimit *decimal.Decimal, used UsageTotals, requestedTokens *int64, requestedCost *decimal.Decimal) LimitCheckResult {
	if tokenLimit == nil && costLimit == nil {
		return UnlimitedResult()
	}

	var (
		percentage      float64
		remainingTokens *int64
		remainingCost   *decimal.Decimal
	)

	if tokenLimit != nil {
		limit := *tokenLimit
		remaining := limit - used.Tokens
		if remaining < 0 {
			remaining = 0
		}
		if requestedTokens != nil && used.Tokens+*requestedTokens > limit {
			return LimitReachedResult()
		}
		if remaining <= 0 {
			return LimitReachedResult()
		}
		if limit > 0 {
			percentage = float64(used.Tokens) * 100 / float64(limit)
		}
		remainingTokens = &remaining
	}

	if costLimit != nil {
		limit := *costLimit
		remaining := decimal.Max(limit.Sub(used.Cost), decimal.Zero)
		if requestedCost != nil && used.Cost.Add(*requestedCost).GreaterThan(limit) {
			return LimitReachedResult()
		}
		if !remaining.IsPositive() {
			return LimitReachedResult()
		}
		if limit.IsPositive() {
			costPercentage := used.Cost.Mul(hundred).Div(limit).InexactFloat64()
			if costPercentage > percentage {
				percentage = costPercentage
			}
		}
		remainingCost = &remaining
	}

	return AllowedResult(remainingTokens, remainingCost, percentage)
}
