package middleware

import (
	"context"
	"net/http"
	"strconv"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/infrastructure/logger"
	"github.com/aimeter/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Response headers describing the remaining quota
const (
	HeaderRemainingTokens = "X-Remaining-Tokens"
	HeaderRemainingCost   = "X-Remaining-Cost"
	HeaderUsagePercentage = "X-Usage-Percentage"

	unlimitedHeaderValue = "unlimited"
	limitExceededMessage = "You have reached your AI usage limit for this period."
)

// LimitChecker evaluates the quota of a billable
type LimitChecker interface {
	CheckLimit(ctx context.Context, billable metering.BillableRef, requestedTokens *int64, requestedCost *decimal.Decimal) (metering.LimitCheckResult, error)
}

// QuotaConfig holds configuration for the quota enforcement middleware
type QuotaConfig struct {
	// OverageBehavior decides whether a reached hard limit rejects the request
	OverageBehavior appmetering.OverageBehavior
	// Resolver extracts the billable, ResolveBillableFromRequest when nil
	Resolver BillableResolver
	// FailOpen lets requests through when the quota cannot be evaluated
	FailOpen bool
	Logger   *zap.Logger
}

// EnforceQuota rejects requests whose billable has reached its hard limit
// while overage behavior is block, and reports the remaining quota in
// response headers otherwise. Requests without a billable pass through.
func EnforceQuota(checker LimitChecker, cfg QuotaConfig) gin.HandlerFunc {
	resolve := cfg.Resolver
	if resolve == nil {
		resolve = ResolveBillableFromRequest
	}
	baseLogger := cfg.Logger
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	behavior := cfg.OverageBehavior
	if behavior == "" {
		behavior = appmetering.OverageBlock
	}

	return func(c *gin.Context) {
		billable := resolve(c)
		if billable.IsZero() {
			c.Next()
			return
		}

		SetBillable(c, billable)
		ctx, _ := logger.WithBillable(c.Request.Context(), logger.FromContext(c.Request.Context()), billable)
		c.Request = c.Request.WithContext(ctx)

		result, err := checker.CheckLimit(c.Request.Context(), billable, nil, nil)
		if err != nil {
			baseLogger.Error("Quota check failed",
				zap.String("billable_type", billable.Type),
				zap.String("billable_id", billable.ID),
				zap.Error(err))
			if cfg.FailOpen {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeInternal, "Usage quota could not be evaluated", c.GetString("request_id")))
			return
		}

		if result.HardLimitReached && behavior == appmetering.OverageBlock {
			baseLogger.Info("Request blocked by usage limit",
				zap.String("billable_type", billable.Type),
				zap.String("billable_id", billable.ID),
				zap.Float64("usage_percentage", result.UsagePercentage))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeLimitExceeded, limitExceededMessage, c.GetString("request_id")).
					WithDetails(exceededDetails(result)))
			return
		}

		// Headers must be written before the handler flushes the body
		setQuotaHeaders(c, result)
		c.Next()
	}
}

// LimitExceededDetails is the body detail of a blocked request
type LimitExceededDetails struct {
	RemainingTokens int64   `json:"remaining_tokens"`
	RemainingCost   string  `json:"remaining_cost"`
	UsagePercentage float64 `json:"usage_percentage"`
}

func exceededDetails(result metering.LimitCheckResult) LimitExceededDetails {
	details := LimitExceededDetails{
		RemainingCost:   decimal.Zero.String(),
		UsagePercentage: result.UsagePercentage,
	}
	if result.RemainingTokens != nil {
		details.RemainingTokens = *result.RemainingTokens
	}
	if result.RemainingCost != nil {
		details.RemainingCost = result.RemainingCost.String()
	}
	return details
}

func setQuotaHeaders(c *gin.Context, result metering.LimitCheckResult) {
	tokens := unlimitedHeaderValue
	if result.RemainingTokens != nil {
		tokens = strconv.FormatInt(*result.RemainingTokens, 10)
	}
	cost := unlimitedHeaderValue
	if result.RemainingCost != nil {
		cost = result.RemainingCost.String()
	}
	c.Header(HeaderRemainingTokens, tokens)
	c.Header(HeaderRemainingCost, cost)
	c.Header(HeaderUsagePercentage, strconv.FormatFloat(roundPercentage(result.UsagePercentage), 'f', -1, 64))
}

func roundPercentage(p float64) float64 {
	v, _ := decimal.NewFromFloat(p).Round(2).Float64()
	return v
}
