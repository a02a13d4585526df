package metering

import (
	"fmt"
	"net/http"

	"github.com/aimeter/backend/internal/domain/shared"
)

// Error codes surfaced by the metering engine
const (
	CodeLimitExceeded       = "AI_LIMIT_EXCEEDED"
	CodeConcurrentRequests  = "AI_CONCURRENT_REQUESTS"
	CodeCreditsInsufficient = "AI_CREDITS_INSUFFICIENT"
)

var (
	ErrLimitExceeded             = shared.NewDomainError(CodeLimitExceeded, "AI usage limit exceeded")
	ErrTooManyConcurrentRequests = shared.NewDomainError(CodeConcurrentRequests, "Too many concurrent requests. Please try again.")
	ErrInsufficientCredits       = shared.NewDomainError(CodeCreditsInsufficient, "Insufficient AI credits")
	ErrInvalidAmount             = shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	ErrUnknownProvider           = shared.NewDomainError("UNKNOWN_PROVIDER", "Provider is not registered")
	ErrCreditsModeRequiresPlan   = shared.NewDomainError("CREDITS_MODE_REQUIRES_PLAN", "Credits mode subscriptions must have a plan")
	ErrPlanInactive              = shared.NewDomainError("PLAN_INACTIVE", "Plan is not active")
	ErrNoActiveSubscription      = shared.NewDomainError("NO_ACTIVE_SUBSCRIPTION", "Billable has no active subscription")
)

// LimitExceededError is returned when a call is rejected by the quota.
// It carries the check result so callers can report what remains.
type LimitExceededError struct {
	Result LimitCheckResult
}

// NewLimitExceededError wraps a hard-limit result
func NewLimitExceededError(result LimitCheckResult) *LimitExceededError {
	return &LimitExceededError{Result: result}
}

// Error implements the error interface
func (e *LimitExceededError) Error() string {
	remaining := int64(0)
	if e.Result.RemainingTokens != nil {
		remaining = *e.Result.RemainingTokens
	}
	return fmt.Sprintf("AI usage limit exceeded. Remaining tokens: %d", remaining)
}

// Unwrap lets errors.Is match ErrLimitExceeded
func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// HTTPStatusCode returns the status an HTTP surface should answer with
func (e *LimitExceededError) HTTPStatusCode() int {
	return http.StatusTooManyRequests
}

// InsufficientCreditsError reports a failed prepaid debit
type InsufficientCreditsError struct {
	Billable BillableRef
	Required string
	Balance  string
	Currency string
}

// Error implements the error interface
func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient AI credits for %s: required %s %s, balance %s %s",
		e.Billable, e.Required, e.Currency, e.Balance, e.Currency)
}

// Unwrap lets errors.Is match ErrInsufficientCredits
func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// HTTPStatusCode returns the status an HTTP surface should answer with
func (e *InsufficientCreditsError) HTTPStatusCode() int {
	return http.StatusPaymentRequired
}
