package dto

import (
	"net/http"

	"github.com/aimeter/backend/internal/domain/metering"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Input error codes
const (
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
	// ErrCodeMissingBillable is used when no billable entity can be resolved from the request
	ErrCodeMissingBillable = "ERR_MISSING_BILLABLE"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when the API key is missing or invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
)

// Resource error codes
const (
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
)

// Metering error codes. The limit and credit codes keep the values the
// metering engine reports so clients can match on them directly.
const (
	ErrCodeLimitExceeded       = metering.CodeLimitExceeded
	ErrCodeConcurrentRequests  = metering.CodeConcurrentRequests
	ErrCodeCreditsInsufficient = metering.CodeCreditsInsufficient
	ErrCodeInvalidAmount       = "ERR_INVALID_AMOUNT"
	ErrCodeUnknownProvider     = "ERR_UNKNOWN_PROVIDER"
	ErrCodePlanInactive        = "ERR_PLAN_INACTIVE"
	ErrCodeNoSubscription      = "ERR_NO_ACTIVE_SUBSCRIPTION"
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	// Input errors -> 400 Bad Request
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeMissingBillable: http.StatusBadRequest,
	ErrCodeInvalidAmount:   http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,

	// Quota and concurrency rejections -> 429 Too Many Requests
	ErrCodeLimitExceeded:      http.StatusTooManyRequests,
	ErrCodeConcurrentRequests: http.StatusTooManyRequests,

	ErrCodeCreditsInsufficient: http.StatusPaymentRequired,

	ErrCodeUnknownProvider: http.StatusUnprocessableEntity,
	ErrCodePlanInactive:    http.StatusUnprocessableEntity,
	ErrCodeNoSubscription:  http.StatusUnprocessableEntity,
	ErrCodeInvalidState:    http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":                  ErrCodeNotFound,
	"ALREADY_EXISTS":             ErrCodeAlreadyExists,
	"INVALID_INPUT":              ErrCodeInvalidInput,
	"INVALID_STATE":              ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT":       ErrCodeConcurrencyConflict,
	"INSUFFICIENT_BALANCE":       ErrCodeCreditsInsufficient,
	"INVALID_BILLABLE":           ErrCodeMissingBillable,
	"INVALID_AMOUNT":             ErrCodeInvalidAmount,
	"UNKNOWN_PROVIDER":           ErrCodeUnknownProvider,
	"PLAN_INACTIVE":              ErrCodePlanInactive,
	"NO_ACTIVE_SUBSCRIPTION":     ErrCodeNoSubscription,
	"CREDITS_MODE_REQUIRES_PLAN": ErrCodeInvalidState,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes that are already in the API format or unknown are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
