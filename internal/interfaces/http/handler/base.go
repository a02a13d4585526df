// Package handler implements the HTTP endpoints of the metering API.
package handler

import (
	"errors"
	"net/http"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = "request_id"

// RequestIDHeader is the header that carries the request ID
const RequestIDHeader = "X-Request-ID"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDHeader)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError converts metering and domain errors to HTTP responses.
// Quota rejections carry the limit check result in the error details.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := getRequestID(c)

	var limitErr *metering.LimitExceededError
	if errors.As(err, &limitErr) {
		c.JSON(limitErr.HTTPStatusCode(),
			dto.NewErrorResponseWithRequestID(dto.ErrCodeLimitExceeded, err.Error(), requestID).WithDetails(limitErr.Result))
		return
	}

	var creditsErr *metering.InsufficientCreditsError
	if errors.As(err, &creditsErr) {
		c.JSON(creditsErr.HTTPStatusCode(),
			dto.NewErrorResponseWithRequestID(dto.ErrCodeCreditsInsufficient, metering.ErrInsufficientCredits.Message, requestID).
				WithDetails(gin.H{"required": creditsErr.Required, "balance": creditsErr.Balance, "currency": creditsErr.Currency}))
		return
	}

	// Check for domain error using errors.As for wrapped error support
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, domainErr.Message, requestID))
		return
	}

	h.InternalError(c, "An unexpected error occurred")
}

// bindBillable reads the billable from the :type and :id path parameters
func (h *BaseHandler) bindBillable(c *gin.Context) (metering.BillableRef, bool) {
	var req dto.BillableRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeMissingBillable, "Billable type and ID are required")
		return metering.BillableRef{}, false
	}
	billable, err := metering.NewBillableRef(req.Type, req.ID)
	if err != nil {
		h.HandleError(c, err)
		return metering.BillableRef{}, false
	}
	return billable, true
}

// parseAmount parses a positive decimal amount from a request body field
func (h *BaseHandler) parseAmount(c *gin.Context, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidAmount, "Amount must be a positive decimal")
		return decimal.Zero, false
	}
	return amount, true
}
