package handler

import (
	"context"
	"net/http"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// UsageMeter runs a call through quota enforcement, recording and billing
type UsageMeter interface {
	Call(ctx context.Context, opts appmetering.CallOptions, op metering.Operation) (*appmetering.MeteredResponse, error)
}

// UsageHandler records AI calls that were made outside this service
type UsageHandler struct {
	BaseHandler
	meter           UsageMeter
	defaultProvider string
}

// NewUsageHandler creates a new UsageHandler. Reports that do not name a
// provider are metered as defaultProvider.
func NewUsageHandler(meter UsageMeter, defaultProvider string) *UsageHandler {
	return &UsageHandler{
		meter:           meter,
		defaultProvider: defaultProvider,
	}
}

// RecordUsage meters a reported call. The reported figures are checked
// against the quota first, so a billable over its hard limit is rejected
// with 429 and nothing is recorded.
//
//	@Summary	Record usage
//	@Tags		usage
//	@Accept		json
//	@Produce	json
//	@Param		type	path		string					true	"Billable type"
//	@Param		id		path		string					true	"Billable ID"
//	@Param		request	body		dto.RecordUsageRequest	true	"Reported usage"
//	@Success	201		{object}	dto.Response{data=dto.UsageRecordedResponse}
//	@Failure	402		{object}	dto.Response
//	@Failure	429		{object}	dto.Response
//	@Router		/usage/{type}/{id} [post]
func (h *UsageHandler) RecordUsage(c *gin.Context) {
	billable, ok := h.bindBillable(c)
	if !ok {
		return
	}
	var req dto.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		return
	}
	usage, err := req.ProviderUsage()
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidAmount, "Cost must be a non-negative decimal")
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = h.defaultProvider
	}

	result, err := h.meter.Call(c.Request.Context(), appmetering.CallOptions{
		Billable:       billable,
		Provider:       provider,
		Model:          req.Model,
		Feature:        req.Feature,
		Meta:           req.Meta,
		IdempotencyKey: req.IdempotencyKey,
		ManualUsage:    &usage,
	}, func(context.Context) (any, error) {
		return nil, nil
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.NewUsageRecordedResponse(result.Usage, result.Limit, result.Record))
}
