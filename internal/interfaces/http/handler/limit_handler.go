package handler

import (
	"context"
	"net/http"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/interfaces/http/dto"
	"github.com/aimeter/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// LimitService evaluates quotas and reads period usage
type LimitService interface {
	CheckLimit(ctx context.Context, billable metering.BillableRef, requestedTokens *int64, requestedCost *decimal.Decimal) (metering.LimitCheckResult, error)
	CurrentPeriod() metering.BillingPeriod
	UsageForPeriod(ctx context.Context, billable metering.BillableRef, period metering.BillingPeriod) (metering.UsageTotals, error)
}

// UsageReporter builds usage reports
type UsageReporter interface {
	Generate(ctx context.Context, billable *metering.BillableRef, which appmetering.ReportPeriod) (*appmetering.UsageReport, error)
}

// LimitHandler exposes quota status and usage reports of billables
type LimitHandler struct {
	BaseHandler
	limits  LimitService
	reports UsageReporter
}

// NewLimitHandler creates a new LimitHandler. reports may be nil, in
// which case the report endpoint answers 404.
func NewLimitHandler(limits LimitService, reports UsageReporter) *LimitHandler {
	return &LimitHandler{
		limits:  limits,
		reports: reports,
	}
}

// GetLimit returns the quota status of a billable in the current period
//
//	@Summary	Get quota status
//	@Tags		limits
//	@Produce	json
//	@Param		type	path		string	true	"Billable type"
//	@Param		id		path		string	true	"Billable ID"
//	@Success	200		{object}	dto.Response{data=dto.LimitStatusResponse}
//	@Router		/limits/{type}/{id} [get]
func (h *LimitHandler) GetLimit(c *gin.Context) {
	billable, ok := h.bindBillable(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	result, err := h.limits.CheckLimit(ctx, billable, nil, nil)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	period := h.limits.CurrentPeriod()
	totals, err := h.limits.UsageForPeriod(ctx, billable, period)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewLimitStatusResponse(billable, result, period, &totals))
}

// GetReport returns the usage report of a billable
//
//	@Summary	Get usage report
//	@Tags		limits
//	@Produce	json
//	@Param		type	path		string	true	"Billable type"
//	@Param		id		path		string	true	"Billable ID"
//	@Param		period	query		string	false	"current or previous"
//	@Success	200		{object}	dto.Response{data=appmetering.UsageReport}
//	@Router		/limits/{type}/{id}/report [get]
func (h *LimitHandler) GetReport(c *gin.Context) {
	if h.reports == nil {
		h.NotFound(c, "Usage reports are not enabled")
		return
	}
	billable, ok := h.bindBillable(c)
	if !ok {
		return
	}

	which := appmetering.ReportPeriod(c.DefaultQuery("period", string(appmetering.ReportPeriodCurrent)))
	if which != appmetering.ReportPeriodCurrent && which != appmetering.ReportPeriodPrevious {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, "period must be current or previous")
		return
	}

	report, err := h.reports.Generate(c.Request.Context(), &billable, which)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// CheckQuota answers 204 when the caller may proceed. It runs behind
// EnforceQuota, which has already rejected exhausted billables and set
// the X-Remaining-* headers, so gateways can use it as a forward-auth hook.
//
//	@Summary	Check caller quota
//	@Tags		limits
//	@Param		X-Billable-Type	header	string	false	"Billable type"
//	@Param		X-Billable-ID	header	string	false	"Billable ID"
//	@Success	204
//	@Failure	429	{object}	dto.Response
//	@Router		/quota [get]
func (h *LimitHandler) CheckQuota(c *gin.Context) {
	if _, ok := middleware.GetBillable(c); !ok {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeMissingBillable, "No billable entity could be resolved from the request")
		return
	}
	c.Status(http.StatusNoContent)
}
