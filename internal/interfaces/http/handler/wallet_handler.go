package handler

import (
	"context"
	"net/http"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

// CreditService reads and credits prepaid wallets
type CreditService interface {
	Wallet(ctx context.Context, billable metering.BillableRef) (*metering.CreditWallet, error)
	Transactions(ctx context.Context, billable metering.BillableRef, limit int) ([]*metering.CreditTransaction, error)
	AddCredits(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal, currency, reason string, meta map[string]any) (*metering.CreditTransaction, error)
}

// RefundService returns money for previously billed usage
type RefundService interface {
	HandleRefund(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal, reason string) (*metering.CreditTransaction, error)
}

// WalletHandler exposes the prepaid credit wallets
type WalletHandler struct {
	BaseHandler
	credits CreditService
	refunds RefundService
}

// NewWalletHandler creates a new WalletHandler
func NewWalletHandler(credits CreditService, refunds RefundService) *WalletHandler {
	return &WalletHandler{
		credits: credits,
		refunds: refunds,
	}
}

// GetWallet returns the balance of a billable's wallet
//
//	@Summary	Get wallet balance
//	@Tags		wallets
//	@Produce	json
//	@Param		type	path		string	true	"Billable type"
//	@Param		id		path		string	true	"Billable ID"
//	@Success	200		{object}	dto.Response{data=dto.WalletResponse}
//	@Failure	404		{object}	dto.Response
//	@Router		/wallets/{type}/{id} [get]
func (h *WalletHandler) GetWallet(c *gin.Context) {
	billable, ok := h.bindBillable(c)
	if !ok {
		return
	}
	wallet, err := h.credits.Wallet(c.Request.Context(), billable)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewWalletResponse(wallet))
}

// ListTransactions returns the newest ledger entries of a wallet
//
//	@Summary	List wallet transactions
//	@Tags		wallets
//	@Produce	json
//	@Param		type	path		string	true	"Billable type"
//	@Param		id		path		string	true	"Billable ID"
//	@Param		limit	query		int		false	"Maximum entries (default 50, max 500)"
//	@Success	200		{object}	dto.Response{data=[]dto.TransactionResponse}
//	@Router		/wallets/{type}/{id}/transactions [get]
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	billable, ok := h.bindBillable(c)
	if !ok {
		return
	}

	limit := defaultTransactionLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := cast.ToIntE(raw)
		if err != nil || parsed < 1 {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxTransactionLimit)
	}

	txs, err := h.credits.Transactions(c.Request.Context(), billable, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := make([]dto.TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, dto.NewTransactionResponse(tx))
	}
	h.Success(c, resp)
}

// TopUp adds credits to a billable's wallet, creating it on first use
//
//	@Summary	Top up wallet
//	@Tags		wallets
//	@Accept		json
//	@Produce	json
//	@Param		type	path		string				true	"Billable type"
//	@Param		id		path		string				true	"Billable ID"
//	@Param		request	body		dto.TopUpRequest	true	"Top-up amount"
//	@Success	201		{object}	dto.Response{data=dto.TransactionResponse}
//	@Router		/wallets/{type}/{id}/top-up [post]
func (h *WalletHandler) TopUp(c *gin.Context) {
	billable, ok := h.bindBillable(c)
	if !ok {
		return
	}
	var req dto.TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		return
	}
	amount, ok := h.parseAmount(c, req.Amount)
	if !ok {
		return
	}

	tx, err := h.credits.AddCredits(c.Request.Context(), billable, amount, req.Currency, req.Reason, req.Meta)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.NewTransactionResponse(tx))
}

// Refund returns credits for a previously billed call. Billables that are
// not in credits mode are left untouched and the response says so.
//
//	@Summary	Refund credits
//	@Tags		wallets
//	@Accept		json
//	@Produce	json
//	@Param		type	path		string				true	"Billable type"
//	@Param		id		path		string				true	"Billable ID"
//	@Param		request	body		dto.RefundRequest	true	"Refund amount"
//	@Success	200		{object}	dto.Response{data=dto.RefundResponse}
//	@Router		/wallets/{type}/{id}/refund [post]
func (h *WalletHandler) Refund(c *gin.Context) {
	billable, ok := h.bindBillable(c)
	if !ok {
		return
	}
	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		return
	}
	amount, ok := h.parseAmount(c, req.Amount)
	if !ok {
		return
	}

	tx, err := h.refunds.HandleRefund(c.Request.Context(), billable, amount, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRefundResponse(tx))
}
