package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var team = metering.BillableRef{Type: "team", ID: "42"}

type mockLimitService struct {
	mock.Mock
}

func (m *mockLimitService) CheckLimit(ctx context.Context, billable metering.BillableRef, requestedTokens *int64, requestedCost *decimal.Decimal) (metering.LimitCheckResult, error) {
	args := m.Called(ctx, billable, requestedTokens, requestedCost)
	return args.Get(0).(metering.LimitCheckResult), args.Error(1)
}

func (m *mockLimitService) CurrentPeriod() metering.BillingPeriod {
	return m.Called().Get(0).(metering.BillingPeriod)
}

func (m *mockLimitService) UsageForPeriod(ctx context.Context, billable metering.BillableRef, period metering.BillingPeriod) (metering.UsageTotals, error) {
	args := m.Called(ctx, billable, period)
	return args.Get(0).(metering.UsageTotals), args.Error(1)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Generate(ctx context.Context, billable *metering.BillableRef, which appmetering.ReportPeriod) (*appmetering.UsageReport, error) {
	args := m.Called(ctx, billable, which)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appmetering.UsageReport), args.Error(1)
}

type mockCreditService struct {
	mock.Mock
}

func (m *mockCreditService) Wallet(ctx context.Context, billable metering.BillableRef) (*metering.CreditWallet, error) {
	args := m.Called(ctx, billable)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.CreditWallet), args.Error(1)
}

func (m *mockCreditService) Transactions(ctx context.Context, billable metering.BillableRef, limit int) ([]*metering.CreditTransaction, error) {
	args := m.Called(ctx, billable, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metering.CreditTransaction), args.Error(1)
}

func (m *mockCreditService) AddCredits(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal, currency, reason string, meta map[string]any) (*metering.CreditTransaction, error) {
	args := m.Called(ctx, billable, amount, currency, reason, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.CreditTransaction), args.Error(1)
}

type mockRefundService struct {
	mock.Mock
}

func (m *mockRefundService) HandleRefund(ctx context.Context, billable metering.BillableRef, amount decimal.Decimal, reason string) (*metering.CreditTransaction, error) {
	args := m.Called(ctx, billable, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.CreditTransaction), args.Error(1)
}

type mockWebhookProcessor struct {
	mock.Mock
}

func (m *mockWebhookProcessor) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*appmetering.WebhookResult, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appmetering.WebhookResult), args.Error(1)
}

// decimalEq matches decimals by value, ignoring exponent differences
func decimalEq(expected string) any {
	want := decimal.RequireFromString(expected)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

func perform(r *gin.Engine, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedErr  string
	}{
		{"limit exceeded", metering.NewLimitExceededError(metering.LimitReachedResult()), http.StatusTooManyRequests, dto.ErrCodeLimitExceeded},
		{"wrapped limit exceeded", errors.Join(errors.New("call failed"), metering.NewLimitExceededError(metering.LimitReachedResult())), http.StatusTooManyRequests, dto.ErrCodeLimitExceeded},
		{"concurrent requests", metering.ErrTooManyConcurrentRequests, http.StatusTooManyRequests, dto.ErrCodeConcurrentRequests},
		{"insufficient credits", &metering.InsufficientCreditsError{Billable: team, Required: "5", Balance: "1", Currency: "usd"}, http.StatusPaymentRequired, dto.ErrCodeCreditsInsufficient},
		{"not found", shared.ErrNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"invalid amount", metering.ErrInvalidAmount, http.StatusBadRequest, dto.ErrCodeInvalidAmount},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Set(RequestIDKey, "req-7")

			h := &BaseHandler{}
			h.HandleError(c, tt.err)

			assert.Equal(t, tt.expectedCode, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedErr, resp.Error.Code)
			assert.Equal(t, "req-7", resp.Error.RequestID)
		})
	}

	t.Run("nil error writes nothing", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		(&BaseHandler{}).HandleError(c, nil)
		assert.Equal(t, 0, w.Body.Len())
	})
}

func limitRouter(limits LimitService, reports UsageReporter) *gin.Engine {
	h := NewLimitHandler(limits, reports)
	r := gin.New()
	r.GET("/limits/:type/:id", h.GetLimit)
	r.GET("/limits/:type/:id/report", h.GetReport)
	return r
}

func TestLimitHandler_GetLimit(t *testing.T) {
	period := metering.BillingPeriod{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("returns status with period usage", func(t *testing.T) {
		limits := new(mockLimitService)
		remaining := int64(100)
		limits.On("CheckLimit", mock.Anything, team, (*int64)(nil), (*decimal.Decimal)(nil)).
			Return(metering.AllowedResult(&remaining, nil, 90), nil)
		limits.On("CurrentPeriod").Return(period)
		limits.On("UsageForPeriod", mock.Anything, team, period).
			Return(metering.UsageTotals{Calls: 4, Tokens: 900, Cost: decimal.RequireFromString("0.9")}, nil)

		w := perform(limitRouter(limits, nil), http.MethodGet, "/limits/team/42", "")

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data dto.LimitStatusResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.Data.Approaching)
		assert.Equal(t, int64(100), *body.Data.RemainingTokens)
		assert.Nil(t, body.Data.RemainingCost)
		assert.Equal(t, "0.9", body.Data.Usage.Cost)
		assert.True(t, period.Start.Equal(body.Data.PeriodStart))
		limits.AssertExpectations(t)
	})

	t.Run("propagates check failure", func(t *testing.T) {
		limits := new(mockLimitService)
		limits.On("CheckLimit", mock.Anything, team, mock.Anything, mock.Anything).
			Return(metering.LimitCheckResult{}, errors.New("db down"))

		w := perform(limitRouter(limits, nil), http.MethodGet, "/limits/team/42", "")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		limits.AssertNotCalled(t, "UsageForPeriod", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestLimitHandler_GetReport(t *testing.T) {
	t.Run("defaults to current period", func(t *testing.T) {
		reports := new(mockReporter)
		report := &appmetering.UsageReport{Totals: metering.UsageTotals{Calls: 2, Tokens: 10, Cost: decimal.NewFromInt(1)}}
		reports.On("Generate", mock.Anything, &team, appmetering.ReportPeriodCurrent).Return(report, nil)

		w := perform(limitRouter(new(mockLimitService), reports), http.MethodGet, "/limits/team/42/report", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"calls":2`)
		reports.AssertExpectations(t)
	})

	t.Run("previous period", func(t *testing.T) {
		reports := new(mockReporter)
		reports.On("Generate", mock.Anything, &team, appmetering.ReportPeriodPrevious).
			Return(&appmetering.UsageReport{}, nil)

		w := perform(limitRouter(new(mockLimitService), reports), http.MethodGet, "/limits/team/42/report?period=previous", "")

		assert.Equal(t, http.StatusOK, w.Code)
		reports.AssertExpectations(t)
	})

	t.Run("rejects unknown period", func(t *testing.T) {
		reports := new(mockReporter)
		w := perform(limitRouter(new(mockLimitService), reports), http.MethodGet, "/limits/team/42/report?period=lifetime", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		reports.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("disabled reports", func(t *testing.T) {
		w := perform(limitRouter(new(mockLimitService), nil), http.MethodGet, "/limits/team/42/report", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLimitHandler_CheckQuota(t *testing.T) {
	h := NewLimitHandler(new(mockLimitService), nil)

	t.Run("no billable", func(t *testing.T) {
		r := gin.New()
		r.GET("/quota", h.CheckQuota)
		w := perform(r, http.MethodGet, "/quota", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeMissingBillable)
	})

	t.Run("billable set by quota middleware", func(t *testing.T) {
		r := gin.New()
		r.GET("/quota", func(c *gin.Context) {
			c.Set("metering_billable", team)
			c.Next()
		}, h.CheckQuota)
		w := perform(r, http.MethodGet, "/quota", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func walletRouter(credits CreditService, refunds RefundService) *gin.Engine {
	h := NewWalletHandler(credits, refunds)
	r := gin.New()
	r.GET("/wallets/:type/:id", h.GetWallet)
	r.GET("/wallets/:type/:id/transactions", h.ListTransactions)
	r.POST("/wallets/:type/:id/top-up", h.TopUp)
	r.POST("/wallets/:type/:id/refund", h.Refund)
	return r
}

func TestWalletHandler_GetWallet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		credits := new(mockCreditService)
		wallet, err := metering.NewCreditWallet(team, "usd")
		require.NoError(t, err)
		wallet.Balance = decimal.RequireFromString("25.5")
		credits.On("Wallet", mock.Anything, team).Return(wallet, nil)

		w := perform(walletRouter(credits, nil), http.MethodGet, "/wallets/team/42", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"balance":"25.5"`)
	})

	t.Run("not found", func(t *testing.T) {
		credits := new(mockCreditService)
		credits.On("Wallet", mock.Anything, team).Return(nil, shared.ErrNotFound)

		w := perform(walletRouter(credits, nil), http.MethodGet, "/wallets/team/42", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestWalletHandler_ListTransactions(t *testing.T) {
	walletID := uuid.New()
	tx := &metering.CreditTransaction{WalletID: walletID, Amount: decimal.NewFromInt(3), Direction: metering.DirectionDebit, Reason: metering.ReasonUsage}
	tx.ID = uuid.New()

	tests := []struct {
		name     string
		query    string
		limit    int
		expected int
	}{
		{"default limit", "", defaultTransactionLimit, http.StatusOK},
		{"explicit limit", "?limit=5", 5, http.StatusOK},
		{"capped limit", "?limit=10000", maxTransactionLimit, http.StatusOK},
		{"invalid limit", "?limit=abc", 0, http.StatusBadRequest},
		{"zero limit", "?limit=0", 0, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			credits := new(mockCreditService)
			if tt.expected == http.StatusOK {
				credits.On("Transactions", mock.Anything, team, tt.limit).
					Return([]*metering.CreditTransaction{tx}, nil)
			}

			w := perform(walletRouter(credits, nil), http.MethodGet, "/wallets/team/42/transactions"+tt.query, "")

			assert.Equal(t, tt.expected, w.Code)
			if tt.expected == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"direction":"debit"`)
			}
			credits.AssertExpectations(t)
		})
	}
}

func TestWalletHandler_TopUp(t *testing.T) {
	t.Run("credits the wallet", func(t *testing.T) {
		credits := new(mockCreditService)
		tx := &metering.CreditTransaction{Amount: decimal.NewFromInt(10), Direction: metering.DirectionCredit, Reason: metering.ReasonTopUp}
		tx.ID = uuid.New()
		credits.On("AddCredits", mock.Anything, team, decimalEq("10.00"), "eur", "", map[string]any{"invoice": "in_1"}).
			Return(tx, nil)

		w := perform(walletRouter(credits, nil), http.MethodPost, "/wallets/team/42/top-up",
			`{"amount":"10.00","currency":"eur","meta":{"invoice":"in_1"}}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), `"direction":"credit"`)
		credits.AssertExpectations(t)
	})

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing amount", `{}`, dto.ErrCodeValidation},
		{"non numeric amount", `{"amount":"ten"}`, dto.ErrCodeValidation},
		{"negative amount", `{"amount":"-5"}`, dto.ErrCodeInvalidAmount},
		{"zero amount", `{"amount":"0"}`, dto.ErrCodeInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			credits := new(mockCreditService)
			w := perform(walletRouter(credits, nil), http.MethodPost, "/wallets/team/42/top-up", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decodeResponse(t, w).Error.Code)
			credits.AssertNotCalled(t, "AddCredits", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestWalletHandler_Refund(t *testing.T) {
	t.Run("refunds", func(t *testing.T) {
		refunds := new(mockRefundService)
		tx := &metering.CreditTransaction{
			BaseEntity: shared.NewBaseEntity(),
			Amount:     decimal.RequireFromString("2.5"),
			Direction:  metering.DirectionCredit,
			Reason:     metering.ReasonRefund,
		}
		refunds.On("HandleRefund", mock.Anything, team, decimalEq("2.5"), "failed completion").Return(tx, nil)

		w := perform(walletRouter(new(mockCreditService), refunds), http.MethodPost, "/wallets/team/42/refund",
			`{"amount":"2.5","reason":"failed completion"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"refunded":true`)
		assert.Contains(t, w.Body.String(), `"amount":"2.5"`)
		assert.Contains(t, w.Body.String(), tx.ID.String())
		refunds.AssertExpectations(t)
	})

	t.Run("reports when nothing was refunded", func(t *testing.T) {
		refunds := new(mockRefundService)
		refunds.On("HandleRefund", mock.Anything, team, decimalEq("2.5"), "").Return(nil, nil)

		w := perform(walletRouter(new(mockCreditService), refunds), http.MethodPost, "/wallets/team/42/refund", `{"amount":"2.5"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"refunded":false`)
		assert.Contains(t, w.Body.String(), `"amount":"0"`)
		assert.NotContains(t, w.Body.String(), `"transaction"`)
	})

	t.Run("surfaces ledger errors", func(t *testing.T) {
		refunds := new(mockRefundService)
		refunds.On("HandleRefund", mock.Anything, team, mock.Anything, mock.Anything).Return(nil, metering.ErrInvalidAmount)

		w := perform(walletRouter(new(mockCreditService), refunds), http.MethodPost, "/wallets/team/42/refund", `{"amount":"1"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStripeWebhookHandler(t *testing.T) {
	newRouter := func(p WebhookProcessor) *gin.Engine {
		r := gin.New()
		r.POST("/webhooks/stripe", NewStripeWebhookHandler(p).HandleStripeWebhook)
		return r
	}
	payload := `{"id":"evt_1","type":"invoice.payment_failed"}`

	t.Run("missing signature", func(t *testing.T) {
		p := new(mockWebhookProcessor)
		w := perform(newRouter(p), http.MethodPost, "/webhooks/stripe", payload)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		p.AssertNotCalled(t, "ProcessWebhook", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("payload too large", func(t *testing.T) {
		p := new(mockWebhookProcessor)
		w := perform(newRouter(p), http.MethodPost, "/webhooks/stripe", strings.Repeat("x", maxWebhookPayloadSize+1), "Stripe-Signature", "t=1,v1=abc")
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		p := new(mockWebhookProcessor)
		p.On("ProcessWebhook", mock.Anything, []byte(payload), "t=1,v1=bad").
			Return(nil, errors.New("webhook signature verification failed"))

		w := perform(newRouter(p), http.MethodPost, "/webhooks/stripe", payload, "Stripe-Signature", "t=1,v1=bad")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("processing failure asks for redelivery", func(t *testing.T) {
		p := new(mockWebhookProcessor)
		p.On("ProcessWebhook", mock.Anything, []byte(payload), "t=1,v1=ok").
			Return(&appmetering.WebhookResult{EventID: "evt_1", EventType: "invoice.payment_failed"}, errors.New("db down"))

		w := perform(newRouter(p), http.MethodPost, "/webhooks/stripe", payload, "Stripe-Signature", "t=1,v1=ok")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "db down")
	})

	t.Run("processed", func(t *testing.T) {
		p := new(mockWebhookProcessor)
		p.On("ProcessWebhook", mock.Anything, []byte(payload), "t=1,v1=ok").
			Return(&appmetering.WebhookResult{EventID: "evt_1", EventType: "invoice.payment_failed", Processed: true}, nil)

		w := perform(newRouter(p), http.MethodPost, "/webhooks/stripe", payload, "Stripe-Signature", "t=1,v1=ok")

		require.Equal(t, http.StatusOK, w.Code)
		var resp StripeWebhookResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Received)
		assert.Equal(t, "evt_1", resp.EventID)
	})
}
