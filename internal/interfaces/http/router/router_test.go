package router

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	_ "github.com/aimeter/backend/docs"
	"github.com/aimeter/backend/internal/interfaces/http/handler"
	"github.com/aimeter/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	group := NewDomainGroup("test", "/test").
		GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") }).
		Handle(http.MethodDelete, "/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Register(group).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/test/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDomainGroupMiddleware(t *testing.T) {
	engine := gin.New()
	var order []string

	group := NewDomainGroup("wallets", "/wallets").
		Use(nil, func(c *gin.Context) {
			order = append(order, "auth")
			c.Next()
		}).
		POST("/top-up", func(c *gin.Context) {
			order = append(order, "handler")
			c.Status(http.StatusCreated)
		})
	assert.Len(t, group.middleware, 1)
	assert.Equal(t, "wallets", group.Name())
	assert.Equal(t, "/wallets", group.Prefix())

	NewRouter(engine).Register(group).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/wallets/top-up", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"auth", "handler"}, order)
}

func routeTable(engine *gin.Engine) []string {
	routes := make([]string, 0)
	for _, r := range engine.Routes() {
		routes = append(routes, r.Method+" "+r.Path)
	}
	sort.Strings(routes)
	return routes
}

func TestMeteringGroups(t *testing.T) {
	t.Run("all handlers", func(t *testing.T) {
		engine := gin.New()
		groups := MeteringGroups(MeteringHandlers{
			Limits:   handler.NewLimitHandler(nil, nil),
			Usage:    handler.NewUsageHandler(nil, "openai"),
			Wallets:  handler.NewWalletHandler(nil, nil),
			Webhooks: handler.NewStripeWebhookHandler(nil),
		}, MeteringRoutesConfig{})
		NewRouter(engine).Register(groups...).Setup()

		assert.Equal(t, []string{
			"GET /api/v1/limits/:type/:id",
			"GET /api/v1/limits/:type/:id/report",
			"GET /api/v1/quota",
			"GET /api/v1/wallets/:type/:id",
			"GET /api/v1/wallets/:type/:id/transactions",
			"POST /api/v1/usage/:type/:id",
			"POST /api/v1/wallets/:type/:id/refund",
			"POST /api/v1/wallets/:type/:id/top-up",
			"POST /api/v1/webhooks/stripe",
		}, routeTable(engine))
	})

	t.Run("without stripe", func(t *testing.T) {
		engine := gin.New()
		groups := MeteringGroups(MeteringHandlers{
			Limits: handler.NewLimitHandler(nil, nil),
		}, MeteringRoutesConfig{})
		require.Len(t, groups, 2)
		NewRouter(engine).Register(groups...).Setup()

		assert.NotContains(t, routeTable(engine), "POST /api/v1/webhooks/stripe")
	})

	t.Run("auth guards admin routes only", func(t *testing.T) {
		engine := gin.New()
		deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
		groups := MeteringGroups(MeteringHandlers{
			Wallets:  handler.NewWalletHandler(nil, nil),
			Webhooks: handler.NewStripeWebhookHandler(nil),
		}, MeteringRoutesConfig{Auth: deny})
		NewRouter(engine).Register(groups...).Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/wallets/team/1", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		// no signature, so the webhook handler answers before touching its processor
		w = httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Stripe-Signature")
	})
}

func TestRegisterHealth(t *testing.T) {
	engine := gin.New()
	var readyErr error
	RegisterHealth(engine, func() error { return readyErr })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	readyErr = errors.New("database unreachable")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database unreachable")
}

func TestRegisterDocs(t *testing.T) {
	serve := func(engine *gin.Engine, path, apiKey string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if apiKey != "" {
			req.Header.Set(middleware.HeaderAPIKey, apiKey)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	t.Run("serves ui and doc.json", func(t *testing.T) {
		engine := gin.New()
		RegisterDocs(engine, middleware.SwaggerProtection(middleware.SwaggerConfig{Enabled: true}, nil))

		w := serve(engine, "/swagger/index.html", "")
		assert.Equal(t, http.StatusOK, w.Code)

		w = serve(engine, "/swagger/doc.json", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "AI Meter API")
		assert.Contains(t, w.Body.String(), "/wallets/{type}/{id}/refund")
		assert.Contains(t, w.Body.String(), "X-API-Key")
	})

	t.Run("disabled docs answer not found", func(t *testing.T) {
		engine := gin.New()
		RegisterDocs(engine, middleware.SwaggerProtection(middleware.SwaggerConfig{Enabled: false}, nil))

		assert.Equal(t, http.StatusNotFound, serve(engine, "/swagger/index.html", "").Code)
	})

	t.Run("protected docs need an api key", func(t *testing.T) {
		engine := gin.New()
		auth := middleware.APIKeyAuth([]string{"ops-key"})
		RegisterDocs(engine, middleware.SwaggerProtection(middleware.SwaggerConfig{Enabled: true, RequireAuth: true}, auth))

		assert.Equal(t, http.StatusUnauthorized, serve(engine, "/swagger/doc.json", "").Code)
		assert.Equal(t, http.StatusOK, serve(engine, "/swagger/doc.json", "ops-key").Code)
	})
}
