package router

import (
	"net/http"

	"github.com/aimeter/backend/internal/interfaces/http/handler"
	"github.com/aimeter/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// DefaultMaxBodyBytes caps JSON request bodies of the wallet endpoints
const DefaultMaxBodyBytes = 1 << 20

// MeteringHandlers are the endpoint handlers of the metering API.
// Webhooks is nil when Stripe is not configured.
type MeteringHandlers struct {
	Limits   *handler.LimitHandler
	Usage    *handler.UsageHandler
	Wallets  *handler.WalletHandler
	Webhooks *handler.StripeWebhookHandler
}

// MeteringRoutesConfig configures the metering route groups
type MeteringRoutesConfig struct {
	// Quota is the EnforceQuota middleware guarding /quota
	Quota gin.HandlerFunc
	// Auth guards the administrative limit and wallet endpoints
	Auth         gin.HandlerFunc
	MaxBodyBytes int64
}

// MeteringGroups builds the route groups of the metering API:
//
//	GET  /quota
//	GET  /limits/:type/:id
//	GET  /limits/:type/:id/report
//	POST /usage/:type/:id
//	GET  /wallets/:type/:id
//	GET  /wallets/:type/:id/transactions
//	POST /wallets/:type/:id/top-up
//	POST /wallets/:type/:id/refund
//	POST /webhooks/stripe
func MeteringGroups(h MeteringHandlers, cfg MeteringRoutesConfig) []RouteRegistrar {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	groups := make([]RouteRegistrar, 0, 5)

	if h.Limits != nil {
		quota := NewDomainGroup("quota", "/quota").
			Use(cfg.Quota, middleware.SpanAttributes()).
			GET("", h.Limits.CheckQuota)
		limits := NewDomainGroup("limits", "/limits/:type/:id").
			Use(cfg.Auth).
			GET("", h.Limits.GetLimit).
			GET("/report", h.Limits.GetReport)
		groups = append(groups, quota, limits)
	}

	if h.Usage != nil {
		usage := NewDomainGroup("usage", "/usage/:type/:id").
			Use(cfg.Auth, middleware.BodyLimit(maxBody), middleware.SpanAttributes()).
			POST("", h.Usage.RecordUsage)
		groups = append(groups, usage)
	}

	if h.Wallets != nil {
		wallets := NewDomainGroup("wallets", "/wallets/:type/:id").
			Use(cfg.Auth, middleware.BodyLimit(maxBody)).
			GET("", h.Wallets.GetWallet).
			GET("/transactions", h.Wallets.ListTransactions).
			POST("/top-up", h.Wallets.TopUp).
			POST("/refund", h.Wallets.Refund)
		groups = append(groups, wallets)
	}

	if h.Webhooks != nil {
		webhooks := NewDomainGroup("webhooks", "/webhooks").
			POST("/stripe", h.Webhooks.HandleStripeWebhook)
		groups = append(groups, webhooks)
	}

	return groups
}

// RegisterHealth adds the unversioned liveness endpoint
func RegisterHealth(engine *gin.Engine, ready func() error) {
	engine.GET("/health", func(c *gin.Context) {
		if ready != nil {
			if err := ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// RegisterDocs serves the Swagger UI and doc.json under /swagger behind
// the given protection middleware
func RegisterDocs(engine *gin.Engine, protection gin.HandlerFunc) {
	handlers := []gin.HandlerFunc{ginSwagger.WrapHandler(swaggerFiles.Handler)}
	if protection != nil {
		handlers = append([]gin.HandlerFunc{protection}, handlers...)
	}
	engine.GET("/swagger/*any", handlers...)
}
