package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aimeter/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the operator API key
const HeaderAPIKey = "X-API-Key"

// APIKeyAuth accepts requests presenting one of keys in X-API-Key or as a
// bearer token. With no keys configured it returns nil and the route is
// left open.
func APIKeyAuth(keys []string) gin.HandlerFunc {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			accepted = append(accepted, []byte(k))
		}
	}
	if len(accepted) == 0 {
		return nil
	}

	return func(c *gin.Context) {
		presented := c.GetHeader(HeaderAPIKey)
		if presented == "" {
			presented, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if presented != "" {
			for _, key := range accepted {
				if subtle.ConstantTimeCompare([]byte(presented), key) == 1 {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, "A valid API key is required", c.GetString("request_id")))
	}
}
