// Package middleware provides HTTP middleware for the metering API.
package middleware

import (
	"strings"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/gin-gonic/gin"
)

// Headers and context keys used to identify the billable entity
const (
	HeaderBillableType = "X-Billable-Type"
	HeaderBillableID   = "X-Billable-ID"
	HeaderTenantID     = "X-Tenant-ID"
	HeaderUserID       = "X-User-ID"

	// TenantIDKey and UserIDKey are read from the gin context when an
	// upstream authentication layer has already identified the caller
	TenantIDKey = "tenant_id"
	UserIDKey   = "user_id"

	billableContextKey = "metering_billable"

	// MaxBillableIDLength bounds identifiers taken from headers
	MaxBillableIDLength = 128
)

// Billable types assigned to the tenant and user fallbacks
const (
	BillableTypeTenant = "tenant"
	BillableTypeUser   = "user"
)

// BillableResolver extracts the billable entity of a request. It returns
// the zero BillableRef when the request is not attributable.
type BillableResolver func(c *gin.Context) metering.BillableRef

// ResolveBillableFromRequest resolves the billable from the explicit
// X-Billable-Type/X-Billable-ID pair, then the tenant, then the user.
// Authenticated context values win over headers.
func ResolveBillableFromRequest(c *gin.Context) metering.BillableRef {
	explicit := metering.BillableRef{
		Type: headerValue(c, HeaderBillableType),
		ID:   headerValue(c, HeaderBillableID),
	}
	tenant := metering.BillableRef{Type: BillableTypeTenant, ID: contextOrHeader(c, TenantIDKey, HeaderTenantID)}
	user := metering.BillableRef{Type: BillableTypeUser, ID: contextOrHeader(c, UserIDKey, HeaderUserID)}
	return metering.ResolveBillable(explicit, tenant, user)
}

// SetBillable stores the resolved billable on the gin context
func SetBillable(c *gin.Context, billable metering.BillableRef) {
	c.Set(billableContextKey, billable)
}

// GetBillable returns the billable stored by EnforceQuota or SetBillable
func GetBillable(c *gin.Context) (metering.BillableRef, bool) {
	v, exists := c.Get(billableContextKey)
	if !exists {
		return metering.BillableRef{}, false
	}
	billable, ok := v.(metering.BillableRef)
	return billable, ok && !billable.IsZero()
}

func contextOrHeader(c *gin.Context, key, header string) string {
	if v := c.GetString(key); v != "" {
		return v
	}
	return headerValue(c, header)
}

// headerValue returns a trimmed header, dropping values that are too long
func headerValue(c *gin.Context, name string) string {
	v := strings.TrimSpace(c.GetHeader(name))
	if len(v) > MaxBillableIDLength {
		return ""
	}
	return v
}
