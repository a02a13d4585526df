package metering

import (
	"strings"

	"github.com/aimeter/backend/internal/domain/shared"
)

// BillableRef identifies the entity whose consumption is metered.
// Type is the host application's entity kind ("team", "user", ...),
// ID its primary key rendered as a string.
type BillableRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewBillableRef creates a billable reference with validation
func NewBillableRef(billableType, id string) (BillableRef, error) {
	billableType = strings.TrimSpace(billableType)
	id = strings.TrimSpace(id)
	if billableType == "" {
		return BillableRef{}, shared.NewDomainError("INVALID_BILLABLE", "Billable type cannot be empty")
	}
	if id == "" {
		return BillableRef{}, shared.NewDomainError("INVALID_BILLABLE", "Billable ID cannot be empty")
	}
	return BillableRef{Type: billableType, ID: id}, nil
}

// IsZero reports whether the reference is unset
func (b BillableRef) IsZero() bool {
	return b.Type == "" || b.ID == ""
}

// Key returns a stable "type:id" key used for locks and cache entries
func (b BillableRef) Key() string {
	return b.Type + ":" + b.ID
}

// String implements fmt.Stringer
func (b BillableRef) String() string {
	return b.Key()
}

// ResolveBillable picks the billable for a call: an explicit billable
// wins, then the tenant, then the user. The zero value is returned when
// none is set.
func ResolveBillable(explicit, tenant, user BillableRef) BillableRef {
	if !explicit.IsZero() {
		return explicit
	}
	if !tenant.IsZero() {
		return tenant
	}
	return user
}
