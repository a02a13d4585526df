package models

import (
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
// It maps to the domain's BaseEntity.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// ToDomain converts BaseModel to domain BaseEntity
func (m *BaseModel) ToDomain() shared.BaseEntity {
	return shared.BaseEntity{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomainBaseEntity populates BaseModel from domain BaseEntity
func (m *BaseModel) FromDomainBaseEntity(e shared.BaseEntity) {
	m.ID = e.ID
	m.CreatedAt = UTC(e.CreatedAt)
	m.UpdatedAt = UTC(e.UpdatedAt)
}

// UTC normalizes a timestamp before it reaches the database. SQLite stores
// times as text and compares them lexically, so every stored value and
// every query argument must share one offset.
func UTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// UTCPtr is UTC for optional timestamps
func UTCPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// BillableColumns stores a polymorphic billable reference
type BillableColumns struct {
	BillableType string `gorm:"type:varchar(100);not null;index:,composite:billable,priority:1"`
	BillableID   string `gorm:"type:varchar(191);not null;index:,composite:billable,priority:2"`
}

// NewBillableColumns copies a billable reference into its columns
func NewBillableColumns(b metering.BillableRef) BillableColumns {
	return BillableColumns{BillableType: b.Type, BillableID: b.ID}
}

// Ref returns the billable reference stored in the columns
func (c BillableColumns) Ref() metering.BillableRef {
	return metering.BillableRef{Type: c.BillableType, ID: c.BillableID}
}
