package models

import (
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PlanModel is the persistence model for subscription plans
type PlanModel struct {
	BaseModel
	Name              string           `gorm:"type:varchar(200);not null"`
	Slug              string           `gorm:"type:varchar(100);not null;uniqueIndex"`
	TokenLimit        *int64           `gorm:"column:token_limit"`
	CostLimit         *decimal.Decimal `gorm:"type:decimal(20,8)"`
	OveragePricePer1K *decimal.Decimal `gorm:"column:overage_price_per_1k;type:decimal(20,8)"`
	Features          map[string]any   `gorm:"type:text;serializer:json"`
	IsActive          bool             `gorm:"not null;index"`
	TrialDays         int              `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (PlanModel) TableName() string {
	return "ai_plans"
}

// ToDomain converts the model to a domain Plan
func (m *PlanModel) ToDomain() *metering.Plan {
	features := m.Features
	if features == nil {
		features = make(map[string]any)
	}
	return &metering.Plan{
		BaseEntity:        m.BaseModel.ToDomain(),
		Name:              m.Name,
		Slug:              m.Slug,
		TokenLimit:        m.TokenLimit,
		CostLimit:         m.CostLimit,
		OveragePricePer1K: m.OveragePricePer1K,
		Features:          features,
		IsActive:          m.IsActive,
		TrialDays:         m.TrialDays,
	}
}

// PlanModelFromDomain creates a model from a domain Plan
func PlanModelFromDomain(p *metering.Plan) *PlanModel {
	m := &PlanModel{
		Name:              p.Name,
		Slug:              p.Slug,
		TokenLimit:        p.TokenLimit,
		CostLimit:         p.CostLimit,
		OveragePricePer1K: p.OveragePricePer1K,
		Features:          p.Features,
		IsActive:          p.IsActive,
		TrialDays:         p.TrialDays,
	}
	m.FromDomainBaseEntity(p.BaseEntity)
	return m
}

// SubscriptionModel is the persistence model for subscriptions. The Stripe
// identifiers are lifted out of the metadata into indexed columns so that
// webhooks can find their subscription.
type SubscriptionModel struct {
	BaseModel
	BillableColumns
	PlanID               *uuid.UUID     `gorm:"type:uuid;index"`
	Plan                 *PlanModel     `gorm:"foreignKey:PlanID"`
	BillingMode          string         `gorm:"type:varchar(20);not null;default:'plan'"`
	StartedAt            time.Time      `gorm:"not null;index"`
	RenewsAt             *time.Time
	EndsAt               *time.Time     `gorm:"index"`
	TrialEndsAt          *time.Time
	GracePeriodEndsAt    *time.Time
	PreviousPlanID       *uuid.UUID     `gorm:"type:uuid"`
	StripeCustomerID     string         `gorm:"type:varchar(255);index"`
	StripeSubscriptionID string         `gorm:"type:varchar(255);index"`
	Meta                 map[string]any `gorm:"type:text;serializer:json"`
}

// TableName returns the table name for GORM
func (SubscriptionModel) TableName() string {
	return "ai_subscriptions"
}

// ToDomain converts the model to a domain Subscription
func (m *SubscriptionModel) ToDomain() *metering.Subscription {
	meta := m.Meta
	if meta == nil {
		meta = make(map[string]any)
	}
	sub := &metering.Subscription{
		BaseEntity:        m.BaseModel.ToDomain(),
		Billable:          m.Ref(),
		PlanID:            m.PlanID,
		BillingMode:       metering.BillingMode(m.BillingMode),
		StartedAt:         m.StartedAt,
		RenewsAt:          m.RenewsAt,
		EndsAt:            m.EndsAt,
		TrialEndsAt:       m.TrialEndsAt,
		GracePeriodEndsAt: m.GracePeriodEndsAt,
		PreviousPlanID:    m.PreviousPlanID,
		Meta:              meta,
	}
	if m.Plan != nil {
		sub.Plan = m.Plan.ToDomain()
	}
	return sub
}

// SubscriptionModelFromDomain creates a model from a domain Subscription
func SubscriptionModelFromDomain(s *metering.Subscription) *SubscriptionModel {
	m := &SubscriptionModel{
		BillableColumns:      NewBillableColumns(s.Billable),
		PlanID:               s.PlanID,
		BillingMode:          string(s.BillingMode),
		StartedAt:            UTC(s.StartedAt),
		RenewsAt:             UTCPtr(s.RenewsAt),
		EndsAt:               UTCPtr(s.EndsAt),
		TrialEndsAt:          UTCPtr(s.TrialEndsAt),
		GracePeriodEndsAt:    UTCPtr(s.GracePeriodEndsAt),
		PreviousPlanID:       s.PreviousPlanID,
		StripeCustomerID:     s.StripeCustomerID(),
		StripeSubscriptionID: s.MetaString(metering.MetaStripeSubscriptionID),
		Meta:                 s.Meta,
	}
	m.FromDomainBaseEntity(s.BaseEntity)
	return m
}

// UsageLimitOverrideModel is the persistence model for limit overrides
type UsageLimitOverrideModel struct {
	BaseModel
	BillableColumns
	PeriodStart time.Time        `gorm:"not null"`
	PeriodEnd   time.Time        `gorm:"not null"`
	TokenLimit  *int64
	CostLimit   *decimal.Decimal `gorm:"type:decimal(20,8)"`
}

// TableName returns the table name for GORM
func (UsageLimitOverrideModel) TableName() string {
	return "ai_usage_limit_overrides"
}

// ToDomain converts the model to a domain UsageLimitOverride
func (m *UsageLimitOverrideModel) ToDomain() *metering.UsageLimitOverride {
	return &metering.UsageLimitOverride{
		BaseEntity:  m.BaseModel.ToDomain(),
		Billable:    m.Ref(),
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
		TokenLimit:  m.TokenLimit,
		CostLimit:   m.CostLimit,
	}
}

// UsageLimitOverrideModelFromDomain creates a model from a domain override
func UsageLimitOverrideModelFromDomain(o *metering.UsageLimitOverride) *UsageLimitOverrideModel {
	m := &UsageLimitOverrideModel{
		BillableColumns: NewBillableColumns(o.Billable),
		PeriodStart:     UTC(o.PeriodStart),
		PeriodEnd:       UTC(o.PeriodEnd),
		TokenLimit:      o.TokenLimit,
		CostLimit:       o.CostLimit,
	}
	m.FromDomainBaseEntity(o.BaseEntity)
	return m
}

// UsageRecordModel is the persistence model for usage records. DeletedAt
// holds the tombstone written by retention pruning.
type UsageRecordModel struct {
	BaseModel
	BillableType   string          `gorm:"type:varchar(100);index:,composite:billable_time,priority:1"`
	BillableID     string          `gorm:"type:varchar(191);index:,composite:billable_time,priority:2"`
	UserID         string          `gorm:"type:varchar(191)"`
	TenantID       string          `gorm:"type:varchar(191)"`
	Provider       string          `gorm:"type:varchar(50);not null;index"`
	Model          string          `gorm:"type:varchar(100);not null"`
	Feature        string          `gorm:"type:varchar(100);index"`
	InputTokens    *int64
	OutputTokens   *int64
	TotalTokens    *int64
	InputCost      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	OutputCost     decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	TotalCost      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	Currency       string          `gorm:"type:varchar(3);not null"`
	Meta           map[string]any  `gorm:"type:text;serializer:json"`
	IdempotencyKey *string         `gorm:"type:varchar(255);uniqueIndex"`
	OccurredAt     time.Time       `gorm:"not null;index;index:,composite:billable_time,priority:3"`
	DeletedAt      gorm.DeletedAt  `gorm:"index"`
}

// TableName returns the table name for GORM
func (UsageRecordModel) TableName() string {
	return "ai_usage_records"
}

// ToDomain converts the model to a domain UsageRecord
func (m *UsageRecordModel) ToDomain() *metering.UsageRecord {
	meta := m.Meta
	if meta == nil {
		meta = make(map[string]any)
	}
	r := &metering.UsageRecord{
		BaseEntity:   m.BaseModel.ToDomain(),
		Billable:     metering.BillableRef{Type: m.BillableType, ID: m.BillableID},
		UserID:       m.UserID,
		TenantID:     m.TenantID,
		Provider:     m.Provider,
		Model:        m.Model,
		Feature:      m.Feature,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		TotalTokens:  m.TotalTokens,
		InputCost:    m.InputCost,
		OutputCost:   m.OutputCost,
		TotalCost:    m.TotalCost,
		Currency:     m.Currency,
		Meta:         meta,
		OccurredAt:   m.OccurredAt,
	}
	if m.IdempotencyKey != nil {
		r.IdempotencyKey = *m.IdempotencyKey
	}
	return r
}

// UsageRecordModelFromDomain creates a model from a domain UsageRecord
func UsageRecordModelFromDomain(r *metering.UsageRecord) *UsageRecordModel {
	m := &UsageRecordModel{
		BillableType: r.Billable.Type,
		BillableID:   r.Billable.ID,
		UserID:       r.UserID,
		TenantID:     r.TenantID,
		Provider:     r.Provider,
		Model:        r.Model,
		Feature:      r.Feature,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		InputCost:    r.InputCost,
		OutputCost:   r.OutputCost,
		TotalCost:    r.TotalCost,
		Currency:     r.Currency,
		Meta:         r.Meta,
		OccurredAt:   UTC(r.OccurredAt),
	}
	if r.IdempotencyKey != "" {
		key := r.IdempotencyKey
		m.IdempotencyKey = &key
	}
	m.FromDomainBaseEntity(r.BaseEntity)
	return m
}

// CreditWalletModel is the persistence model for credit wallets
type CreditWalletModel struct {
	BaseModel
	BillableType string          `gorm:"type:varchar(100);not null;uniqueIndex:,composite:wallet_billable,priority:1"`
	BillableID   string          `gorm:"type:varchar(191);not null;uniqueIndex:,composite:wallet_billable,priority:2"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	Currency     string          `gorm:"type:varchar(3);not null"`
	Meta         map[string]any  `gorm:"type:text;serializer:json"`
}

// TableName returns the table name for GORM
func (CreditWalletModel) TableName() string {
	return "ai_credit_wallets"
}

// ToDomain converts the model to a domain CreditWallet
func (m *CreditWalletModel) ToDomain() *metering.CreditWallet {
	meta := m.Meta
	if meta == nil {
		meta = make(map[string]any)
	}
	return &metering.CreditWallet{
		BaseEntity: m.BaseModel.ToDomain(),
		Billable:   metering.BillableRef{Type: m.BillableType, ID: m.BillableID},
		Balance:    m.Balance,
		Currency:   m.Currency,
		Meta:       meta,
	}
}

// CreditWalletModelFromDomain creates a model from a domain CreditWallet
func CreditWalletModelFromDomain(w *metering.CreditWallet) *CreditWalletModel {
	m := &CreditWalletModel{
		BillableType: w.Billable.Type,
		BillableID:   w.Billable.ID,
		Balance:      w.Balance,
		Currency:     w.Currency,
		Meta:         w.Meta,
	}
	m.FromDomainBaseEntity(w.BaseEntity)
	return m
}

// CreditTransactionModel is the persistence model for wallet ledger entries
type CreditTransactionModel struct {
	BaseModel
	WalletID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Direction  string          `gorm:"type:varchar(10);not null"`
	Reason     string          `gorm:"type:varchar(50);not null"`
	Meta       map[string]any  `gorm:"type:text;serializer:json"`
	OccurredAt time.Time       `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (CreditTransactionModel) TableName() string {
	return "ai_credit_transactions"
}

// ToDomain converts the model to a domain CreditTransaction
func (m *CreditTransactionModel) ToDomain() *metering.CreditTransaction {
	meta := m.Meta
	if meta == nil {
		meta = make(map[string]any)
	}
	return &metering.CreditTransaction{
		BaseEntity: m.BaseModel.ToDomain(),
		WalletID:   m.WalletID,
		Amount:     m.Amount,
		Direction:  metering.TransactionDirection(m.Direction),
		Reason:     m.Reason,
		Meta:       meta,
		OccurredAt: m.OccurredAt,
	}
}

// CreditTransactionModelFromDomain creates a model from a domain CreditTransaction
func CreditTransactionModelFromDomain(t *metering.CreditTransaction) *CreditTransactionModel {
	m := &CreditTransactionModel{
		WalletID:   t.WalletID,
		Amount:     t.Amount,
		Direction:  string(t.Direction),
		Reason:     t.Reason,
		Meta:       t.Meta,
		OccurredAt: UTC(t.OccurredAt),
	}
	m.FromDomainBaseEntity(t.BaseEntity)
	return m
}

// OverageModel is the persistence model for plan-mode overages
type OverageModel struct {
	BaseModel
	BillableColumns
	SourceUsageID    *uuid.UUID      `gorm:"type:uuid"`
	PeriodStart      time.Time       `gorm:"not null"`
	PeriodEnd        time.Time       `gorm:"not null"`
	Tokens           int64           `gorm:"not null;default:0"`
	Cost             decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	Currency         string          `gorm:"type:varchar(3);not null"`
	ExternalChargeID string          `gorm:"type:varchar(255)"`
	SyncedAt         *time.Time      `gorm:"index"`
}

// TableName returns the table name for GORM
func (OverageModel) TableName() string {
	return "ai_overages"
}

// ToDomain converts the model to a domain Overage
func (m *OverageModel) ToDomain() *metering.Overage {
	return &metering.Overage{
		BaseEntity:       m.BaseModel.ToDomain(),
		Billable:         m.Ref(),
		SourceUsageID:    m.SourceUsageID,
		PeriodStart:      m.PeriodStart,
		PeriodEnd:        m.PeriodEnd,
		Tokens:           m.Tokens,
		Cost:             m.Cost,
		Currency:         m.Currency,
		ExternalChargeID: m.ExternalChargeID,
		SyncedAt:         m.SyncedAt,
	}
}

// OverageModelFromDomain creates a model from a domain Overage
func OverageModelFromDomain(o *metering.Overage) *OverageModel {
	m := &OverageModel{
		BillableColumns:  NewBillableColumns(o.Billable),
		SourceUsageID:    o.SourceUsageID,
		PeriodStart:      UTC(o.PeriodStart),
		PeriodEnd:        UTC(o.PeriodEnd),
		Tokens:           o.Tokens,
		Cost:             o.Cost,
		Currency:         o.Currency,
		ExternalChargeID: o.ExternalChargeID,
		SyncedAt:         UTCPtr(o.SyncedAt),
	}
	m.FromDomainBaseEntity(o.BaseEntity)
	return m
}

// MeteringModels lists every metering model for AutoMigrate
func MeteringModels() []any {
	return []any{
		&PlanModel{},
		&SubscriptionModel{},
		&UsageLimitOverrideModel{},
		&UsageRecordModel{},
		&CreditWalletModel{},
		&CreditTransactionModel{},
		&OverageModel{},
	}
}
