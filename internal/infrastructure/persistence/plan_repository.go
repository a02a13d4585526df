package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPlanRepository implements metering.PlanRepository using GORM
type GormPlanRepository struct {
	db *gorm.DB
}

// NewGormPlanRepository creates a new plan repository
func NewGormPlanRepository(db *gorm.DB) *GormPlanRepository {
	return &GormPlanRepository{db: db}
}

// Save creates or updates a plan
func (r *GormPlanRepository) Save(ctx context.Context, plan *metering.Plan) error {
	if err := r.db.WithContext(ctx).Save(models.PlanModelFromDomain(plan)).Error; err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// FindByID retrieves a plan by ID
func (r *GormPlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*metering.Plan, error) {
	var model models.PlanModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindBySlug retrieves a plan by slug
func (r *GormPlanRepository) FindBySlug(ctx context.Context, slug string) (*metering.Plan, error) {
	var model models.PlanModel
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListActive lists active plans ordered by name
func (r *GormPlanRepository) ListActive(ctx context.Context) ([]*metering.Plan, error) {
	var rows []models.PlanModel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	plans := make([]*metering.Plan, len(rows))
	for i := range rows {
		plans[i] = rows[i].ToDomain()
	}
	return plans, nil
}

// GormSubscriptionRepository implements metering.SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new subscription repository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// Save creates or updates a subscription without touching its plan
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *metering.Subscription) error {
	model := models.SubscriptionModelFromDomain(sub)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(model).Error; err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// FindCurrent returns the most recently started subscription active at now
func (r *GormSubscriptionRepository) FindCurrent(ctx context.Context, billable metering.BillableRef, now time.Time) (*metering.Subscription, error) {
	var model models.SubscriptionModel
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Scopes(billableScope(billable)).
		Where("(ends_at IS NULL OR ends_at > ? OR (grace_period_ends_at IS NOT NULL AND grace_period_ends_at > ?))", models.UTC(now), models.UTC(now)).
		Order("started_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByStripeSubscriptionID finds the subscription linked to a Stripe subscription
func (r *GormSubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*metering.Subscription, error) {
	return r.findOne(ctx, "stripe_subscription_id = ?", stripeSubscriptionID)
}

// FindByStripeCustomerID finds the latest subscription linked to a Stripe customer
func (r *GormSubscriptionRepository) FindByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*metering.Subscription, error) {
	return r.findOne(ctx, "stripe_customer_id = ?", stripeCustomerID)
}

func (r *GormSubscriptionRepository) findOne(ctx context.Context, query string, arg string) (*metering.Subscription, error) {
	if arg == "" {
		return nil, shared.ErrNotFound
	}
	var model models.SubscriptionModel
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where(query, arg).
		Order("started_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountWithoutPlan counts subscriptions in a billing mode that have no plan
func (r *GormSubscriptionRepository) CountWithoutPlan(ctx context.Context, mode metering.BillingMode) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SubscriptionModel{}).
		Where("billing_mode = ? AND plan_id IS NULL", string(mode)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return count, nil
}

// GormOverrideRepository implements metering.UsageLimitOverrideRepository using GORM
type GormOverrideRepository struct {
	db *gorm.DB
}

// NewGormOverrideRepository creates a new override repository
func NewGormOverrideRepository(db *gorm.DB) *GormOverrideRepository {
	return &GormOverrideRepository{db: db}
}

// Save creates or updates an override
func (r *GormOverrideRepository) Save(ctx context.Context, override *metering.UsageLimitOverride) error {
	if err := r.db.WithContext(ctx).Save(models.UsageLimitOverrideModelFromDomain(override)).Error; err != nil {
		return fmt.Errorf("failed to save usage limit override: %w", err)
	}
	return nil
}

// FindCovering returns the newest override spanning the whole period
func (r *GormOverrideRepository) FindCovering(ctx context.Context, billable metering.BillableRef, period metering.BillingPeriod) (*metering.UsageLimitOverride, error) {
	var model models.UsageLimitOverrideModel
	err := r.db.WithContext(ctx).
		Scopes(billableScope(billable)).
		Where("period_start <= ? AND period_end >= ?", models.UTC(period.Start), models.UTC(period.End)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

var (
	_ metering.PlanRepository               = (*GormPlanRepository)(nil)
	_ metering.SubscriptionRepository       = (*GormSubscriptionRepository)(nil)
	_ metering.UsageLimitOverrideRepository = (*GormOverrideRepository)(nil)
)
