package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOverageRepository implements metering.OverageRepository using GORM
type GormOverageRepository struct {
	db *gorm.DB
}

// NewGormOverageRepository creates a new overage repository
func NewGormOverageRepository(db *gorm.DB) *GormOverageRepository {
	return &GormOverageRepository{db: db}
}

// Create inserts an overage row
func (r *GormOverageRepository) Create(ctx context.Context, overage *metering.Overage) error {
	if err := r.db.WithContext(ctx).Create(models.OverageModelFromDomain(overage)).Error; err != nil {
		return fmt.Errorf("failed to create overage: %w", err)
	}
	return nil
}

// AddToOpen atomically increments the open overage of the billable and
// period, opening a row when there is none
func (r *GormOverageRepository) AddToOpen(
	ctx context.Context,
	billable metering.BillableRef,
	period metering.BillingPeriod,
	tokens int64,
	cost decimal.Decimal,
	currency string,
) (*metering.Overage, error) {
	var result *metering.Overage

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open models.OverageModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Scopes(billableScope(billable)).
			Where("period_start = ? AND period_end = ?", models.UTC(period.Start), models.UTC(period.End)).
			Where("synced_at IS NULL").
			Order("created_at ASC").
			First(&open).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			overage, err := metering.NewOverage(billable, period, tokens, cost, currency)
			if err != nil {
				return err
			}
			if err := tx.Create(models.OverageModelFromDomain(overage)).Error; err != nil {
				return fmt.Errorf("failed to open overage: %w", err)
			}
			result = overage
			return nil
		case err != nil:
			return err
		}

		if err := tx.Model(&models.OverageModel{}).
			Where("id = ?", open.ID).
			Updates(map[string]any{
				"tokens":     gorm.Expr("tokens + ?", tokens),
				"cost":       gorm.Expr("cost + ?", cost),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("failed to increment overage: %w", err)
		}
		if err := tx.First(&open, "id = ?", open.ID).Error; err != nil {
			return err
		}
		result = open.ToDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FindUnsynced lists unsynced overages with non-zero cost, oldest first
func (r *GormOverageRepository) FindUnsynced(ctx context.Context, limit int) ([]*metering.Overage, error) {
	query := r.db.WithContext(ctx).
		Where("synced_at IS NULL AND cost > 0").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.OverageModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list unsynced overages: %w", err)
	}
	overages := make([]*metering.Overage, len(rows))
	for i := range rows {
		overages[i] = rows[i].ToDomain()
	}
	return overages, nil
}

// MarkSynced closes an overage for exactly the tokens and cost that were
// charged. Increments that reached the row after it was read are moved to
// a new open row for the same period so the next sync bills them.
func (r *GormOverageRepository) MarkSynced(ctx context.Context, charged *metering.Overage, chargeID string, at time.Time) error {
	at = at.UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.OverageModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", charged.ID).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return shared.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock overage: %w", err)
		}
		if row.SyncedAt != nil {
			return nil
		}

		extraTokens := row.Tokens - charged.Tokens
		extraCost := row.Cost.Sub(charged.Cost)
		if extraTokens > 0 || extraCost.IsPositive() {
			current := row.ToDomain()
			period := metering.BillingPeriod{Start: current.PeriodStart, End: current.PeriodEnd}
			remainder, err := metering.NewOverage(current.Billable, period, max(extraTokens, 0), decimal.Max(extraCost, decimal.Zero), current.Currency)
			if err != nil {
				return err
			}
			if err := tx.Create(models.OverageModelFromDomain(remainder)).Error; err != nil {
				return fmt.Errorf("failed to carry over overage remainder: %w", err)
			}
		}

		if err := tx.Model(&models.OverageModel{}).
			Where("id = ?", charged.ID).
			Updates(map[string]any{
				"tokens":             charged.Tokens,
				"cost":               charged.Cost,
				"external_charge_id": chargeID,
				"synced_at":          at,
				"updated_at":         at,
			}).Error; err != nil {
			return fmt.Errorf("failed to mark overage synced: %w", err)
		}
		return nil
	})
}

var _ metering.OverageRepository = (*GormOverageRepository)(nil)
