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

// usageRecordBatchSize bounds the rows per INSERT statement
const usageRecordBatchSize = 100

// GormUsageRecordRepository implements metering.UsageRecordRepository using GORM
type GormUsageRecordRepository struct {
	db     *gorm.DB
	policy metering.DeletionPolicy
}

// NewGormUsageRecordRepository creates a usage record repository that
// prunes with the given deletion policy
func NewGormUsageRecordRepository(db *gorm.DB, policy metering.DeletionPolicy) *GormUsageRecordRepository {
	if !policy.IsValid() {
		policy = metering.DeletionPolicyHard
	}
	return &GormUsageRecordRepository{db: db, policy: policy}
}

// Policy returns the deletion policy used by DeleteOlderThan
func (r *GormUsageRecordRepository) Policy() metering.DeletionPolicy {
	return r.policy
}

// Create inserts a record, returning the stored duplicate when the
// idempotency key was already used
func (r *GormUsageRecordRepository) Create(ctx context.Context, record *metering.UsageRecord) (*metering.UsageRecord, bool, error) {
	model := models.UsageRecordModelFromDomain(record)
	if model.IdempotencyKey == nil {
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			return nil, false, fmt.Errorf("failed to create usage record: %w", err)
		}
		return record, true, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create usage record: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return record, true, nil
	}

	var existing models.UsageRecordModel
	if err := r.db.WithContext(ctx).Unscoped().
		Where("idempotency_key = ?", *model.IdempotencyKey).
		First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("failed to load duplicate usage record: %w", err)
	}
	return existing.ToDomain(), false, nil
}

// CreateBatch inserts records in one transaction, skipping duplicates
func (r *GormUsageRecordRepository) CreateBatch(ctx context.Context, records []*metering.UsageRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([]*models.UsageRecordModel, len(records))
	for i, record := range records {
		rows[i] = models.UsageRecordModelFromDomain(record)
	}

	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, usageRecordBatchSize)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create usage record batch: %w", err)
	}
	return int(inserted), nil
}

// FindByIdempotencyKey retrieves a record by its deduplication key
func (r *GormUsageRecordRepository) FindByIdempotencyKey(ctx context.Context, key string) (*metering.UsageRecord, error) {
	var model models.UsageRecordModel
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SumForBillable totals calls, tokens and cost within [start, end).
// Tombstoned rows are excluded by the soft-delete scope.
func (r *GormUsageRecordRepository) SumForBillable(ctx context.Context, billable metering.BillableRef, start, end time.Time) (metering.UsageTotals, error) {
	var result struct {
		Calls  int64
		Tokens int64
		Cost   decimal.Decimal
	}

	err := r.db.WithContext(ctx).
		Model(&models.UsageRecordModel{}).
		Select("COUNT(*) AS calls, COALESCE(SUM(total_tokens), 0) AS tokens, COALESCE(SUM(total_cost), 0) AS cost").
		Scopes(billableScope(billable)).
		Where("occurred_at >= ? AND occurred_at < ?", models.UTC(start), models.UTC(end)).
		Scan(&result).Error
	if err != nil {
		return metering.UsageTotals{}, fmt.Errorf("failed to sum usage: %w", err)
	}
	return metering.UsageTotals{Calls: result.Calls, Tokens: result.Tokens, Cost: result.Cost}, nil
}

// Find lists records matching the filter, newest first
func (r *GormUsageRecordRepository) Find(ctx context.Context, filter metering.UsageRecordFilter) ([]*metering.UsageRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.UsageRecordModel{})
	if filter.Billable != nil {
		query = query.Scopes(billableScope(*filter.Billable))
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", models.UTC(*filter.From))
	}
	if filter.To != nil {
		query = query.Where("occurred_at < ?", models.UTC(*filter.To))
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Feature != "" {
		query = query.Where("feature = ?", filter.Feature)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []models.UsageRecordModel
	if err := query.Order("occurred_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	records := make([]*metering.UsageRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

// CountOlderThan counts live records that occurred before the cutoff
func (r *GormUsageRecordRepository) CountOlderThan(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecordModel{}).
		Where("occurred_at < ?", models.UTC(before)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count usage records: %w", err)
	}
	return count, nil
}

// DeleteOlderThan prunes records before the cutoff. The hard policy
// removes rows, tombstoned ones included; the tombstone policy sets deleted_at.
func (r *GormUsageRecordRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.WithContext(ctx)
	if r.policy == metering.DeletionPolicyHard {
		query = query.Unscoped()
	}
	result := query.Where("occurred_at < ?", models.UTC(before)).Delete(&models.UsageRecordModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountWithoutBillable counts live records with no billable attribution
func (r *GormUsageRecordRepository) CountWithoutBillable(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecordModel{}).
		Where("billable_type = '' OR billable_id = '' OR billable_type IS NULL OR billable_id IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unattributed usage records: %w", err)
	}
	return count, nil
}

var _ metering.UsageRecordRepository = (*GormUsageRecordRepository)(nil)
