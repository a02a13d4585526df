package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"go.uber.org/zap"
)

// CleanupResult summarises one retention run
type CleanupResult struct {
	Cutoff  time.Time               `json:"cutoff"`
	Policy  metering.DeletionPolicy `json:"policy"`
	Matched int64                   `json:"matched"`
	Deleted int64                   `json:"deleted"`
	DryRun  bool                    `json:"dry_run"`
}

// RetentionService prunes usage records older than the retention window
type RetentionService struct {
	usage  metering.UsageRecordRepository
	days   int
	policy metering.DeletionPolicy
	logger *zap.Logger
	now    func() time.Time
}

// NewRetentionService creates a RetentionService
func NewRetentionService(usage metering.UsageRecordRepository, settings Settings, logger *zap.Logger) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionService{
		usage:  usage,
		days:   settings.Storage.PruneAfterDays,
		policy: settings.Storage.DeletionPolicy,
		logger: logger,
		now:    time.Now,
	}
}

// Cleanup removes records older than days. A non-positive days uses the
// configured retention. With dryRun only the matching rows are counted.
func (s *RetentionService) Cleanup(ctx context.Context, days int, dryRun bool) (CleanupResult, error) {
	if days <= 0 {
		days = s.days
	}
	cutoff := s.now().AddDate(0, 0, -days)
	result := CleanupResult{Cutoff: cutoff, Policy: s.policy, DryRun: dryRun}

	matched, err := s.usage.CountOlderThan(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to count old usage records: %w", err)
	}
	result.Matched = matched
	if dryRun || matched == 0 {
		return result, nil
	}

	deleted, err := s.usage.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to prune usage records: %w", err)
	}
	result.Deleted = deleted

	s.logger.Info("Pruned AI usage records",
		zap.Time("cutoff", cutoff),
		zap.String("policy", s.policy.String()),
		zap.Int64("deleted", deleted))
	return result, nil
}
