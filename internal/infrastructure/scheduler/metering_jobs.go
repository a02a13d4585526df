package scheduler

import (
	"context"
	"fmt"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"go.uber.org/zap"
)

// Job names
const (
	JobOverageSync = "overage-sync"
	JobRetention   = "usage-retention"
)

// OverageSyncer pushes unsynced overage to the payment system
type OverageSyncer interface {
	Sync(ctx context.Context, limit int) (appmetering.OverageSyncResult, error)
}

// RetentionCleaner prunes old usage records
type RetentionCleaner interface {
	Cleanup(ctx context.Context, days int, dryRun bool) (appmetering.CleanupResult, error)
}

// RegisterMeteringJobs schedules the overage sync and retention jobs.
// A nil dependency leaves its job unscheduled.
func (s *Scheduler) RegisterMeteringJobs(overages OverageSyncer, retention RetentionCleaner) error {
	if overages != nil {
		limit := s.cfg.OverageSyncLimit
		if limit <= 0 {
			limit = appmetering.DefaultOverageSyncLimit
		}
		err := s.Register(Job{
			Name: JobOverageSync,
			Spec: s.cfg.OverageSyncCron,
			Run: func(ctx context.Context) error {
				result, err := overages.Sync(ctx, limit)
				if err != nil {
					return fmt.Errorf("overage sync: %w", err)
				}
				s.logger.Info("overage sync finished",
					zap.Int("synced", result.Synced),
					zap.Int("failed", result.Failed),
					zap.Int("skipped", result.Skipped),
				)
				return nil
			},
		})
		if err != nil {
			return err
		}
	}

	if retention != nil {
		err := s.Register(Job{
			Name: JobRetention,
			Spec: s.cfg.RetentionCron,
			Run: func(ctx context.Context) error {
				result, err := retention.Cleanup(ctx, 0, false)
				if err != nil {
					return fmt.Errorf("usage retention: %w", err)
				}
				s.logger.Info("usage retention finished",
					zap.Time("cutoff", result.Cutoff),
					zap.String("policy", string(result.Policy)),
					zap.Int64("deleted", result.Deleted),
				)
				return nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
