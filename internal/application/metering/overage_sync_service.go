package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"go.uber.org/zap"
)

// DefaultOverageSyncLimit bounds one sync run
const DefaultOverageSyncLimit = 100

// OverageSyncResult summarises one sync run
type OverageSyncResult struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// OverageSyncService pushes accumulated plan-mode overage to the payment system
type OverageSyncService struct {
	overages metering.OverageRepository
	resolver *PlanResolver
	sink     metering.ChargeSink
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewOverageSyncService creates an OverageSyncService
func NewOverageSyncService(
	overages metering.OverageRepository,
	resolver *PlanResolver,
	sink metering.ChargeSink,
	metrics Metrics,
	logger *zap.Logger,
) *OverageSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &OverageSyncService{
		overages: overages,
		resolver: resolver,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Sync charges up to limit unsynced overages, oldest first. Rows whose
// billable has no payment customer are skipped and retried next run.
func (s *OverageSyncService) Sync(ctx context.Context, limit int) (OverageSyncResult, error) {
	var result OverageSyncResult
	if s.sink == nil {
		return result, ErrChargeSinkUnavailable
	}
	if limit <= 0 {
		limit = DefaultOverageSyncLimit
	}

	pending, err := s.overages.FindUnsynced(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("failed to load unsynced overages: %w", err)
	}

	for _, overage := range pending {
		err := s.syncOne(ctx, overage)
		switch {
		case err == nil:
			result.Synced++
		case errors.Is(err, ErrNoChargeCustomer):
			result.Skipped++
			s.logger.Warn("No payment customer for overage, skipping",
				zap.String("overage_id", overage.ID.String()),
				zap.String("billable", overage.Billable.Key()))
		default:
			result.Failed++
			s.logger.Error("Failed to sync overage",
				zap.String("overage_id", overage.ID.String()),
				zap.String("billable", overage.Billable.Key()),
				zap.String("amount", overage.Cost.String()),
				zap.Error(err))
		}
	}

	s.metrics.RecordOverageSync(ctx, result.Synced, result.Failed)
	s.logger.Info("Overage sync finished",
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *OverageSyncService) syncOne(ctx context.Context, overage *metering.Overage) error {
	sub, err := s.resolver.ResolveSubscription(ctx, overage.Billable)
	if err != nil {
		return err
	}
	if sub == nil || sub.StripeCustomerID() == "" {
		return ErrNoChargeCustomer
	}

	chargeID, err := s.sink.CreateCharge(ctx, metering.ChargeRequest{
		CustomerID:  sub.StripeCustomerID(),
		AmountMinor: ToMinorUnits(overage.Cost),
		Currency:    overage.Currency,
		Description: fmt.Sprintf("AI Usage Overage - %d tokens (%s to %s)",
			overage.Tokens,
			overage.PeriodStart.Format("2006-01-02"),
			overage.PeriodEnd.Format("2006-01-02")),
		IdempotencyKey: BatchOverageIdempotencyKey(overage),
	})
	if err != nil {
		return err
	}
	return s.overages.MarkSynced(ctx, overage, chargeID, s.now())
}

// BatchOverageIdempotencyKey derives the charge key of an accumulated overage row
func BatchOverageIdempotencyKey(overage *metering.Overage) string {
	return fmt.Sprintf("ai-overage-%s-%d", overage.ID, overage.CreatedAt.Unix())
}
