package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlanService lists plans and moves billables between them
type PlanService struct {
	plans         metering.PlanRepository
	subscriptions metering.SubscriptionRepository
	resolver      *PlanResolver
	limiter       *UsageLimiter
	events        shared.EventPublisher
	logger        *zap.Logger
	now           func() time.Time
}

// NewPlanService creates a PlanService
func NewPlanService(
	plans metering.PlanRepository,
	subscriptions metering.SubscriptionRepository,
	resolver *PlanResolver,
	limiter *UsageLimiter,
	events shared.EventPublisher,
	logger *zap.Logger,
) *PlanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{
		plans:         plans,
		subscriptions: subscriptions,
		resolver:      resolver,
		limiter:       limiter,
		events:        events,
		logger:        logger,
		now:           time.Now,
	}
}

// ListActive returns the active plans
func (s *PlanService) ListActive(ctx context.Context) ([]*metering.Plan, error) {
	return s.plans.ListActive(ctx)
}

// FindPlan resolves a plan by UUID or slug
func (s *PlanService) FindPlan(ctx context.Context, ref string) (*metering.Plan, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.plans.FindByID(ctx, id)
	}
	return s.plans.FindBySlug(ctx, ref)
}

// MigratePlanInput describes a plan change
type MigratePlanInput struct {
	Billable   metering.BillableRef
	PlanRef    string
	ResetStart bool
}

// MigratePlan moves the billable's current subscription to another plan
func (s *PlanService) MigratePlan(ctx context.Context, input MigratePlanInput) (*metering.Subscription, error) {
	plan, err := s.FindPlan(ctx, input.PlanRef)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("plan %q: %w", input.PlanRef, err)
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, metering.ErrPlanInactive
	}

	sub, err := s.subscriptions.FindCurrent(ctx, input.Billable, s.now())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, metering.ErrNoActiveSubscription
		}
		return nil, err
	}

	if err := sub.ChangePlan(plan, input.ResetStart, s.now()); err != nil {
		return nil, err
	}
	if err := s.subscriptions.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	if s.resolver != nil {
		s.resolver.ClearCache(ctx, input.Billable)
	}
	if s.limiter != nil {
		s.limiter.ClearCache(ctx, input.Billable)
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, metering.NewPlanChangedEvent(sub)); err != nil {
			s.logger.Warn("Failed to publish plan change event", zap.Error(err))
		}
	}

	s.logger.Info("Subscription plan migrated",
		zap.String("billable", input.Billable.Key()),
		zap.String("plan", plan.Slug),
		zap.Bool("reset_start", input.ResetStart))
	return sub, nil
}
