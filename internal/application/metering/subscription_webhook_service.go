package metering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/infrastructure/billing"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// SubscriptionWebhookService keeps subscriptions in step with Stripe
// subscription and invoice webhooks
type SubscriptionWebhookService struct {
	config        *billing.StripeConfig
	subscriptions metering.SubscriptionRepository
	resolver      *PlanResolver
	limiter       *UsageLimiter
	events        shared.EventPublisher
	processed     shared.IdempotencyStore
	graceDays     int
	logger        *zap.Logger
	now           func() time.Time
}

// SubscriptionWebhookServiceConfig contains configuration for SubscriptionWebhookService
type SubscriptionWebhookServiceConfig struct {
	Config        *billing.StripeConfig
	Subscriptions metering.SubscriptionRepository
	Resolver      *PlanResolver
	Limiter       *UsageLimiter
	Events        shared.EventPublisher
	Processed     shared.IdempotencyStore // optional, drops redelivered events
	Settings      Settings
	Logger        *zap.Logger
}

// NewSubscriptionWebhookService creates a new SubscriptionWebhookService
func NewSubscriptionWebhookService(cfg SubscriptionWebhookServiceConfig) *SubscriptionWebhookService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionWebhookService{
		config:        cfg.Config,
		subscriptions: cfg.Subscriptions,
		resolver:      cfg.Resolver,
		limiter:       cfg.Limiter,
		events:        cfg.Events,
		processed:     cfg.Processed,
		graceDays:     cfg.Settings.Billing.PaymentFailureGracePeriodDays,
		logger:        logger,
		now:           time.Now,
	}
}

// WebhookResult contains the result of processing a webhook
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Processed bool   `json:"processed"`
	Message   string `json:"message,omitempty"`
}

// ProcessWebhook verifies and applies a Stripe webhook event
func (s *SubscriptionWebhookService) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.config.WebhookSecret)
	if err != nil {
		s.logger.Error("Failed to verify webhook signature", zap.Error(err))
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return s.HandleEvent(ctx, event)
}

// HandleEvent applies an already verified Stripe event
func (s *SubscriptionWebhookService) HandleEvent(ctx context.Context, event stripe.Event) (*WebhookResult, error) {
	s.logger.Info("Processing Stripe webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	result := &WebhookResult{
		EventID:   event.ID,
		EventType: string(event.Type),
		Processed: true,
	}

	if s.alreadyProcessed(ctx, event.ID) {
		result.Message = "Event already processed"
		return result, nil
	}

	var err error
	switch event.Type {
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event)
	case "customer.subscription.updated":
		err = s.handleSubscriptionUpdated(ctx, event)
	case "invoice.payment_failed":
		err = s.handleInvoicePaymentFailed(ctx, event)
	default:
		s.logger.Debug("Unhandled webhook event type",
			zap.String("event_type", string(event.Type)))
		result.Message = "Event type not handled"
	}

	if err != nil {
		s.logger.Error("Failed to process webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		result.Processed = false
		result.Message = err.Error()
		return result, err
	}
	s.markProcessed(ctx, event.ID)
	return result, nil
}

func (s *SubscriptionWebhookService) alreadyProcessed(ctx context.Context, eventID string) bool {
	if s.processed == nil || eventID == "" {
		return false
	}
	done, err := s.processed.IsProcessed(ctx, eventID)
	if err != nil {
		s.logger.Warn("Webhook dedup lookup failed", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return done
}

func (s *SubscriptionWebhookService) markProcessed(ctx context.Context, eventID string) {
	if s.processed == nil || eventID == "" {
		return
	}
	if _, err := s.processed.MarkProcessed(ctx, eventID, shared.DefaultIdempotencyTTL); err != nil {
		s.logger.Warn("Failed to record processed webhook", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (s *SubscriptionWebhookService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	sub, err := s.findSubscription(ctx, stripeSub.ID, customerIDOf(stripeSub.Customer))
	if err != nil || sub == nil {
		return err
	}

	var endsAt time.Time
	switch {
	case stripeSub.CanceledAt > 0:
		endsAt = time.Unix(stripeSub.CanceledAt, 0)
	case stripeSub.CurrentPeriodEnd > 0:
		endsAt = time.Unix(stripeSub.CurrentPeriodEnd, 0)
	default:
		endsAt = s.now()
	}
	sub.EndsAt = &endsAt
	sub.UpdatedAt = s.now()

	if err := s.subscriptions.Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	s.clearCaches(ctx, sub.Billable)
	s.publish(ctx, metering.NewSubscriptionExpiredEvent(sub, "stripe_subscription_deleted"))

	s.logger.Info("Subscription deleted processed successfully",
		zap.String("billable", sub.Billable.Key()),
		zap.String("stripe_subscription_id", stripeSub.ID),
		zap.Time("ends_at", endsAt))
	return nil
}

func (s *SubscriptionWebhookService) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	sub, err := s.findSubscription(ctx, stripeSub.ID, customerIDOf(stripeSub.Customer))
	if err != nil || sub == nil {
		return err
	}

	if stripeSub.CurrentPeriodStart > 0 {
		sub.StartedAt = time.Unix(stripeSub.CurrentPeriodStart, 0)
	}
	if stripeSub.CurrentPeriodEnd > 0 {
		renewsAt := time.Unix(stripeSub.CurrentPeriodEnd, 0)
		sub.RenewsAt = &renewsAt
	}
	switch {
	case stripeSub.CanceledAt > 0:
		endsAt := time.Unix(stripeSub.CanceledAt, 0)
		sub.EndsAt = &endsAt
	case stripeSub.Status == stripe.SubscriptionStatusActive && sub.EndsAt != nil:
		sub.EndsAt = nil
	}
	sub.UpdatedAt = s.now()

	if err := s.subscriptions.Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	s.clearCaches(ctx, sub.Billable)

	s.logger.Info("Subscription updated processed successfully",
		zap.String("billable", sub.Billable.Key()),
		zap.String("stripe_subscription_id", stripeSub.ID),
		zap.String("status", string(stripeSub.Status)))
	return nil
}

func (s *SubscriptionWebhookService) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	if invoice.Subscription == nil {
		s.logger.Debug("Invoice is not for a subscription, skipping",
			zap.String("invoice_id", invoice.ID))
		return nil
	}

	sub, err := s.findSubscription(ctx, invoice.Subscription.ID, customerIDOf(invoice.Customer))
	if err != nil || sub == nil {
		return err
	}

	now := s.now()
	if s.graceDays > 0 {
		graceEnds := now.AddDate(0, 0, s.graceDays)
		sub.GracePeriodEndsAt = &graceEnds
	} else {
		sub.EndsAt = &now
		sub.GracePeriodEndsAt = nil
	}
	sub.UpdatedAt = now

	if err := s.subscriptions.Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	s.clearCaches(ctx, sub.Billable)

	s.logger.Warn("Invoice payment failed",
		zap.String("billable", sub.Billable.Key()),
		zap.String("invoice_id", invoice.ID),
		zap.Int("grace_period_days", s.graceDays))
	return nil
}

// findSubscription looks up by Stripe subscription ID, then customer ID.
// Unknown subscriptions return nil without error so Stripe stops retrying.
func (s *SubscriptionWebhookService) findSubscription(ctx context.Context, stripeSubscriptionID, customerID string) (*metering.Subscription, error) {
	if stripeSubscriptionID != "" {
		sub, err := s.subscriptions.FindByStripeSubscriptionID(ctx, stripeSubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("failed to find subscription: %w", err)
		}
	}

	if customerID != "" {
		sub, err := s.subscriptions.FindByStripeCustomerID(ctx, customerID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("failed to find subscription: %w", err)
		}
	}

	s.logger.Warn("Subscription not found for Stripe webhook",
		zap.String("stripe_subscription_id", stripeSubscriptionID),
		zap.String("customer_id", customerID))
	return nil, nil
}

func (s *SubscriptionWebhookService) clearCaches(ctx context.Context, billable metering.BillableRef) {
	if s.resolver != nil {
		s.resolver.ClearCache(ctx, billable)
	}
	if s.limiter != nil {
		s.limiter.ClearCache(ctx, billable)
	}
}

func (s *SubscriptionWebhookService) publish(ctx context.Context, event shared.DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish subscription event",
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	}
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
