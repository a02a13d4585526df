package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// UnknownModel is recorded when the caller does not name a model
const UnknownModel = "unknown"

// CallOptions describes one metered provider call
type CallOptions struct {
	Billable metering.BillableRef
	Tenant   metering.BillableRef
	User     metering.BillableRef

	Provider string
	Model    string
	Feature  string

	// BillingMode, when set, decides whether a billing failure is fatal.
	// Otherwise the subscription's mode decides.
	BillingMode metering.BillingMode

	Meta           map[string]any
	IdempotencyKey string

	// ManualUsage replaces whatever the provider reports and also feeds
	// the pre-call quota check
	ManualUsage *metering.ProviderUsage
}

// MeteredResponse is the outcome of a metered call
type MeteredResponse struct {
	Response any
	Usage    metering.ProviderUsage
	Limit    metering.LimitCheckResult
	// Record is nil when recording is queued
	Record *metering.UsageRecord
}

// Meter runs provider calls under quota enforcement, records their usage
// and settles their cost
type Meter struct {
	limiter   *UsageLimiter
	resolver  *PlanResolver
	recorder  UsageWriter
	billing   BillingDriver
	providers *ProviderRegistry
	costs     *metering.CostCalculator
	locker    shared.Locker
	events    shared.EventPublisher
	metrics   Metrics
	settings  Settings
	logger    *zap.Logger
}

// MeterDeps contains the collaborators of Meter. Locker, Events and
// Metrics are optional.
type MeterDeps struct {
	Limiter   *UsageLimiter
	Resolver  *PlanResolver
	Recorder  UsageWriter
	Billing   BillingDriver
	Providers *ProviderRegistry
	Costs     *metering.CostCalculator
	Locker    shared.Locker
	Events    shared.EventPublisher
	Metrics   Metrics
	Logger    *zap.Logger
}

// NewMeter creates a Meter
func NewMeter(deps MeterDeps, settings Settings) *Meter {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics()
	}
	billing := deps.Billing
	if billing == nil {
		billing = NullBillingDriver{}
	}
	costs := deps.Costs
	if costs == nil {
		costs = metering.NewCostCalculator(settings.Pricing)
	}
	return &Meter{
		limiter:   deps.Limiter,
		resolver:  deps.Resolver,
		recorder:  deps.Recorder,
		billing:   billing,
		providers: deps.Providers,
		costs:     costs,
		locker:    deps.Locker,
		events:    deps.Events,
		metrics:   metrics,
		settings:  settings,
		logger:    logger,
	}
}

// LockKey returns the name of the per-billable metering lock
func LockKey(billable metering.BillableRef) string {
	return fmt.Sprintf("ai-metering.lock.%s.%s", billable.Type, billable.ID)
}

// Call meters one provider call. Errors returned by op are returned
// unchanged after a ProviderCallFailed event is published.
func (m *Meter) Call(ctx context.Context, opts CallOptions, op metering.Operation) (*MeteredResponse, error) {
	billable := metering.ResolveBillable(opts.Billable, opts.Tenant, opts.User)

	if m.settings.Security.PreventRaceConditions && !billable.IsZero() && m.locker != nil {
		lock, err := m.locker.Acquire(ctx, LockKey(billable), m.settings.Security.LockTTL)
		if err != nil {
			if errors.Is(err, shared.ErrLockNotAcquired) {
				return nil, metering.ErrTooManyConcurrentRequests
			}
			return nil, fmt.Errorf("failed to acquire metering lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release metering lock",
					zap.String("billable", billable.Key()),
					zap.Error(err))
			}
		}()
	}

	providerName, model := m.resolveProviderName(opts)
	client, err := m.providers.Resolve(providerName, model)
	if err != nil {
		return nil, err
	}
	if opts.ManualUsage != nil {
		if presetter, ok := client.(metering.UsagePresetter); ok {
			presetter.SetUsage(*opts.ManualUsage)
		}
	}

	limit, err := m.checkLimits(ctx, billable, opts)
	if err != nil {
		return nil, err
	}
	if limit.HardLimitReached && m.settings.Billing.OverageBehavior == OverageBlock {
		m.publish(ctx, metering.NewLimitReachedEvent(billable, limit, true))
		return nil, metering.NewLimitExceededError(limit)
	}

	result, err := client.Call(ctx, op)
	if err != nil {
		m.metrics.RecordProviderFailure(ctx, providerName, model)
		m.publish(ctx, metering.NewProviderCallFailedEvent(billable, providerName, model, err))
		if m.settings.Logging.LogFailures {
			m.logger.Error("AI provider call failed",
				zap.String("billable", billable.Key()),
				zap.String("provider", providerName),
				zap.String("model", model),
				zap.Error(err))
		}
		return nil, err
	}

	usage := result.Usage
	if opts.ManualUsage != nil {
		usage = *opts.ManualUsage
	}
	usage = m.ensureCosts(providerName, model, usage)

	record, err := m.recorder.Record(ctx, RecordUsageInput{
		Billable:       billable,
		User:           opts.User,
		Tenant:         opts.Tenant,
		Provider:       providerName,
		Model:          model,
		Feature:        opts.Feature,
		Usage:          usage,
		Meta:           opts.Meta,
		IdempotencyKey: opts.IdempotencyKey,
		OccurredAt:     time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	m.metrics.RecordUsage(ctx, providerName, model, usage.Tokens(), usage.Cost())

	// The record is committed, so its events and cache invalidation run
	// even when credits-mode settlement fails.
	billingErr := m.handleBilling(ctx, billable, opts, usage, limit)
	m.dispatchEvents(ctx, billable, record, limit)
	m.clearCaches(ctx, billable)
	if billingErr != nil {
		return nil, billingErr
	}

	return &MeteredResponse{
		Response: result.Response,
		Usage:    usage,
		Limit:    limit,
		Record:   record,
	}, nil
}

func (m *Meter) resolveProviderName(opts CallOptions) (string, string) {
	providerName := opts.Provider
	if providerName == "" {
		providerName = m.settings.DefaultProvider
	}
	model := opts.Model
	if model == "" {
		model = UnknownModel
	}
	return providerName, model
}

func (m *Meter) checkLimits(ctx context.Context, billable metering.BillableRef, opts CallOptions) (metering.LimitCheckResult, error) {
	if billable.IsZero() || m.limiter == nil {
		return metering.UnlimitedResult(), nil
	}
	var manual metering.ProviderUsage
	if opts.ManualUsage != nil {
		manual = *opts.ManualUsage
	}
	return m.limiter.CheckLimit(ctx, billable, manual.TotalTokens, manual.TotalCost)
}

func (m *Meter) ensureCosts(providerName, model string, usage metering.ProviderUsage) metering.ProviderUsage {
	if usage.HasCost() {
		return usage
	}
	costs := m.costs.Calculate(providerName, model, usage.InputTokens, usage.OutputTokens, usage.TotalTokens)
	if !costs.Priced {
		m.logger.Warn("No pricing configured, recording zero cost",
			zap.String("provider", providerName),
			zap.String("model", model))
	}
	return usage.WithCosts(costs)
}

// handleBilling settles the call. Failures are fatal only for credits mode.
func (m *Meter) handleBilling(ctx context.Context, billable metering.BillableRef, opts CallOptions, usage metering.ProviderUsage, limit metering.LimitCheckResult) error {
	if billable.IsZero() {
		return nil
	}
	err := m.billing.HandleUsage(ctx, billable, usage.Cost(), usage.Tokens(), limit, usage.CurrencyOrDefault())
	if err == nil {
		return nil
	}

	mode := opts.BillingMode
	if mode == "" && m.resolver != nil {
		resolved, resolveErr := m.resolver.BillingMode(ctx, billable)
		if resolveErr != nil {
			m.logger.Warn("Failed to resolve billing mode",
				zap.String("billable", billable.Key()),
				zap.Error(resolveErr))
		}
		mode = resolved
	}

	m.metrics.RecordBillingFailure(ctx, mode)
	if m.settings.Logging.LogFailures {
		m.logger.Error("AI usage billing failed",
			zap.String("billable", billable.Key()),
			zap.String("billing_mode", mode.String()),
			zap.String("cost", usage.Cost().String()),
			zap.Error(err))
	}

	if mode == metering.BillingModeCredits {
		return err
	}
	return nil
}

func (m *Meter) dispatchEvents(ctx context.Context, billable metering.BillableRef, record *metering.UsageRecord, limit metering.LimitCheckResult) {
	events := make([]shared.DomainEvent, 0, 3)
	if record != nil {
		events = append(events, metering.NewUsageRecordedEvent(record))
	}
	if !billable.IsZero() {
		if limit.Approaching {
			events = append(events, metering.NewLimitApproachingEvent(billable, limit))
		}
		if limit.HardLimitReached {
			events = append(events, metering.NewLimitReachedEvent(billable, limit, false))
		}
	}
	m.publish(ctx, events...)
}

func (m *Meter) clearCaches(ctx context.Context, billable metering.BillableRef) {
	if m.limiter != nil {
		m.limiter.ClearCache(ctx, billable)
	}
	if m.resolver != nil {
		m.resolver.ClearCache(ctx, billable)
	}
}

func (m *Meter) publish(ctx context.Context, events ...shared.DomainEvent) {
	if m.events == nil || len(events) == 0 {
		return
	}
	if err := m.events.Publish(ctx, events...); err != nil {
		m.logger.Warn("Failed to publish metering events", zap.Error(err))
	}
}
