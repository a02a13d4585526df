package event

import (
	"context"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MeteringEventTypes lists every event the metering engine publishes
var MeteringEventTypes = []string{
	metering.EventTypeUsageRecorded,
	metering.EventTypeLimitApproaching,
	metering.EventTypeLimitReached,
	metering.EventTypeProviderCallFailed,
	metering.EventTypeCreditsAdded,
	metering.EventTypeCreditsDeducted,
	metering.EventTypeOverageCharged,
	metering.EventTypePlanChanged,
	metering.EventTypeSubscriptionExpired,
}

// LoggingHandler writes one structured line per metering event. Routine
// events are written at level; limit and failure events are written at
// warn or error.
type LoggingHandler struct {
	logger      *zap.Logger
	level       zapcore.Level
	logFailures bool
}

// NewLoggingHandler creates a LoggingHandler
func NewLoggingHandler(logger *zap.Logger, level zapcore.Level, logFailures bool) *LoggingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingHandler{logger: logger.Named("metering.events"), level: level, logFailures: logFailures}
}

// EventTypes implements shared.EventHandler
func (h *LoggingHandler) EventTypes() []string {
	return MeteringEventTypes
}

// Handle implements shared.EventHandler
func (h *LoggingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
		zap.String("billable_type", event.AggregateType()),
		zap.String("billable_id", event.AggregateID()),
	}

	level := h.level
	switch e := event.(type) {
	case *metering.UsageRecordedEvent:
		fields = append(fields,
			zap.String("provider", e.Provider),
			zap.String("model", e.Model),
			zap.Int64("tokens", e.Tokens),
			zap.String("cost", e.Cost.String()),
			zap.String("currency", e.Currency),
		)
	case *metering.LimitApproachingEvent:
		level = zapcore.WarnLevel
		fields = append(fields, zap.Float64("usage_percentage", e.UsagePercentage))
	case *metering.LimitReachedEvent:
		level = zapcore.WarnLevel
		fields = append(fields,
			zap.Float64("usage_percentage", e.UsagePercentage),
			zap.Bool("blocked", e.Blocked),
		)
	case *metering.ProviderCallFailedEvent:
		if !h.logFailures {
			return nil
		}
		level = zapcore.ErrorLevel
		fields = append(fields,
			zap.String("provider", e.Provider),
			zap.String("model", e.Model),
			zap.String("error", e.Error),
		)
	case *metering.CreditsAddedEvent:
		fields = append(fields,
			zap.String("amount", e.Amount.String()),
			zap.String("balance", e.Balance.String()),
			zap.String("reason", e.Reason),
		)
	case *metering.CreditsDeductedEvent:
		fields = append(fields,
			zap.String("amount", e.Amount.String()),
			zap.String("balance", e.Balance.String()),
			zap.String("reason", e.Reason),
		)
	case *metering.OverageChargedEvent:
		fields = append(fields,
			zap.String("amount", e.Amount.String()),
			zap.Int64("tokens", e.Tokens),
			zap.Bool("immediate", e.Immediate),
			zap.String("charge_id", e.ChargeID),
		)
	case *metering.PlanChangedEvent:
		fields = append(fields,
			zap.String("subscription_id", e.SubscriptionID.String()),
			zap.String("new_plan_id", e.NewPlanID.String()),
		)
	case *metering.SubscriptionExpiredEvent:
		fields = append(fields,
			zap.String("subscription_id", e.SubscriptionID.String()),
			zap.String("reason", e.Reason),
		)
	}

	if ce := h.logger.Check(level, "metering event"); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

// EventCounter counts published events by type
type EventCounter interface {
	RecordEvent(ctx context.Context, eventType string)
}

// MetricsHandler forwards every metering event to an EventCounter
type MetricsHandler struct {
	counter EventCounter
}

// NewMetricsHandler creates a MetricsHandler
func NewMetricsHandler(counter EventCounter) *MetricsHandler {
	return &MetricsHandler{counter: counter}
}

// EventTypes implements shared.EventHandler
func (h *MetricsHandler) EventTypes() []string {
	return MeteringEventTypes
}

// Handle implements shared.EventHandler
func (h *MetricsHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.counter.RecordEvent(ctx, event.EventType())
	return nil
}

// RegisterMeteringHandlers subscribes the logging and metrics handlers
func RegisterMeteringHandlers(bus shared.EventSubscriber, handlers ...shared.EventHandler) {
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		bus.Subscribe(handler)
	}
}
