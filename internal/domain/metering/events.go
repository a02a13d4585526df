package metering

import (
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names
const (
	EventTypeUsageRecorded       = "UsageRecorded"
	EventTypeLimitApproaching    = "LimitApproaching"
	EventTypeLimitReached        = "LimitReached"
	EventTypeProviderCallFailed  = "ProviderCallFailed"
	EventTypeCreditsAdded        = "CreditsAdded"
	EventTypeCreditsDeducted     = "CreditsDeducted"
	EventTypeOverageCharged      = "OverageCharged"
	EventTypePlanChanged         = "PlanChanged"
	EventTypeSubscriptionExpired = "SubscriptionExpired"
)

func newBillableEvent(eventType string, billable BillableRef) shared.BaseDomainEvent {
	return shared.NewBaseDomainEvent(eventType, billable.Type, billable.ID)
}

// UsageRecordedEvent is raised after a usage record is persisted
type UsageRecordedEvent struct {
	shared.BaseDomainEvent
	UsageRecordID uuid.UUID       `json:"usage_record_id"`
	Provider      string          `json:"provider"`
	Model         string          `json:"model"`
	Feature       string          `json:"feature,omitempty"`
	Tokens        int64           `json:"tokens"`
	Cost          decimal.Decimal `json:"cost"`
	Currency      string          `json:"currency"`
}

// NewUsageRecordedEvent creates a UsageRecordedEvent
func NewUsageRecordedEvent(r *UsageRecord) *UsageRecordedEvent {
	return &UsageRecordedEvent{
		BaseDomainEvent: newBillableEvent(EventTypeUsageRecorded, r.Billable),
		UsageRecordID:   r.ID,
		Provider:        r.Provider,
		Model:           r.Model,
		Feature:         r.Feature,
		Tokens:          r.Tokens(),
		Cost:            r.TotalCost,
		Currency:        r.Currency,
	}
}

// LimitApproachingEvent is raised when usage crosses the approaching threshold
type LimitApproachingEvent struct {
	shared.BaseDomainEvent
	UsagePercentage float64          `json:"usage_percentage"`
	RemainingTokens *int64           `json:"remaining_tokens"`
	RemainingCost   *decimal.Decimal `json:"remaining_cost"`
}

// NewLimitApproachingEvent creates a LimitApproachingEvent
func NewLimitApproachingEvent(billable BillableRef, result LimitCheckResult) *LimitApproachingEvent {
	return &LimitApproachingEvent{
		BaseDomainEvent: newBillableEvent(EventTypeLimitApproaching, billable),
		UsagePercentage: result.UsagePercentage,
		RemainingTokens: result.RemainingTokens,
		RemainingCost:   result.RemainingCost,
	}
}

// LimitReachedEvent is raised when a billable hits its hard limit
type LimitReachedEvent struct {
	shared.BaseDomainEvent
	UsagePercentage float64 `json:"usage_percentage"`
	Blocked         bool    `json:"blocked"`
}

// NewLimitReachedEvent creates a LimitReachedEvent
func NewLimitReachedEvent(billable BillableRef, result LimitCheckResult, blocked bool) *LimitReachedEvent {
	return &LimitReachedEvent{
		BaseDomainEvent: newBillableEvent(EventTypeLimitReached, billable),
		UsagePercentage: result.UsagePercentage,
		Blocked:         blocked,
	}
}

// ProviderCallFailedEvent is raised when the metered operation itself fails
type ProviderCallFailedEvent struct {
	shared.BaseDomainEvent
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Error    string `json:"error"`
}

// NewProviderCallFailedEvent creates a ProviderCallFailedEvent
func NewProviderCallFailedEvent(billable BillableRef, provider, model string, cause error) *ProviderCallFailedEvent {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &ProviderCallFailedEvent{
		BaseDomainEvent: newBillableEvent(EventTypeProviderCallFailed, billable),
		Provider:        provider,
		Model:           model,
		Error:           msg,
	}
}

// CreditsAddedEvent is raised when a wallet is credited
type CreditsAddedEvent struct {
	shared.BaseDomainEvent
	WalletID      uuid.UUID       `json:"wallet_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason"`
}

// NewCreditsAddedEvent creates a CreditsAddedEvent
func NewCreditsAddedEvent(w *CreditWallet, tx *CreditTransaction) *CreditsAddedEvent {
	return &CreditsAddedEvent{
		BaseDomainEvent: newBillableEvent(EventTypeCreditsAdded, w.Billable),
		WalletID:        w.ID,
		TransactionID:   tx.ID,
		Amount:          tx.Amount,
		Balance:         w.Balance,
		Currency:        w.Currency,
		Reason:          tx.Reason,
	}
}

// CreditsDeductedEvent is raised when a wallet is debited
type CreditsDeductedEvent struct {
	shared.BaseDomainEvent
	WalletID      uuid.UUID       `json:"wallet_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason"`
}

// NewCreditsDeductedEvent creates a CreditsDeductedEvent
func NewCreditsDeductedEvent(w *CreditWallet, tx *CreditTransaction) *CreditsDeductedEvent {
	return &CreditsDeductedEvent{
		BaseDomainEvent: newBillableEvent(EventTypeCreditsDeducted, w.Billable),
		WalletID:        w.ID,
		TransactionID:   tx.ID,
		Amount:          tx.Amount,
		Balance:         w.Balance,
		Currency:        w.Currency,
		Reason:          tx.Reason,
	}
}

// OverageChargedEvent is raised when plan-mode overage is charged or accumulated
type OverageChargedEvent struct {
	shared.BaseDomainEvent
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Tokens    int64           `json:"tokens"`
	Immediate bool            `json:"immediate"`
	ChargeID  string          `json:"charge_id,omitempty"`
}

// NewOverageChargedEvent creates an OverageChargedEvent
func NewOverageChargedEvent(billable BillableRef, amount decimal.Decimal, currency string, tokens int64, chargeID string) *OverageChargedEvent {
	return &OverageChargedEvent{
		BaseDomainEvent: newBillableEvent(EventTypeOverageCharged, billable),
		Amount:          amount,
		Currency:        currency,
		Tokens:          tokens,
		Immediate:       chargeID != "",
		ChargeID:        chargeID,
	}
}

// PlanChangedEvent is raised when a subscription moves to another plan
type PlanChangedEvent struct {
	shared.BaseDomainEvent
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	PreviousPlanID *uuid.UUID `json:"previous_plan_id"`
	NewPlanID      uuid.UUID  `json:"new_plan_id"`
}

// NewPlanChangedEvent creates a PlanChangedEvent
func NewPlanChangedEvent(sub *Subscription) *PlanChangedEvent {
	event := &PlanChangedEvent{
		BaseDomainEvent: newBillableEvent(EventTypePlanChanged, sub.Billable),
		SubscriptionID:  sub.ID,
		PreviousPlanID:  sub.PreviousPlanID,
	}
	if sub.PlanID != nil {
		event.NewPlanID = *sub.PlanID
	}
	return event
}

// SubscriptionExpiredEvent is raised when a subscription is ended by the payment system
type SubscriptionExpiredEvent struct {
	shared.BaseDomainEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Reason         string    `json:"reason"`
}

// NewSubscriptionExpiredEvent creates a SubscriptionExpiredEvent
func NewSubscriptionExpiredEvent(sub *Subscription, reason string) *SubscriptionExpiredEvent {
	return &SubscriptionExpiredEvent{
		BaseDomainEvent: newBillableEvent(EventTypeSubscriptionExpired, sub.Billable),
		SubscriptionID:  sub.ID,
		Reason:          reason,
	}
}
