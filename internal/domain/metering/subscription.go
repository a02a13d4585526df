package metering

import (
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// BillingMode selects how consumption is settled
type BillingMode string

const (
	// BillingModePlan settles against a plan allowance with optional overage
	BillingModePlan BillingMode = "plan"
	// BillingModeCredits debits a prepaid credit wallet per call
	BillingModeCredits BillingMode = "credits"
)

// IsValid returns true if the billing mode is known
func (m BillingMode) IsValid() bool {
	return m == BillingModePlan || m == BillingModeCredits
}

// String returns the string representation of BillingMode
func (m BillingMode) String() string {
	return string(m)
}

// Subscription binds a billable entity to a plan for a span of time
type Subscription struct {
	shared.BaseEntity
	Billable          BillableRef
	PlanID            *uuid.UUID
	Plan              *Plan
	BillingMode       BillingMode
	StartedAt         time.Time
	RenewsAt          *time.Time
	EndsAt            *time.Time
	TrialEndsAt       *time.Time
	GracePeriodEndsAt *time.Time
	PreviousPlanID    *uuid.UUID
	Meta              map[string]any
}

// NewSubscription creates a subscription starting now.
// Credits mode requires a plan because the plan still supplies the
// limit structure.
func NewSubscription(billable BillableRef, plan *Plan, mode BillingMode) (*Subscription, error) {
	if billable.IsZero() {
		return nil, shared.NewDomainError("INVALID_BILLABLE", "Subscription requires a billable entity")
	}
	if !mode.IsValid() {
		return nil, shared.NewDomainError("INVALID_BILLING_MODE", "Unknown billing mode: "+string(mode))
	}
	if mode == BillingModeCredits && plan == nil {
		return nil, ErrCreditsModeRequiresPlan
	}
	sub := &Subscription{
		BaseEntity:  shared.NewBaseEntity(),
		Billable:    billable,
		BillingMode: mode,
		StartedAt:   time.Now(),
		Meta:        make(map[string]any),
	}
	if plan != nil {
		id := plan.ID
		sub.PlanID = &id
		sub.Plan = plan
	}
	return sub, nil
}

// IsActive reports whether the subscription is in force at now: it has
// no end, ends in the future, or is still inside its grace period
func (s *Subscription) IsActive(now time.Time) bool {
	if s.EndsAt == nil || now.Before(*s.EndsAt) {
		return true
	}
	return s.IsInGracePeriod(now)
}

// IsInTrial reports whether now is before the trial end
func (s *Subscription) IsInTrial(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}

// IsInGracePeriod reports whether now is before the payment grace deadline
func (s *Subscription) IsInGracePeriod(now time.Time) bool {
	return s.GracePeriodEndsAt != nil && now.Before(*s.GracePeriodEndsAt)
}

// ChangePlan moves the subscription to a new plan and remembers the old one
func (s *Subscription) ChangePlan(plan *Plan, resetStart bool, now time.Time) error {
	if plan == nil {
		return shared.NewDomainError("INVALID_PLAN", "Target plan cannot be nil")
	}
	if !plan.IsActive {
		return ErrPlanInactive
	}
	s.PreviousPlanID = s.PlanID
	id := plan.ID
	s.PlanID = &id
	s.Plan = plan
	if resetStart {
		s.StartedAt = now
	}
	s.UpdatedAt = now
	return nil
}

// MetaString returns a string value from the subscription metadata
func (s *Subscription) MetaString(key string) string {
	if s.Meta == nil {
		return ""
	}
	v, ok := s.Meta[key].(string)
	if !ok {
		return ""
	}
	return v
}

// StripeCustomerID returns the Stripe customer linked to this subscription
func (s *Subscription) StripeCustomerID() string {
	return s.MetaString(MetaStripeCustomerID)
}

// Metadata keys used to link subscriptions to the payment system
const (
	MetaStripeCustomerID     = "stripe_customer_id"
	MetaStripeSubscriptionID = "stripe_subscription_id"
)
