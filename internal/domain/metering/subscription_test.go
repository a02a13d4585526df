package metering

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBillable() BillableRef {
	return BillableRef{Type: "team", ID: "42"}
}

func testPlan(t *testing.T) *Plan {
	t.Helper()
	plan, err := NewPlan("Pro", "pro")
	require.NoError(t, err)
	return plan.WithTokenLimit(10000)
}

func TestNewBillableRef(t *testing.T) {
	t.Run("trims and validates", func(t *testing.T) {
		ref, err := NewBillableRef(" team ", " 7 ")
		require.NoError(t, err)
		assert.Equal(t, "team:7", ref.Key())
	})

	t.Run("rejects empty parts", func(t *testing.T) {
		_, err := NewBillableRef("", "7")
		assert.Error(t, err)
		_, err = NewBillableRef("team", " ")
		assert.Error(t, err)
	})
}

func TestResolveBillable(t *testing.T) {
	explicit := BillableRef{Type: "team", ID: "1"}
	tenant := BillableRef{Type: "tenant", ID: "2"}
	user := BillableRef{Type: "user", ID: "3"}

	assert.Equal(t, explicit, ResolveBillable(explicit, tenant, user))
	assert.Equal(t, tenant, ResolveBillable(BillableRef{}, tenant, user))
	assert.Equal(t, user, ResolveBillable(BillableRef{}, BillableRef{}, user))
	assert.True(t, ResolveBillable(BillableRef{}, BillableRef{}, BillableRef{}).IsZero())
}

func TestPlan_Helpers(t *testing.T) {
	plan, err := NewPlan("Free", "free")
	require.NoError(t, err)

	assert.True(t, plan.IsActive)
	assert.True(t, plan.HasUnlimitedTokens())
	assert.True(t, plan.HasUnlimitedCost())
	assert.False(t, plan.AllowsOverage())

	plan.WithTokenLimit(5000).WithCostLimit(decimal.NewFromInt(10)).WithOveragePrice(decimal.RequireFromString("0.002"))
	assert.False(t, plan.HasUnlimitedTokens())
	assert.False(t, plan.HasUnlimitedCost())
	assert.True(t, plan.AllowsOverage())

	plan.Deactivate()
	assert.False(t, plan.IsActive)
}

func TestNewSubscription(t *testing.T) {
	t.Run("credits mode requires a plan", func(t *testing.T) {
		sub, err := NewSubscription(testBillable(), nil, BillingModeCredits)
		assert.ErrorIs(t, err, ErrCreditsModeRequiresPlan)
		assert.Nil(t, sub)
	})

	t.Run("plan mode without plan is allowed", func(t *testing.T) {
		sub, err := NewSubscription(testBillable(), nil, BillingModePlan)
		require.NoError(t, err)
		assert.Nil(t, sub.PlanID)
	})

	t.Run("links the plan", func(t *testing.T) {
		plan := testPlan(t)
		sub, err := NewSubscription(testBillable(), plan, BillingModeCredits)
		require.NoError(t, err)
		require.NotNil(t, sub.PlanID)
		assert.Equal(t, plan.ID, *sub.PlanID)
		assert.Equal(t, BillingModeCredits, sub.BillingMode)
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		_, err := NewSubscription(testBillable(), nil, BillingMode("barter"))
		assert.Error(t, err)
	})
}

func TestSubscription_IsActive(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		endsAt *time.Time
		grace  *time.Time
		active bool
	}{
		{"open ended", nil, nil, true},
		{"ends in future", &future, nil, true},
		{"ended", &past, nil, false},
		{"ended but in grace", &past, &future, true},
		{"ended and grace over", &past, &past, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := NewSubscription(testBillable(), nil, BillingModePlan)
			require.NoError(t, err)
			sub.EndsAt = tt.endsAt
			sub.GracePeriodEndsAt = tt.grace
			assert.Equal(t, tt.active, sub.IsActive(now))
		})
	}
}

func TestSubscription_TrialAndGrace(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	sub, err := NewSubscription(testBillable(), nil, BillingModePlan)
	require.NoError(t, err)

	assert.False(t, sub.IsInTrial(now))
	assert.False(t, sub.IsInGracePeriod(now))

	sub.TrialEndsAt = &future
	sub.GracePeriodEndsAt = &future
	assert.True(t, sub.IsInTrial(now))
	assert.True(t, sub.IsInGracePeriod(now))
}

func TestSubscription_ChangePlan(t *testing.T) {
	oldPlan := testPlan(t)
	sub, err := NewSubscription(testBillable(), oldPlan, BillingModePlan)
	require.NoError(t, err)
	startedAt := sub.StartedAt

	t.Run("rejects inactive plan", func(t *testing.T) {
		inactive, err := NewPlan("Legacy", "legacy")
		require.NoError(t, err)
		inactive.Deactivate()
		assert.ErrorIs(t, sub.ChangePlan(inactive, false, time.Now()), ErrPlanInactive)
	})

	t.Run("keeps start date", func(t *testing.T) {
		newPlan, err := NewPlan("Team", "team")
		require.NoError(t, err)
		require.NoError(t, sub.ChangePlan(newPlan, false, time.Now()))

		assert.Equal(t, oldPlan.ID, *sub.PreviousPlanID)
		assert.Equal(t, newPlan.ID, *sub.PlanID)
		assert.Equal(t, startedAt, sub.StartedAt)
	})

	t.Run("resets start date", func(t *testing.T) {
		newPlan, err := NewPlan("Scale", "scale")
		require.NoError(t, err)
		now := time.Now().Add(time.Minute)
		require.NoError(t, sub.ChangePlan(newPlan, true, now))
		assert.Equal(t, now, sub.StartedAt)
	})
}

func TestSubscription_StripeCustomerID(t *testing.T) {
	sub, err := NewSubscription(testBillable(), nil, BillingModePlan)
	require.NoError(t, err)
	assert.Empty(t, sub.StripeCustomerID())

	sub.Meta[MetaStripeCustomerID] = "cus_123"
	sub.Meta["broken"] = 12
	assert.Equal(t, "cus_123", sub.StripeCustomerID())
	assert.Empty(t, sub.MetaString("broken"))
}

func TestUsageLimitOverride(t *testing.T) {
	period := BillingPeriod{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("covers only when spanning the whole period", func(t *testing.T) {
		full, err := NewUsageLimitOverride(testBillable(), period.Start, period.End)
		require.NoError(t, err)
		assert.True(t, full.Covers(period))

		partial, err := NewUsageLimitOverride(testBillable(), period.Start.AddDate(0, 0, 1), period.End)
		require.NoError(t, err)
		assert.False(t, partial.Covers(period))
	})

	t.Run("rejects inverted window", func(t *testing.T) {
		_, err := NewUsageLimitOverride(testBillable(), period.End, period.Start)
		assert.Error(t, err)
	})

	t.Run("limits are merged independently", func(t *testing.T) {
		plan := testPlan(t).WithCostLimit(decimal.NewFromInt(50))
		override, err := NewUsageLimitOverride(testBillable(), period.Start, period.End)
		require.NoError(t, err)
		override.TokenLimit = Int64Ptr(20000)

		tokens, cost := EffectiveLimits(plan, override)
		assert.Equal(t, int64(20000), *tokens)
		assert.True(t, cost.Equal(decimal.NewFromInt(50)))

		tokens, cost = EffectiveLimits(plan, nil)
		assert.Equal(t, int64(10000), *tokens)
		assert.NotNil(t, cost)

		tokens, cost = EffectiveLimits(nil, nil)
		assert.Nil(t, tokens)
		assert.Nil(t, cost)
	})
}
