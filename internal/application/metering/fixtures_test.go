package metering

import (
	"testing"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testBillable() metering.BillableRef {
	return metering.BillableRef{Type: "team", ID: "42"}
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.Pricing = metering.PricingTable{
		"openai": {
			"gpt-4": {
				InputPricePer1K:  decimal.RequireFromString("0.03"),
				OutputPricePer1K: decimal.RequireFromString("0.06"),
			},
		},
	}
	return settings
}

func testPlan(t *testing.T, tokenLimit int64) *metering.Plan {
	t.Helper()
	plan, err := metering.NewPlan("Pro", "pro")
	require.NoError(t, err)
	return plan.WithTokenLimit(tokenLimit)
}

func testSubscription(t *testing.T, plan *metering.Plan, mode metering.BillingMode) *metering.Subscription {
	t.Helper()
	sub, err := metering.NewSubscription(testBillable(), plan, mode)
	require.NoError(t, err)
	return sub
}
