package metering

import (
	"context"
	"testing"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func reportRecord(t *testing.T, billable metering.BillableRef, provider, model string, tokens int64, cost string) *metering.UsageRecord {
	t.Helper()
	usage := metering.ProviderUsage{
		TotalTokens: metering.Int64Ptr(tokens),
		TotalCost:   metering.DecimalPtr(decimal.RequireFromString(cost)),
	}
	r, err := metering.NewUsageRecord(billable, provider, model, usage, time.Now())
	require.NoError(t, err)
	return r
}

func TestReportService_Generate_ForBillable(t *testing.T) {
	repo := new(MockUsageRecordRepository)
	service, err := NewReportService(repo, testSettings(), nil)
	require.NoError(t, err)
	ctx := context.Background()
	billable := testBillable()

	records := []*metering.UsageRecord{
		reportRecord(t, billable, "openai", "gpt-4", 100, "0.10"),
		reportRecord(t, billable, "openai", "gpt-4", 200, "0.20"),
		reportRecord(t, billable, "anthropic", "claude-3", 50, "0.05"),
	}
	repo.On("Find", ctx, mock.MatchedBy(func(f metering.UsageRecordFilter) bool {
		return f.Billable != nil && *f.Billable == billable && f.From != nil && f.To != nil
	})).Return(records, nil)

	report, err := service.Generate(ctx, &billable, ReportPeriodCurrent)

	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Totals.Calls)
	assert.Equal(t, int64(350), report.Totals.Tokens)
	assert.Equal(t, "0.35", report.Totals.Cost.String())
	require.Len(t, report.ByModel, 2)
	assert.Equal(t, "anthropic/claude-3", report.ByModel[0].Key)
	assert.Equal(t, "openai/gpt-4", report.ByModel[1].Key)
	assert.Equal(t, int64(2), report.ByModel[1].Calls)
	assert.Empty(t, report.TopBillables)
}

func TestReportService_Generate_Global(t *testing.T) {
	repo := new(MockUsageRecordRepository)
	service, err := NewReportService(repo, testSettings(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	cheap := metering.BillableRef{Type: "team", ID: "1"}
	pricey := metering.BillableRef{Type: "team", ID: "2"}
	records := []*metering.UsageRecord{
		reportRecord(t, cheap, "openai", "gpt-4", 10, "0.01"),
		reportRecord(t, pricey, "openai", "gpt-4", 1000, "1.00"),
		reportRecord(t, metering.BillableRef{}, "openai", "gpt-4", 5, "0.50"),
	}
	repo.On("Find", ctx, mock.MatchedBy(func(f metering.UsageRecordFilter) bool {
		return f.Billable == nil
	})).Return(records, nil)

	report, err := service.Generate(ctx, nil, ReportPeriodPrevious)

	require.NoError(t, err)
	require.Len(t, report.TopBillables, 2)
	assert.Equal(t, "team:2", report.TopBillables[0].Key)
	assert.Equal(t, "team:1", report.TopBillables[1].Key)
	assert.True(t, report.Period.End.Before(time.Now()) || report.Period.End.Equal(time.Now()))
}

func TestReportService_Generate_UnknownPeriod(t *testing.T) {
	service, err := NewReportService(new(MockUsageRecordRepository), testSettings(), nil)
	require.NoError(t, err)

	_, err = service.Generate(context.Background(), nil, ReportPeriod("next"))

	assert.Error(t, err)
}
