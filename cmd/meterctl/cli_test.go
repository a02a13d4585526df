package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeServices struct {
	mock.Mock
}

func (f *fakeServices) Sync(ctx context.Context, limit int) (appmetering.OverageSyncResult, error) {
	args := f.Called(ctx, limit)
	return args.Get(0).(appmetering.OverageSyncResult), args.Error(1)
}

func (f *fakeServices) Cleanup(ctx context.Context, days int, dryRun bool) (appmetering.CleanupResult, error) {
	args := f.Called(ctx, days, dryRun)
	return args.Get(0).(appmetering.CleanupResult), args.Error(1)
}

func (f *fakeServices) Generate(ctx context.Context, billable *metering.BillableRef, which appmetering.ReportPeriod) (*appmetering.UsageReport, error) {
	args := f.Called(ctx, billable, which)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appmetering.UsageReport), args.Error(1)
}

func (f *fakeServices) ListActive(ctx context.Context) ([]*metering.Plan, error) {
	args := f.Called(ctx)
	return args.Get(0).([]*metering.Plan), args.Error(1)
}

func (f *fakeServices) MigratePlan(ctx context.Context, input appmetering.MigratePlanInput) (*metering.Subscription, error) {
	args := f.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Subscription), args.Error(1)
}

func (f *fakeServices) Validate(ctx context.Context) (appmetering.ValidationReport, error) {
	args := f.Called(ctx)
	return args.Get(0).(appmetering.ValidationReport), args.Error(1)
}

func executeCLI(t *testing.T, fake *fakeServices, args ...string) (string, error) {
	t.Helper()
	closed := false
	load := func(context.Context, string) (*services, error) {
		return &services{
			overages:   fake,
			retention:  fake,
			reports:    fake,
			plans:      fake,
			validation: fake,
			syncLimit:  25,
			close: func() error {
				closed = true
				return nil
			},
		}, nil
	}

	cmd := newRootCmd(load)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		assert.True(t, closed, "services should be released after the command")
	}
	return stdout.String(), err
}

func TestParseBillable(t *testing.T) {
	ref, err := parseBillable("team:42")
	require.NoError(t, err)
	assert.Equal(t, metering.BillableRef{Type: "team", ID: "42"}, ref)

	_, err = parseBillable("team42")
	assert.Error(t, err)

	_, err = parseBillable("team:")
	assert.Error(t, err)
}

func TestSyncOverages(t *testing.T) {
	t.Run("uses the configured limit", func(t *testing.T) {
		fake := new(fakeServices)
		fake.On("Sync", mock.Anything, 25).Return(appmetering.OverageSyncResult{Synced: 3, Failed: 1}, nil)

		stdout, err := executeCLI(t, fake, "sync-overages")
		require.NoError(t, err)
		assert.Contains(t, stdout, "synced: 3")
		assert.Contains(t, stdout, "failed: 1")
		fake.AssertExpectations(t)
	})

	t.Run("limit flag overrides and json output", func(t *testing.T) {
		fake := new(fakeServices)
		fake.On("Sync", mock.Anything, 5).Return(appmetering.OverageSyncResult{Synced: 5}, nil)

		stdout, err := executeCLI(t, fake, "sync-overages", "--limit", "5", "--json")
		require.NoError(t, err)
		var result appmetering.OverageSyncResult
		require.NoError(t, json.Unmarshal([]byte(stdout), &result))
		assert.Equal(t, 5, result.Synced)
	})
}

func TestCleanup(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("dry run reports matches", func(t *testing.T) {
		fake := new(fakeServices)
		fake.On("Cleanup", mock.Anything, 30, true).Return(appmetering.CleanupResult{
			Cutoff: cutoff, Policy: metering.DeletionPolicyTombstone, Matched: 12, DryRun: true,
		}, nil)

		stdout, err := executeCLI(t, fake, "cleanup", "--days", "30", "--dry-run")
		require.NoError(t, err)
		assert.Contains(t, stdout, "would remove 12 records")
		fake.AssertExpectations(t)
	})

	t.Run("errors are returned", func(t *testing.T) {
		fake := new(fakeServices)
		fake.On("Cleanup", mock.Anything, 0, false).Return(appmetering.CleanupResult{}, errors.New("db down"))

		_, err := executeCLI(t, fake, "cleanup")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})
}

func TestReport(t *testing.T) {
	t.Run("billable report", func(t *testing.T) {
		fake := new(fakeServices)
		team := metering.BillableRef{Type: "team", ID: "7"}
		fake.On("Generate", mock.Anything, &team, appmetering.ReportPeriodPrevious).Return(&appmetering.UsageReport{
			Billable: &team,
			Totals:   metering.UsageTotals{Calls: 4, Tokens: 4000, Cost: decimal.RequireFromString("1.25")},
			ByModel: []appmetering.UsageReportLine{
				{Key: "gpt-4o", Calls: 4, Tokens: 4000, Cost: decimal.RequireFromString("1.25")},
			},
		}, nil)

		stdout, err := executeCLI(t, fake, "report", "--billable", "team:7", "--period", "previous")
		require.NoError(t, err)
		assert.Contains(t, stdout, "usage report: team:7")
		assert.Contains(t, stdout, "tokens: 4000")
		assert.Contains(t, stdout, "gpt-4o")
		fake.AssertExpectations(t)
	})

	t.Run("invalid period is rejected", func(t *testing.T) {
		fake := new(fakeServices)

		_, err := executeCLI(t, fake, "report", "--period", "last-year")
		require.Error(t, err)
		fake.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMigratePlan(t *testing.T) {
	t.Run("requires billable and plan", func(t *testing.T) {
		_, err := executeCLI(t, new(fakeServices), "migrate-plan", "--billable", "team:1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `required flag(s) "plan" not set`)
	})

	t.Run("moves the subscription", func(t *testing.T) {
		fake := new(fakeServices)
		started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		fake.On("MigratePlan", mock.Anything, appmetering.MigratePlanInput{
			Billable:   metering.BillableRef{Type: "team", ID: "1"},
			PlanRef:    "pro",
			ResetStart: true,
		}).Return(&metering.Subscription{
			Plan:      &metering.Plan{Name: "Pro", Slug: "pro"},
			StartedAt: started,
		}, nil)

		stdout, err := executeCLI(t, fake, "migrate-plan", "--billable", "team:1", "--plan", "pro", "--reset-start")
		require.NoError(t, err)
		assert.Contains(t, stdout, "team:1 moved to plan Pro")
		fake.AssertExpectations(t)
	})
}

func TestPlans(t *testing.T) {
	fake := new(fakeServices)
	limit := int64(100000)
	fake.On("ListActive", mock.Anything).Return([]*metering.Plan{
		{Name: "Free", Slug: "free", TokenLimit: &limit},
		{Name: "Enterprise", Slug: "enterprise"},
	}, nil)

	stdout, err := executeCLI(t, fake, "plans")
	require.NoError(t, err)
	assert.Contains(t, stdout, "plans: 2")
	assert.Contains(t, stdout, "tokens=100000")
	assert.Contains(t, stdout, "tokens=unlimited")
}

func TestValidate(t *testing.T) {
	t.Run("clean configuration", func(t *testing.T) {
		fake := new(fakeServices)
		fake.On("Validate", mock.Anything).Return(appmetering.ValidationReport{Warnings: []string{"no plans defined"}}, nil)

		stdout, err := executeCLI(t, fake, "validate")
		require.NoError(t, err)
		assert.Contains(t, stdout, "warning: no plans defined")
		assert.Contains(t, stdout, "configuration ok")
	})

	t.Run("errors fail the command", func(t *testing.T) {
		fake := new(fakeServices)
		fake.On("Validate", mock.Anything).Return(appmetering.ValidationReport{Errors: []string{"unknown provider \"foo\""}}, nil)

		stdout, err := executeCLI(t, fake, "validate")
		require.ErrorIs(t, err, errValidationFailed)
		assert.Contains(t, stdout, "error: unknown provider")
	})
}
