package metering

import (
	"context"
	"testing"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRetentionService_Cleanup(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("deletes with configured retention", func(t *testing.T) {
		repo := new(MockUsageRecordRepository)
		service := NewRetentionService(repo, testSettings(), nil)
		service.now = func() time.Time { return now }
		cutoff := now.AddDate(0, 0, -365)

		repo.On("CountOlderThan", mock.Anything, cutoff).Return(int64(12), nil)
		repo.On("DeleteOlderThan", mock.Anything, cutoff).Return(int64(12), nil)

		result, err := service.Cleanup(context.Background(), 0, false)

		require.NoError(t, err)
		assert.Equal(t, int64(12), result.Matched)
		assert.Equal(t, int64(12), result.Deleted)
		assert.Equal(t, metering.DeletionPolicyHard, result.Policy)
		repo.AssertExpectations(t)
	})

	t.Run("dry run only counts", func(t *testing.T) {
		repo := new(MockUsageRecordRepository)
		service := NewRetentionService(repo, testSettings(), nil)
		service.now = func() time.Time { return now }
		cutoff := now.AddDate(0, 0, -30)

		repo.On("CountOlderThan", mock.Anything, cutoff).Return(int64(4), nil)

		result, err := service.Cleanup(context.Background(), 30, true)

		require.NoError(t, err)
		assert.True(t, result.DryRun)
		assert.Equal(t, int64(4), result.Matched)
		assert.Zero(t, result.Deleted)
		repo.AssertNotCalled(t, "DeleteOlderThan", mock.Anything, mock.Anything)
	})

	t.Run("reports tombstone policy", func(t *testing.T) {
		settings := testSettings()
		settings.Storage.DeletionPolicy = metering.DeletionPolicyTombstone
		repo := new(MockUsageRecordRepository)
		service := NewRetentionService(repo, settings, nil)

		repo.On("CountOlderThan", mock.Anything, mock.Anything).Return(int64(0), nil)

		result, err := service.Cleanup(context.Background(), 0, false)

		require.NoError(t, err)
		assert.Equal(t, metering.DeletionPolicyTombstone, result.Policy)
		repo.AssertNotCalled(t, "DeleteOlderThan", mock.Anything, mock.Anything)
	})
}
