package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormOverageRepository_AddToOpen(t *testing.T) {
	ctx := context.Background()
	db := setupMeteringTestDB(t)
	repo := NewGormOverageRepository(db)
	march := metering.BillingPeriod{Start: utc(2024, 3, 1), End: utc(2024, 4, 1)}

	first, err := repo.AddToOpen(ctx, teamA, march, 1000, decimal.RequireFromString("0.25"), "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first.Tokens)

	second, err := repo.AddToOpen(ctx, teamA, march, 500, decimal.RequireFromString("0.5"), "usd")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1500), second.Tokens)
	assert.True(t, second.Cost.Equal(decimal.RequireFromString("0.75")), "cost %s", second.Cost)

	require.NoError(t, repo.MarkSynced(ctx, second, "ii_1", time.Now()))

	third, err := repo.AddToOpen(ctx, teamA, march, 10, decimal.RequireFromString("0.25"), "usd")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, int64(10), third.Tokens)
}

func TestGormOverageRepository_FindUnsynced(t *testing.T) {
	ctx := context.Background()
	db := setupMeteringTestDB(t)
	repo := NewGormOverageRepository(db)
	march := metering.BillingPeriod{Start: utc(2024, 3, 1), End: utc(2024, 4, 1)}

	open, err := metering.NewOverage(teamA, march, 100, decimal.RequireFromString("0.5"), "usd")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, open))

	free, err := metering.NewOverage(teamB, march, 100, decimal.Zero, "usd")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, free))

	synced, err := metering.NewOverage(teamB, march, 100, decimal.RequireFromString("0.25"), "usd")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, synced))
	require.NoError(t, repo.MarkSynced(ctx, synced, "ii_2", time.Now()))

	pending, err := repo.FindUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].ID)
	assert.False(t, pending[0].IsSynced())
}

func TestGormOverageRepository_MarkSynced(t *testing.T) {
	ctx := context.Background()
	db := setupMeteringTestDB(t)
	repo := NewGormOverageRepository(db)

	t.Run("unknown overage", func(t *testing.T) {
		missing := &metering.Overage{BaseEntity: shared.BaseEntity{ID: uuid.New()}}
		err := repo.MarkSynced(ctx, missing, "ii_3", time.Now())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("increments after the read stay billable", func(t *testing.T) {
		april := metering.BillingPeriod{Start: utc(2024, 4, 1), End: utc(2024, 5, 1)}
		_, err := repo.AddToOpen(ctx, teamB, april, 1000, decimal.RequireFromString("1.00"), "usd")
		require.NoError(t, err)

		pending, err := repo.FindUnsynced(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		charged := pending[0]

		// Usage lands between the charge and the close
		_, err = repo.AddToOpen(ctx, teamB, april, 400, decimal.RequireFromString("0.40"), "usd")
		require.NoError(t, err)

		require.NoError(t, repo.MarkSynced(ctx, charged, "ii_4", time.Now()))

		var closed models.OverageModel
		require.NoError(t, db.First(&closed, "id = ?", charged.ID).Error)
		assert.NotNil(t, closed.SyncedAt)
		assert.Equal(t, int64(1000), closed.Tokens)
		assert.True(t, closed.Cost.Equal(decimal.RequireFromString("1.00")), "cost %s", closed.Cost)

		remaining, err := repo.FindUnsynced(ctx, 10)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.NotEqual(t, charged.ID, remaining[0].ID)
		assert.Equal(t, int64(400), remaining[0].Tokens)
		assert.True(t, remaining[0].Cost.Equal(decimal.RequireFromString("0.40")), "cost %s", remaining[0].Cost)
		assert.True(t, remaining[0].PeriodStart.Equal(april.Start))

		next, err := repo.AddToOpen(ctx, teamB, april, 100, decimal.RequireFromString("0.10"), "usd")
		require.NoError(t, err)
		assert.Equal(t, remaining[0].ID, next.ID)
		assert.Equal(t, int64(500), next.Tokens)
	})

	t.Run("marking twice is a no-op", func(t *testing.T) {
		march := metering.BillingPeriod{Start: utc(2024, 3, 1), End: utc(2024, 4, 1)}
		overage, err := repo.AddToOpen(ctx, teamA, march, 10, decimal.RequireFromString("0.01"), "usd")
		require.NoError(t, err)
		require.NoError(t, repo.MarkSynced(ctx, overage, "ii_5", time.Now()))
		require.NoError(t, repo.MarkSynced(ctx, overage, "ii_6", time.Now()))

		var closed models.OverageModel
		require.NoError(t, db.First(&closed, "id = ?", overage.ID).Error)
		assert.Equal(t, "ii_5", closed.ExternalChargeID)
	})
}
