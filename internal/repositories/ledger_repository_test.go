package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

func newMemoryLedger(t *testing.T) LedgerRepository {
	t.Helper()
	repo, err := NewSQLiteLedgerRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(context.Background()))
	t.Cleanup(repo.Close)
	return repo
}

func TestSQLiteLedgerRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger(t)
	settled := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	entry := &models.LedgerEntry{
		InstanceID:     "inst-1",
		Origin:         models.OriginDirect,
		ProviderID:     "prov-a",
		MaxCredit:      models.NewCredits(10),
		Bid:            models.NewCredits(5),
		Reward:         utils.Ptr(models.NewCredits(1)),
		RequesterDelta: models.NewCredits(9),
		ProviderDelta:  models.NewCredits(1),
		SettledAt:      settled,
	}

	inserted, err := repo.Record(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *entry
	dup.ProviderDelta = models.NewCredits(5)
	inserted, err = repo.Record(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted, "second record for the same instance must be ignored")

	got, err := repo.GetByInstanceID(ctx, "inst-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.NewCredits(1), got.ProviderDelta)
	assert.Equal(t, models.NewCredits(1), *got.Reward)
	assert.True(t, got.SettledAt.Equal(settled))
}

func TestSQLiteLedgerNullRewardAndList(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := repo.Record(ctx, &models.LedgerEntry{
		InstanceID:     "b",
		Origin:         models.OriginGitHub,
		MaxCredit:      models.NewCredits(20),
		Blocked:        true,
		RequesterDelta: models.NewCredits(20),
		SettledAt:      base.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = repo.Record(ctx, &models.LedgerEntry{
		InstanceID:     "a",
		Origin:         models.OriginDirect,
		MaxCredit:      models.NewCredits(10),
		Bid:            models.NewCredits(4),
		RequesterDelta: models.NewCredits(4),
		ProviderDelta:  models.NewCredits(6),
		SettledAt:      base,
	})
	require.NoError(t, err)

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].InstanceID)
	assert.Nil(t, entries[0].Reward)
	assert.Equal(t, "b", entries[1].InstanceID)
	assert.True(t, entries[1].Blocked)
	assert.Equal(t, models.OriginGitHub, entries[1].Origin)
}

func TestSQLiteLedgerMissingEntry(t *testing.T) {
	repo := newMemoryLedger(t)
	got, err := repo.GetByInstanceID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, repo.Ping(context.Background()))
}
