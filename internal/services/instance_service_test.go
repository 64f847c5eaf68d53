package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/lifecycle"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

func TestSubmitBid(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(openInstance("inst-1", t0))
	ctx := context.Background()

	o, err := env.instances.SubmitBid(ctx, "inst-1", "p1", models.NewCredits(12.5))
	require.NoError(t, err)
	assert.True(t, o.Applied)
	require.Len(t, env.market.Instance("inst-1").Bids, 1)
	assert.Equal(t, models.NewCredits(12.5), env.market.Instance("inst-1").Bids[0].Amount)

	cached, ok := env.instances.Cached("inst-1")
	require.True(t, ok)
	require.Len(t, cached.Bids, 1)
	assert.Equal(t, "p1", cached.Bids[0].ProviderID)
}

func TestSubmitBidOutOfRangeNeverReachesServer(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(openInstance("inst-1", t0))

	_, err := env.instances.SubmitBid(context.Background(), "inst-1", "p1", models.NewCredits(100.01))
	require.ErrorIs(t, err, utils.ErrBidOutOfRange)
	var rangeErr *utils.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, 0, env.market.Hits(http.MethodPost, "/instances/inst-1/bids"))
}

func TestSubmitBidAfterDeadlineIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(openInstance("inst-1", t0))
	env.clock.Add(2 * time.Minute)

	o, err := env.instances.SubmitBid(context.Background(), "inst-1", "p1", models.NewCredits(5))
	require.NoError(t, err)
	assert.False(t, o.Applied)
	assert.Equal(t, lifecycle.ReasonAuctionClosed, o.Reason)
	assert.Equal(t, 0, env.market.Hits(http.MethodPost, "/instances/inst-1/bids"))
}

func TestReportRewardSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(interactingInstance("inst-1", t0.Add(-10*time.Minute), time.Hour))
	ctx := context.Background()

	o, err := env.instances.ReportReward(ctx, "inst-1", models.NewCredits(20))
	require.NoError(t, err)
	require.True(t, o.Applied)
	assert.Equal(t, models.InstanceStatusFinalized, o.To)
	require.NotNil(t, o.Settlement)
	assert.Equal(t, models.NewCredits(110), o.Settlement.RequesterDelta)
	assert.Equal(t, models.NewCredits(-10), o.Settlement.ProviderDelta)

	again, err := env.instances.ReportReward(ctx, "inst-1", models.NewCredits(20))
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, []models.Credits{models.NewCredits(20)}, env.market.RewardReports("inst-1"))

	cached, _ := env.instances.Cached("inst-1")
	assert.Equal(t, *o.Settlement, *cached.Settlement)

	entries, err := env.ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].ProviderID)
	assert.Equal(t, models.NewCredits(-10), entries[0].ProviderDelta)
	assert.Equal(t, models.NewCredits(20), *entries[0].Reward)
}

func TestReportRewardOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(interactingInstance("inst-1", t0.Add(-10*time.Minute), time.Hour))

	_, err := env.instances.ReportReward(context.Background(), "inst-1", models.NewCredits(-1))
	require.ErrorIs(t, err, utils.ErrRewardOutOfRange)
	_, err = env.instances.ReportReward(context.Background(), "inst-1", models.NewCredits(100.5))
	require.ErrorIs(t, err, utils.ErrRewardOutOfRange)
	assert.Equal(t, 0, env.market.Hits(http.MethodPut, "/instances/inst-1/report-reward"))
}

func TestReportRewardRetriesWithOneIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(interactingInstance("inst-1", t0.Add(-10*time.Minute), time.Hour))
	env.market.FailNext(http.MethodPut, "/instances/inst-1/report-reward", http.StatusServiceUnavailable, 2)

	o, err := env.instances.ReportReward(context.Background(), "inst-1", models.NewCredits(40))
	require.NoError(t, err)
	assert.True(t, o.Applied)

	keys := env.market.IdempotencyKeys(http.MethodPut, "/instances/inst-1/report-reward")
	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])
}

func TestReportRewardConflictAdoptsServerState(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(interactingInstance("inst-1", t0.Add(-10*time.Minute), time.Hour))
	env.market.FailNext(http.MethodPut, "/instances/inst-1/report-reward", http.StatusConflict, 1)

	o, err := env.instances.ReportReward(context.Background(), "inst-1", models.NewCredits(40))
	require.NoError(t, err)
	assert.False(t, o.Applied)
	assert.Equal(t, lifecycle.ReasonAlreadyDecided, o.Reason)
}

func TestReportRewardAfterDeadlineSettlesWithoutReward(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(interactingInstance("inst-1", t0.Add(-2*time.Hour), time.Hour))

	inst, err := env.instances.Get(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	require.NotNil(t, inst.Settlement)
	assert.Equal(t, models.NewCredits(20), inst.Settlement.RequesterDelta)
	assert.Equal(t, models.NewCredits(80), inst.Settlement.ProviderDelta)

	o, err := env.instances.ReportReward(context.Background(), "inst-1", models.NewCredits(10))
	require.NoError(t, err)
	assert.False(t, o.Applied)
	assert.Equal(t, 0, env.market.Hits(http.MethodPut, "/instances/inst-1/report-reward"))
}

func TestListFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(openInstance("open-1", t0))
	env.market.AddInstance(interactingInstance("live-1", t0.Add(-10*time.Minute), time.Hour))

	status := models.InstanceStatusOpen
	got, err := env.instances.List(context.Background(), &status)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "open-1", got[0].ID)

	all, err := env.instances.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, env.instances.CachedAll(), 2)
}

func TestCreateInstance(t *testing.T) {
	env := newTestEnv(t)
	env.market.SetNow(env.clock.Now)

	inst, err := env.instances.Create(context.Background(), dtos.CreateInstanceRequest{
		MaxCreditPerInstance: models.NewCredits(5),
		PercentageReward:     60,
		Messages:             []dtos.Message{{Role: "user", Content: "Summarize this thread"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusOpen, inst.Status)
	assert.Equal(t, time.Minute, inst.InstanceTimeout)
	assert.Equal(t, 60, inst.RewardSharePercentage)

	_, err = env.instances.Create(context.Background(), dtos.CreateInstanceRequest{MaxCreditPerInstance: models.NewCredits(5)})
	assert.ErrorIs(t, err, utils.ErrInvalidPayload)
	assert.Equal(t, 1, env.market.Hits(http.MethodPost, "/instances"))
}

func TestInvolvedProviders(t *testing.T) {
	env := newTestEnv(t)
	env.market.AddInstance(interactingInstance("inst-1", t0.Add(-10*time.Minute), time.Hour))

	got, err := env.instances.InvolvedProviders(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = env.instances.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}
