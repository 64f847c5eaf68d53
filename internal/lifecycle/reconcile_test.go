package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

func TestReconcileServerSelectedInstance(t *testing.T) {
	m := Machine{}
	inst := newDirect()
	inst.Status = models.InstanceStatusSelected
	inst.Bids = []models.Bid{bid("p1", 40, time.Second), bid("p2", 30, 2*time.Second)}
	inst.WinningProviders = []string{"p2"}

	outs := m.Reconcile(inst, created.Add(2*time.Minute))
	require.Len(t, outs, 1)
	assert.Equal(t, models.InstanceStatusInteracting, inst.Status)
	require.NotNil(t, inst.AcceptedBid)
	assert.Equal(t, "p2", inst.AcceptedBid.ProviderID, "server-reported winners restrict the candidates")
	require.NotNil(t, inst.InteractionStartedAt)
	assert.Equal(t, inst.AuctionDeadline(), *inst.InteractionStartedAt)
	require.Len(t, inst.Conversations, 1)
}

func TestReconcileServerFinalizedComputesSettlement(t *testing.T) {
	m := Machine{}
	inst := newDirect()
	inst.Status = models.InstanceStatusFinalized
	inst.Bids = []models.Bid{bid("p1", 20, time.Second)}
	inst.RewardSharePercentage = 50
	inst.Reward = utils.Ptr(cr(20))

	outs := m.Reconcile(inst, created.Add(time.Hour))
	assert.Empty(t, outs)
	require.NotNil(t, inst.Settlement)
	assert.Equal(t, cr(-10), inst.Settlement.ProviderDelta)
	assert.Equal(t, cr(110), inst.Settlement.RequesterDelta)
	require.NotNil(t, inst.SettledAt)
}

func TestReconcileResolvedDirectFinalizes(t *testing.T) {
	m := Machine{}
	inst := newDirect()
	inst.Status = models.InstanceStatusResolved
	inst.Bids = []models.Bid{bid("p1", 20, time.Second)}
	resolvedAt := created.Add(10 * time.Minute)
	inst.ResolvedAt = &resolvedAt

	outs := m.Reconcile(inst, created.Add(time.Hour))
	require.Len(t, outs, 1)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	assert.Equal(t, resolvedAt, *inst.SettledAt)
	assert.Equal(t, cr(80), inst.Settlement.ProviderDelta)
	assert.Equal(t, inst.MaxCredit, inst.Settlement.Total())
}

func TestReconcileFailedRefunds(t *testing.T) {
	inst := newDirect()
	inst.Status = models.InstanceStatusFailed

	Machine{}.Reconcile(inst, created.Add(time.Hour))
	require.NotNil(t, inst.Settlement)
	assert.Equal(t, inst.MaxCredit, inst.Settlement.RequesterDelta)
	assert.Equal(t, models.Credits(0), inst.Settlement.ProviderDelta)
}

func TestReconcileOpenPastDeadlineAdvances(t *testing.T) {
	m := Machine{}
	inst := newDirect()
	inst.Bids = []models.Bid{bid("p1", 20, time.Second)}

	outs := m.Reconcile(inst, created.Add(2*time.Hour))
	require.Len(t, outs, 2)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	assert.Nil(t, inst.Reward, "silence keeps the reward absent")
	assert.Equal(t, cr(80), inst.Settlement.ProviderDelta)
}

func TestGitHubReconcileBlockedFinalized(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := newGitHub()
	inst.Status = models.InstanceStatusFinalized
	inst.Reward = utils.Ptr(cr(80))
	b.PaymentBlocked = true

	g.Reconcile(inst, b, created.Add(time.Hour))
	require.NotNil(t, inst.Settlement)
	assert.Equal(t, models.Credits(0), inst.Settlement.ProviderDelta)
	assert.Equal(t, inst.MaxCredit, inst.Settlement.RequesterDelta)
}

func TestGitHubReconcileBlockedResolvedFinalizes(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := newGitHub()
	inst.Status = models.InstanceStatusResolved
	inst.Reward = utils.Ptr(cr(80))
	inst.ResolvedAt = utils.Ptr(created.Add(10 * time.Hour))
	b.PRCreatedAt = utils.Ptr(created.Add(5 * time.Hour))
	b.IssueClosedAt = utils.Ptr(created.Add(10 * time.Hour))
	b.PaymentBlocked = true

	outs := g.Reconcile(inst, b, created.Add(12*time.Hour))
	require.Len(t, outs, 1)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	assert.Equal(t, created.Add(12*time.Hour), *inst.SettledAt)
	assert.Equal(t, models.Credits(0), inst.Settlement.ProviderDelta)
	assert.Equal(t, inst.MaxCredit, inst.Settlement.RequesterDelta)
}
