package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/timewindow"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

var ghWindows = timewindow.Durations{PRWait: 48 * time.Hour, Review: 24 * time.Hour}

func newGitHub() (*models.Instance, *models.GitHubIssueBinding) {
	inst := &models.Instance{
		ID:                    "gh-1",
		Origin:                models.OriginGitHub,
		Status:                models.InstanceStatusInteracting,
		MaxCredit:             cr(100),
		RewardSharePercentage: 100,
		CreatedAt:             created,
		InstanceTimeout:       time.Minute,
		AcceptedBid:           &models.Bid{ProviderID: "p1", Amount: cr(20), SubmittedAt: created},
	}
	b := &models.GitHubIssueBinding{
		RepoURL:        "https://github.com/acme/widgets",
		IssueNumber:    7,
		DefaultReward:  cr(80),
		IssueCreatedAt: created,
		InstanceID:     utils.Ptr("gh-1"),
	}
	return inst, b
}

func TestGitHubExpiresWithoutPR(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := newGitHub()

	assert.Empty(t, g.Advance(inst, b, created.Add(47*time.Hour)))

	outs := g.Advance(inst, b, created.Add(48*time.Hour))
	require.Len(t, outs, 1)
	assert.Equal(t, models.InstanceStatusFailed, inst.Status)
	assert.Equal(t, models.Credits(0), inst.Settlement.ProviderDelta)
	assert.Equal(t, cr(100), inst.Settlement.RequesterDelta)
	assert.Equal(t, models.Credits(0), *inst.Reward)
	assert.Equal(t, timewindow.PhaseExpired, g.Classify(b, created.Add(48*time.Hour)).Phase)
}

func closedWithPR(t *testing.T, g GitHubMachine) (*models.Instance, *models.GitHubIssueBinding) {
	t.Helper()
	inst, b := newGitHub()
	_, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubPRLinked, At: created.Add(5 * time.Hour)})
	require.NoError(t, err)
	o, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubIssueClosed, At: created.Add(10 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusResolved, o.To)
	return inst, b
}

func TestGitHubReviewWindowElapsesAndPays(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := closedWithPR(t, g)

	assert.Equal(t, timewindow.PhaseInReview, g.Classify(b, created.Add(11*time.Hour)).Phase)
	assert.Empty(t, g.Advance(inst, b, created.Add(33*time.Hour)))

	outs := g.Advance(inst, b, created.Add(34*time.Hour))
	require.Len(t, outs, 1)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	assert.Equal(t, cr(60), inst.Settlement.ProviderDelta)
	assert.Equal(t, cr(40), inst.Settlement.RequesterDelta)
}

func TestGitHubBlockPayment(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := closedWithPR(t, g)

	o, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubBlockPayment, At: created.Add(12 * time.Hour)})
	require.NoError(t, err)
	require.True(t, o.Applied)
	assert.True(t, b.PaymentBlocked)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	assert.Equal(t, models.Credits(0), inst.Settlement.ProviderDelta)
	assert.Equal(t, cr(100), inst.Settlement.RequesterDelta)

	o, err = g.Transition(inst, b, GitHubEvent{Kind: GitHubBlockPayment, At: created.Add(13 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, o.Applied)
	assert.Equal(t, ReasonAlreadyDecided, o.Reason)

	assert.Empty(t, g.Advance(inst, b, created.Add(40*time.Hour)))
	assert.Equal(t, models.Credits(0), inst.Settlement.ProviderDelta)
}

func TestGitHubBlockBeforeReviewIsRejected(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := newGitHub()

	_, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubBlockPayment, At: created.Add(time.Hour)})
	require.ErrorIs(t, err, utils.ErrOutsideReviewWindow)
	assert.False(t, b.PaymentBlocked)
}

func TestGitHubBlockAfterReviewIsNoop(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := closedWithPR(t, g)

	o, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubBlockPayment, At: created.Add(35 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, o.Applied)
	assert.Equal(t, ReasonAlreadyDecided, o.Reason)
	assert.False(t, b.PaymentBlocked)
}

func TestGitHubDefaultRewardCappedAtMaxCredit(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := newGitHub()
	b.DefaultReward = cr(500)

	_, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubPRLinked, At: created.Add(time.Hour)})
	require.NoError(t, err)
	_, err = g.Transition(inst, b, GitHubEvent{Kind: GitHubIssueClosed, At: created.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, cr(100), *inst.Reward)
}

func TestGitHubAdvanceResolvesFromAnchors(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := newGitHub()
	b.PRCreatedAt = utils.Ptr(created.Add(time.Hour))
	b.IssueClosedAt = utils.Ptr(created.Add(2 * time.Hour))

	outs := g.Advance(inst, b, created.Add(40*time.Hour))
	require.Len(t, outs, 2)
	assert.Equal(t, models.InstanceStatusResolved, outs[0].To)
	assert.Equal(t, models.InstanceStatusFinalized, outs[1].To)
	assert.Equal(t, created.Add(26*time.Hour), *inst.SettledAt)
}

func TestGitHubUsesRepositoryShare(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := newGitHub()
	b.RewardSharePercentage = 40
	_, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubPRLinked, At: created.Add(time.Hour)})
	require.NoError(t, err)
	_, err = g.Transition(inst, b, GitHubEvent{Kind: GitHubIssueClosed, At: created.Add(5 * time.Hour)})
	require.NoError(t, err)

	outs := g.Advance(inst, b, created.Add(30*time.Hour))
	require.Len(t, outs, 1)
	assert.Equal(t, 40, inst.RewardSharePercentage)
	assert.Equal(t, cr(12), inst.Settlement.ProviderDelta)
	assert.Equal(t, cr(88), inst.Settlement.RequesterDelta)
}

func TestGitHubIssueClosedBeforeAuctionCloses(t *testing.T) {
	g := GitHubMachine{Windows: ghWindows}
	inst, b := newGitHub()
	inst.Status = models.InstanceStatusOpen
	inst.AcceptedBid = nil
	inst.InstanceTimeout = 10 * time.Hour
	inst.Bids = []models.Bid{bid("p1", 20, time.Minute)}

	_, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubPRLinked, At: created.Add(time.Hour)})
	require.NoError(t, err)
	o, err := g.Transition(inst, b, GitHubEvent{Kind: GitHubIssueClosed, At: created.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, o.Applied)
	assert.Empty(t, o.Path)
	assert.Equal(t, models.InstanceStatusOpen, inst.Status)
	assert.Nil(t, inst.Reward)

	o, err = g.Transition(inst, b, GitHubEvent{Kind: GitHubBlockPayment, At: created.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, o.Applied)
	assert.Equal(t, ReasonAuctionStillOpen, o.Reason)
	assert.False(t, b.PaymentBlocked)

	assert.Empty(t, g.Advance(inst, b, created.Add(5*time.Hour)))
	assert.Equal(t, models.InstanceStatusOpen, inst.Status)

	outs := g.Advance(inst, b, created.Add(10*time.Hour))
	require.Len(t, outs, 2)
	assert.Equal(t, []models.InstanceStatus{models.InstanceStatusSelected, models.InstanceStatusInteracting}, outs[0].Path)
	assert.Equal(t, models.InstanceStatusResolved, outs[1].To)
	assert.Equal(t, created.Add(10*time.Hour), *inst.ResolvedAt)
	assert.Equal(t, "p1", inst.AcceptedBid.ProviderID)

	outs = g.Advance(inst, b, created.Add(26*time.Hour))
	require.Len(t, outs, 1)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	assert.Equal(t, cr(60), inst.Settlement.ProviderDelta)
	assert.Equal(t, cr(40), inst.Settlement.RequesterDelta)
}
