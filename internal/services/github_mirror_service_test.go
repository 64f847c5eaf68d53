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
	"github.com/GroupLang/agent-market-client/internal/timewindow"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

func strPtr(s string) *string { return &s }

// seedMirroredIssue binds repoURL with a default reward of 80 and mirrors
// issue #7 into instance gh-7. prAfter and closedAfter are offsets from t0;
// zero means the event has not happened.
func seedMirroredIssue(t *testing.T, env *testEnv, m *GitHubMirrorService, prAfter, closedAfter time.Duration) {
	t.Helper()
	seedMirroredIssueFor(t, env, m, models.RepositoryBinding{
		RepoURL:       repoURL,
		DefaultReward: models.NewCredits(80),
	}, prAfter, closedAfter)
}

func seedMirroredIssueFor(t *testing.T, env *testEnv, m *GitHubMirrorService, repo models.RepositoryBinding, prAfter, closedAfter time.Duration) {
	t.Helper()
	require.NoError(t, m.AddRepository(context.Background(), repo))
	env.market.AddInstance(mirroredInstance("gh-7", t0))
	is := dtos.IssueResponse{
		RepoURL:     repoURL,
		IssueNumber: 7,
		Title:       "Crash on empty config",
		InstanceID:  strPtr("gh-7"),
		CreatedAt:   ts(t0),
	}
	if prAfter > 0 {
		is.PRCreatedAt = tsPtr(t0.Add(prAfter))
	}
	if closedAfter > 0 {
		is.ClosedAt = tsPtr(t0.Add(closedAfter))
	}
	env.market.AddIssue(is)
}

func newMirror(env *testEnv, notifier *NotificationService) *GitHubMirrorService {
	return NewGitHubMirrorService(env.api, env.instances, nil, notifier, env.clock)
}

func TestRepositoryBindings(t *testing.T) {
	env := newTestEnv(t)
	m := newMirror(env, nil)
	ctx := context.Background()

	require.NoError(t, m.AddRepository(ctx, models.RepositoryBinding{RepoURL: repoURL, DefaultReward: models.NewCredits(10)}))
	err := m.AddRepository(ctx, models.RepositoryBinding{RepoURL: "acme/widgets"})
	assert.ErrorIs(t, err, utils.ErrInvalidRepositoryURL)

	repos, err := m.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, models.NewCredits(10), repos[0].DefaultReward)
	assert.Equal(t, 100, repos[0].RewardSharePercentage)

	added, removed, err := m.ApplyBindings(ctx, []models.RepositoryBinding{
		{RepoURL: repoURL, DefaultReward: models.NewCredits(10)},
		{RepoURL: otherRepo, DefaultReward: models.NewCredits(3), RewardSharePercentage: 40},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{otherRepo}, added)
	assert.Empty(t, removed)

	repos, err = m.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, 40, repos[0].RewardSharePercentage, "sorted by URL: gadgets first")

	added, removed, err = m.ApplyBindings(ctx, []models.RepositoryBinding{{RepoURL: otherRepo, DefaultReward: models.NewCredits(3)}}, true)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, []string{repoURL}, removed)

	err = m.RemoveRepository(ctx, repoURL)
	assert.ErrorIs(t, err, utils.ErrRepositoryNotBound)
}

func TestBlockPaymentInsideReviewWindow(t *testing.T) {
	env := newTestEnv(t)
	m := newMirror(env, nil)
	seedMirroredIssue(t, env, m, time.Hour, 5*time.Hour)
	env.clock.Set(t0.Add(6 * time.Hour))
	ctx := context.Background()

	issues, err := m.ListIssues(ctx, repoURL)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	c := m.Classify(issues[0])
	assert.Equal(t, timewindow.PhaseInReview, c.Phase)
	assert.Equal(t, 23*time.Hour, c.Remaining)

	o, err := m.BlockPayment(ctx, repoURL, 7)
	require.NoError(t, err)
	require.True(t, o.Applied)
	assert.Equal(t, models.InstanceStatusFinalized, o.To)
	require.NotNil(t, o.Settlement)
	assert.Equal(t, models.NewCredits(100), o.Settlement.RequesterDelta)
	assert.Equal(t, models.Credits(0), o.Settlement.ProviderDelta)

	again, err := m.BlockPayment(ctx, repoURL, 7)
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, lifecycle.ReasonAlreadyDecided, again.Reason)
	assert.Len(t, env.market.Blocks(), 1)

	entry, err := env.ledger.GetByInstanceID(ctx, "gh-7")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Blocked)
	assert.Equal(t, models.OriginGitHub, entry.Origin)
}

func TestBlockPaymentBeforeReview(t *testing.T) {
	env := newTestEnv(t)
	m := newMirror(env, nil)
	seedMirroredIssue(t, env, m, time.Hour, 0)
	env.clock.Set(t0.Add(6 * time.Hour))

	_, err := m.BlockPayment(context.Background(), repoURL, 7)
	require.ErrorIs(t, err, utils.ErrOutsideReviewWindow)
	assert.Equal(t, 0, env.market.Hits(http.MethodPost, "/github/repositories/issues/block"))

	_, err = m.BlockPayment(context.Background(), repoURL, 8)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestBlockPaymentAfterWindowIsNoop(t *testing.T) {
	env := newTestEnv(t)
	m := newMirror(env, nil)
	seedMirroredIssue(t, env, m, time.Hour, 5*time.Hour)
	env.clock.Set(t0.Add(30 * time.Hour))

	o, err := m.BlockPayment(context.Background(), repoURL, 7)
	require.NoError(t, err)
	assert.False(t, o.Applied)
	assert.Equal(t, lifecycle.ReasonAlreadyDecided, o.Reason)
	assert.Equal(t, 0, env.market.Hits(http.MethodPost, "/github/repositories/issues/block"))

	inst, ok := env.instances.Cached("gh-7")
	require.True(t, ok)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	assert.Equal(t, t0.Add(29*time.Hour), *inst.SettledAt)
	assert.Equal(t, models.NewCredits(60), inst.Settlement.ProviderDelta)
	assert.Equal(t, models.NewCredits(40), inst.Settlement.RequesterDelta)
}

func TestSyncSettlesWithRepositoryShare(t *testing.T) {
	env := newTestEnv(t)
	m := newMirror(env, nil)
	seedMirroredIssueFor(t, env, m, models.RepositoryBinding{
		RepoURL:               repoURL,
		DefaultReward:         models.NewCredits(80),
		RewardSharePercentage: 40,
	}, time.Hour, 5*time.Hour)
	env.clock.Set(t0.Add(30 * time.Hour))

	_, _, err := m.SyncRepository(context.Background(), repoURL)
	require.NoError(t, err)

	inst, ok := env.instances.Cached("gh-7")
	require.True(t, ok)
	assert.Equal(t, models.InstanceStatusFinalized, inst.Status)
	assert.Equal(t, models.NewCredits(12), inst.Settlement.ProviderDelta)
	assert.Equal(t, models.NewCredits(88), inst.Settlement.RequesterDelta)

	entry, err := env.ledger.GetByInstanceID(context.Background(), "gh-7")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.NewCredits(12), entry.ProviderDelta)
}

func TestIssueWithoutPRExpiresAndRefunds(t *testing.T) {
	env := newTestEnv(t)
	m := newMirror(env, nil)
	seedMirroredIssue(t, env, m, 0, 0)
	env.clock.Set(t0.Add(49 * time.Hour))

	issues, notified, err := m.SyncRepository(context.Background(), repoURL)
	require.NoError(t, err)
	assert.Equal(t, 1, issues)
	assert.Equal(t, 0, notified)

	inst, ok := env.instances.Cached("gh-7")
	require.True(t, ok)
	assert.Equal(t, models.InstanceStatusFailed, inst.Status)
	assert.Equal(t, t0.Add(48*time.Hour), *inst.SettledAt)

	entry, err := env.ledger.GetByInstanceID(context.Background(), "gh-7")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.NewCredits(100), entry.RequesterDelta)
	assert.Equal(t, models.Credits(0), entry.ProviderDelta)
}

func TestSyncAllNotifiesOncePerIssue(t *testing.T) {
	env := newTestEnv(t)
	email := &fakeEmail{status: http.StatusAccepted}
	notifier := NewNotificationService(NotificationConfig{ToEmail: "req@example.com", FromEmail: "no-reply@agent.market"}, email, nil)
	m := newMirror(env, notifier)
	seedMirroredIssue(t, env, m, time.Hour, 5*time.Hour)
	require.NoError(t, m.AddRepository(context.Background(), models.RepositoryBinding{RepoURL: otherRepo}))
	env.clock.Set(t0.Add(6 * time.Hour))

	report, err := m.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SyncReport{Repositories: 2, Issues: 1, Notified: 1}, report)
	require.Len(t, email.sent, 1)
	assert.Contains(t, email.sent[0].Subject, "#7")

	report, err = m.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Notified)
	assert.Len(t, email.sent, 1)

	inst, _ := env.instances.Cached("gh-7")
	assert.Equal(t, models.InstanceStatusResolved, inst.Status)
}

func TestSyncAllCollectsRepositoryErrors(t *testing.T) {
	env := newTestEnv(t)
	m := newMirror(env, nil)
	seedMirroredIssue(t, env, m, time.Hour, 0)
	require.NoError(t, m.AddRepository(context.Background(), models.RepositoryBinding{RepoURL: otherRepo}))
	env.market.FailNext(http.MethodGet, "/github/repositories/issues", http.StatusNotFound, 1)

	report, err := m.SyncAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.Equal(t, 2, report.Repositories)
}
