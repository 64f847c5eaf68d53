package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/raulk/clock"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/githubapi"
	"github.com/GroupLang/agent-market-client/internal/lifecycle"
	"github.com/GroupLang/agent-market-client/internal/metrics"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/timewindow"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// SyncReport summarizes one mirror pass.
type SyncReport struct {
	Repositories int
	Issues       int
	Notified     int
}

// GitHubMirrorService binds repositories, lists their mirrored issues and
// keeps the corresponding instances moving through the PR-wait and
// payment-review phases.
type GitHubMirrorService struct {
	api         APIClient
	instances   *InstanceService
	github      *githubapi.Client
	notifier    *NotificationService
	clock       clock.Clock
	concurrency int

	mu       sync.Mutex
	local    map[string]models.RepositoryBinding
	notified map[string]bool
}

func NewGitHubMirrorService(
	api APIClient,
	instances *InstanceService,
	gh *githubapi.Client,
	notifier *NotificationService,
	clk clock.Clock,
) *GitHubMirrorService {
	if clk == nil {
		clk = clock.New()
	}
	return &GitHubMirrorService{
		api:         api,
		instances:   instances,
		github:      gh,
		notifier:    notifier,
		clock:       clk,
		concurrency: constants.MaxConcurrentRepoSyncs,
		local:       map[string]models.RepositoryBinding{},
		notified:    map[string]bool{},
	}
}

func (s *GitHubMirrorService) Windows() timewindow.Durations {
	return s.instances.github.Windows
}

// AddRepository binds a repository so its issues are mirrored.
func (s *GitHubMirrorService) AddRepository(ctx context.Context, b models.RepositoryBinding) error {
	if _, _, err := githubapi.ParseRepoURL(b.RepoURL); err != nil {
		return err
	}
	req := dtos.AddRepositoryRequest{RepoURL: b.RepoURL, DefaultReward: b.DefaultReward}
	if err := dtos.Validate(req); err != nil {
		return err
	}
	if err := s.api.Post(ctx, constants.PathGitHubRepositories, req, nil); err != nil {
		return err
	}
	s.remember(b)
	utils.Logger.WithFields(logrus.Fields{
		"repo_url":       b.RepoURL,
		"default_reward": b.DefaultReward.Plain(),
	}).Info("Repository bound")
	return nil
}

func (s *GitHubMirrorService) RemoveRepository(ctx context.Context, repoURL string) error {
	req := dtos.RemoveRepositoryRequest{RepoURL: repoURL}
	if err := dtos.Validate(req); err != nil {
		return err
	}
	if err := s.api.Delete(ctx, constants.PathGitHubRepositories, req, nil); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return fmt.Errorf("%w: %s", utils.ErrRepositoryNotBound, repoURL)
		}
		return err
	}
	s.mu.Lock()
	delete(s.local, repoURL)
	s.mu.Unlock()
	utils.Logger.WithField("repo_url", repoURL).Info("Repository unbound")
	return nil
}

func (s *GitHubMirrorService) ListRepositories(ctx context.Context) ([]models.RepositoryBinding, error) {
	var resp []dtos.RepositoryResponse
	if err := s.api.Get(ctx, constants.PathGitHubRepositories, &resp); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RepositoryBinding, 0, len(resp))
	for _, r := range resp {
		b := models.RepositoryBinding{
			RepoURL:               r.RepoURL,
			DefaultReward:         r.DefaultReward,
			RewardSharePercentage: constants.DefaultRewardSharePercentage,
		}
		if known, ok := s.local[r.RepoURL]; ok && known.RewardSharePercentage > 0 {
			b.RewardSharePercentage = known.RewardSharePercentage
		}
		out = append(out, b)
	}
	return out, nil
}

// ApplyBindings makes the server's bound repositories match desired:
// missing ones are added and changed default rewards re-posted. With prune
// set, repositories not in desired are unbound.
func (s *GitHubMirrorService) ApplyBindings(ctx context.Context, desired []models.RepositoryBinding, prune bool) ([]string, []string, error) {
	current, err := s.ListRepositories(ctx)
	if err != nil {
		return nil, nil, err
	}
	have := map[string]models.RepositoryBinding{}
	for _, b := range current {
		have[b.RepoURL] = b
	}

	var (
		added, removed []string
		result         *multierror.Error
	)
	want := map[string]bool{}
	for _, b := range desired {
		want[b.RepoURL] = true
		s.remember(b)
		if cur, ok := have[b.RepoURL]; ok && cur.DefaultReward == b.DefaultReward {
			continue
		}
		if err := s.AddRepository(ctx, b); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", b.RepoURL, err))
			continue
		}
		added = append(added, b.RepoURL)
	}
	if prune {
		for _, b := range current {
			if want[b.RepoURL] {
				continue
			}
			if err := s.RemoveRepository(ctx, b.RepoURL); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", b.RepoURL, err))
				continue
			}
			removed = append(removed, b.RepoURL)
		}
	}
	return added, removed, result.ErrorOrNil()
}

func (s *GitHubMirrorService) remember(b models.RepositoryBinding) {
	if b.RewardSharePercentage == 0 {
		b.RewardSharePercentage = constants.DefaultRewardSharePercentage
	}
	s.mu.Lock()
	s.local[b.RepoURL] = b
	s.mu.Unlock()
}

// ListIssues returns the mirrored issues, of one repository or of all when
// repoURL is empty. Anchors the marketplace has not caught up on are read
// from GitHub directly when a GitHub client is configured.
func (s *GitHubMirrorService) ListIssues(ctx context.Context, repoURL string) ([]*models.GitHubIssueBinding, error) {
	repos, err := s.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	terms := lo.KeyBy(repos, func(r models.RepositoryBinding) string { return r.RepoURL })

	q := url.Values{}
	if repoURL != "" {
		q.Set("repo_url", repoURL)
	}
	var resp []dtos.IssueResponse
	if err := s.api.Get(ctx, constants.PathGitHubIssues, &resp, transportQuery(q)...); err != nil {
		return nil, err
	}

	out := make([]*models.GitHubIssueBinding, 0, len(resp))
	for i := range resp {
		b := resp[i].ToModel(terms[resp[i].RepoURL])
		s.enrich(ctx, b)
		s.instances.trackBinding(b)
		if tracked, ok := s.bindingFor(b); ok {
			b = tracked
		}
		out = append(out, b)
	}
	return out, nil
}

// InstanceID returns the instance mirrored from repoURL#issueNumber, once
// the issue has been listed.
func (s *GitHubMirrorService) InstanceID(repoURL string, issueNumber int) (string, bool) {
	return s.instances.instanceForIssue(repoURL, issueNumber)
}

func (s *GitHubMirrorService) bindingFor(b *models.GitHubIssueBinding) (*models.GitHubIssueBinding, bool) {
	if b.InstanceID == nil {
		return nil, false
	}
	return s.instances.binding(*b.InstanceID)
}

func (s *GitHubMirrorService) enrich(ctx context.Context, b *models.GitHubIssueBinding) {
	if s.github == nil || (b.PRCreatedAt != nil && b.IssueClosedAt != nil) {
		return
	}
	// Past the PR cutoff without a PR, nothing GitHub says can change the
	// outcome.
	if b.PRCreatedAt == nil && s.Classify(b).Phase == timewindow.PhaseExpired {
		return
	}
	is, err := s.github.GetIssue(ctx, b.RepoURL, b.IssueNumber)
	if err != nil {
		utils.Logger.WithError(err).WithField("issue", b.Key()).Warn("Failed to read issue from GitHub")
		return
	}
	if b.PRCreatedAt == nil {
		b.PRCreatedAt = is.PRCreatedAt
	}
	if b.IssueClosedAt == nil {
		b.IssueClosedAt = is.ClosedAt
	}
	if b.Title == "" {
		b.Title = is.Title
	}
}

// Classify derives the issue's current phase and time remaining.
func (s *GitHubMirrorService) Classify(b *models.GitHubIssueBinding) timewindow.Classification {
	return s.instances.github.Classify(b, s.clock.Now())
}

// SyncRepository reconciles every mirrored instance of one repository and
// sends review-window notices for issues that just entered review.
func (s *GitHubMirrorService) SyncRepository(ctx context.Context, repoURL string) (int, int, error) {
	issues, err := s.ListIssues(ctx, repoURL)
	if err != nil {
		return 0, 0, err
	}

	var (
		result   *multierror.Error
		notified int
	)
	for _, b := range issues {
		if b.InstanceID == nil {
			continue
		}
		if _, err := s.instances.Get(ctx, *b.InstanceID); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", b.Key(), err))
			continue
		}
		if s.notifyIfInReview(ctx, b) {
			notified++
		}
	}
	return len(issues), notified, result.ErrorOrNil()
}

// SyncAll runs SyncRepository for every bound repository, a few at a time.
// Errors from individual repositories are collected rather than aborting
// the pass.
func (s *GitHubMirrorService) SyncAll(ctx context.Context) (*SyncReport, error) {
	repos, err := s.ListRepositories(ctx)
	if err != nil {
		metrics.MirrorSyncs.WithLabelValues("failure").Inc()
		return nil, err
	}

	var (
		mu     sync.Mutex
		report = &SyncReport{Repositories: len(repos)}
		result *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, r := range repos {
		repoURL := r.RepoURL
		g.Go(func() error {
			issues, notified, err := s.SyncRepository(gctx, repoURL)
			mu.Lock()
			defer mu.Unlock()
			report.Issues += issues
			report.Notified += notified
			if err != nil {
				metrics.MirrorSyncs.WithLabelValues("failure").Inc()
				result = multierror.Append(result, fmt.Errorf("%s: %w", repoURL, err))
				return nil
			}
			metrics.MirrorSyncs.WithLabelValues("success").Inc()
			return nil
		})
	}
	_ = g.Wait()

	utils.Logger.WithFields(logrus.Fields{
		"repositories": report.Repositories,
		"issues":       report.Issues,
		"notified":     report.Notified,
	}).Info("Mirror sync finished")
	return report, result.ErrorOrNil()
}

func (s *GitHubMirrorService) notifyIfInReview(ctx context.Context, b *models.GitHubIssueBinding) bool {
	if !s.notifier.Enabled() || b.PaymentBlocked {
		return false
	}
	c := s.Classify(b)
	if c.Phase != timewindow.PhaseInReview {
		return false
	}
	s.mu.Lock()
	if s.notified[b.Key()] {
		s.mu.Unlock()
		return false
	}
	s.notified[b.Key()] = true
	s.mu.Unlock()

	if err := s.notifier.ReviewWindowOpen(ctx, b, c.Remaining); err != nil {
		utils.Logger.WithError(err).WithField("issue", b.Key()).Warn("Review notice partly failed")
	}
	return true
}

// BlockPayment withholds the provider's payment for a mirrored issue. It
// is accepted only while the review window is open; a repeat or late call
// is a no-op.
func (s *GitHubMirrorService) BlockPayment(ctx context.Context, repoURL string, issueNumber int) (lifecycle.Outcome, error) {
	req := dtos.BlockPaymentRequest{RepoURL: repoURL, IssueNumber: issueNumber}
	if err := dtos.Validate(req); err != nil {
		return lifecycle.Outcome{}, err
	}

	issues, err := s.ListIssues(ctx, repoURL)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	var b *models.GitHubIssueBinding
	for _, is := range issues {
		if is.RepoURL == repoURL && is.IssueNumber == issueNumber {
			b = is
			break
		}
	}
	if b == nil || b.InstanceID == nil {
		return lifecycle.Outcome{}, fmt.Errorf("%w: %s#%d is not mirrored", utils.ErrNotFound, repoURL, issueNumber)
	}
	id := *b.InstanceID

	inst, err := s.instances.Get(ctx, id)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	ev := lifecycle.GitHubEvent{Kind: lifecycle.GitHubBlockPayment, At: s.clock.Now()}
	dry, err := s.instances.github.Transition(inst.Clone(), b.Clone(), ev)
	if err != nil || !dry.Applied {
		return dry, err
	}

	if err := s.api.Post(ctx, constants.PathGitHubBlock, req, nil); err != nil {
		if errors.Is(err, utils.ErrConflict) {
			return s.instances.conflictNoop(ctx, id, lifecycle.ReasonAlreadyDecided)
		}
		return lifecycle.Outcome{}, err
	}

	o, err := s.instances.applyGitHub(ctx, id, ev)
	if err == nil && o.Applied {
		utils.Logger.WithFields(logrus.Fields{
			"issue":       b.Key(),
			"instance_id": id,
		}).Info("Payment blocked")
	}
	return o, err
}
