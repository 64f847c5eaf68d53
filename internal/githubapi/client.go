// Package githubapi reads issue and pull-request timestamps straight from
// GitHub so mirrored instances can be classified without waiting for the
// marketplace to catch up.
package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// Issue is the subset of a GitHub issue the mirror cares about.
type Issue struct {
	Number      int
	Title       string
	CreatedAt   time.Time
	ClosedAt    *time.Time
	PRCreatedAt *time.Time
}

type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
}

type Option func(*Client) error

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		c.gh.BaseURL = u
		return nil
	}
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) error {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// NewClient builds a client. An empty token uses unauthenticated access,
// which GitHub limits to 60 requests an hour.
func NewClient(token string, hc *http.Client, opts ...Option) (*Client, error) {
	gh := github.NewClient(hc)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	c := &Client{
		gh:      gh,
		limiter: rate.NewLimiter(rate.Limit(constants.GitHubRequestsPerSecond), constants.GitHubRequestBurst),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ParseRepoURL splits https://github.com/<owner>/<repo>[.git] into its
// owner and name.
func ParseRepoURL(repoURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(repoURL))
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", utils.ErrInvalidRepositoryURL, repoURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", utils.ErrInvalidRepositoryURL, repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// ListIssues returns every issue in the repository (pull requests are
// skipped). Linked PR timestamps are not filled in; see LinkedPRCreatedAt.
func (c *Client) ListIssues(ctx context.Context, repoURL string) ([]*Issue, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []*Issue
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues for %s/%s: %w", owner, name, err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			out = append(out, toIssue(is))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	utils.Logger.WithFields(logrus.Fields{
		"repo":   owner + "/" + name,
		"issues": len(out),
	}).Debug("Listed GitHub issues")
	return out, nil
}

// GetIssue fetches one issue and the creation time of the earliest pull
// request that references it.
func (c *Client) GetIssue(ctx context.Context, repoURL string, number int) (*Issue, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	is, _, err := c.gh.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("fetching %s/%s#%d: %w", owner, name, number, err)
	}
	out := toIssue(is)
	out.PRCreatedAt, err = c.LinkedPRCreatedAt(ctx, repoURL, number)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LinkedPRCreatedAt finds the oldest pull request in the repository that
// mentions the issue. It returns nil when none does.
func (c *Client) LinkedPRCreatedAt(ctx context.Context, repoURL string, number int) (*time.Time, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("repo:%s/%s is:pr \"#%d\"", owner, name, number)
	res, _, err := c.gh.Search.Issues(ctx, query, &github.SearchOptions{
		Sort:        "created",
		Order:       "asc",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("searching PRs for %s/%s#%d: %w", owner, name, number, err)
	}
	if len(res.Issues) == 0 {
		return nil, nil
	}
	t := res.Issues[0].GetCreatedAt().Time
	return &t, nil
}

func toIssue(is *github.Issue) *Issue {
	out := &Issue{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		CreatedAt: is.GetCreatedAt().Time,
	}
	if is.ClosedAt != nil {
		t := is.ClosedAt.Time
		out.ClosedAt = &t
	}
	return out
}
