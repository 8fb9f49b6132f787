// Package github fetches the optional remote summary of the repository:
// metadata, open issues and open pull requests.
package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cexll/ctxbundle/internal/sanitize"
)

const (
	defaultListLimit = 20
	maxTitleLen      = 120
)

// ErrNotConfigured is returned when no repository or credential is set.
var ErrNotConfigured = errors.New("github summary not configured")

// Item is an open issue or pull request.
type Item struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Labels    []string  `json:"labels,omitempty"`
	Draft     bool      `json:"draft,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	URL       string    `json:"url"`
}

// Summary is the remote state of the repository.
type Summary struct {
	Repository    string    `json:"repository"`
	Description   string    `json:"description"`
	DefaultBranch string    `json:"default_branch"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	OpenIssues    int       `json:"open_issues_count"`
	PushedAt      time.Time `json:"pushed_at"`
	URL           string    `json:"url"`
	Issues        []Item    `json:"issues"`
	PullRequests  []Item    `json:"pull_requests"`
}

// Client reads repository state through the GitHub REST API.
type Client struct {
	api        *gh.Client
	owner      string
	repo       string
	limit      int
	maxRetries int
	delay      time.Duration
	logger     *zap.Logger
}

// NewClient authenticates with the token, or with the GitHub App when no
// token is set.
func NewClient(ctx context.Context, creds Credentials, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	owner, repo, ok := strings.Cut(creds.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, ErrNotConfigured
	}

	token := creds.Token
	if token == "" {
		if creds.AppID == "" || creds.PrivateKey == "" {
			return nil, ErrNotConfigured
		}
		auth := &AppAuth{AppID: creds.AppID, PrivateKey: creds.PrivateKey}
		inst, err := auth.GetInstallationToken(ctx, owner, repo)
		if err != nil {
			return nil, fmt.Errorf("github app auth: %w", err)
		}
		token = inst.Token
		logger.Debug("using GitHub App installation token", zap.Time("expires_at", inst.ExpiresAt))
	}

	return &Client{
		api:        newAPIClient(token),
		owner:      owner,
		repo:       repo,
		limit:      defaultListLimit,
		maxRetries: defaultMaxRetries,
		delay:      defaultInitialDelay,
		logger:     logger,
	}, nil
}

// Fetch loads metadata, issues and pull requests concurrently.
func (c *Client) Fetch(ctx context.Context) (*Summary, error) {
	var (
		summary Summary
		issues  []Item
		pulls   []Item
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.retry(gctx, func() error {
			r, _, err := c.api.Repositories.Get(gctx, c.owner, c.repo)
			if err != nil {
				return fmt.Errorf("get repository: %w", err)
			}
			summary = Summary{
				Repository:    r.GetFullName(),
				Description:   sanitize.Line(r.GetDescription(), 300),
				DefaultBranch: r.GetDefaultBranch(),
				Stars:         r.GetStargazersCount(),
				Forks:         r.GetForksCount(),
				OpenIssues:    r.GetOpenIssuesCount(),
				PushedAt:      r.GetPushedAt().Time,
				URL:           r.GetHTMLURL(),
			}
			return nil
		})
	})
	g.Go(func() error {
		return c.retry(gctx, func() error {
			list, _, err := c.api.Issues.ListByRepo(gctx, c.owner, c.repo, &gh.IssueListByRepoOptions{
				State:       "open",
				Sort:        "updated",
				ListOptions: gh.ListOptions{PerPage: c.limit},
			})
			if err != nil {
				return fmt.Errorf("list issues: %w", err)
			}
			issues = issues[:0]
			for _, is := range list {
				if is.IsPullRequest() {
					continue
				}
				issues = append(issues, Item{
					Number:    is.GetNumber(),
					Title:     sanitize.Line(is.GetTitle(), maxTitleLen),
					Author:    is.GetUser().GetLogin(),
					Labels:    labelNames(is.Labels),
					UpdatedAt: is.GetUpdatedAt().Time,
					URL:       is.GetHTMLURL(),
				})
			}
			return nil
		})
	})
	g.Go(func() error {
		return c.retry(gctx, func() error {
			list, _, err := c.api.PullRequests.List(gctx, c.owner, c.repo, &gh.PullRequestListOptions{
				State:       "open",
				Sort:        "updated",
				Direction:   "desc",
				ListOptions: gh.ListOptions{PerPage: c.limit},
			})
			if err != nil {
				return fmt.Errorf("list pull requests: %w", err)
			}
			pulls = pulls[:0]
			for _, pr := range list {
				pulls = append(pulls, Item{
					Number:    pr.GetNumber(),
					Title:     sanitize.Line(pr.GetTitle(), maxTitleLen),
					Author:    pr.GetUser().GetLogin(),
					Labels:    labelNames(pr.Labels),
					Draft:     pr.GetDraft(),
					UpdatedAt: pr.GetUpdatedAt().Time,
					URL:       pr.GetHTMLURL(),
				})
			}
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary.Issues = issues
	summary.PullRequests = pulls
	c.logger.Debug("fetched GitHub summary",
		zap.String("repository", summary.Repository),
		zap.Int("issues", len(issues)),
		zap.Int("pull_requests", len(pulls)))
	return &summary, nil
}

func (c *Client) retry(ctx context.Context, fn func() error) error {
	return retryWithBackoff(ctx, c.logger, c.maxRetries, c.delay, fn)
}

func labelNames(labels []*gh.Label) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.GetName())
	}
	return out
}
