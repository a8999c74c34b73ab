// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/orgstat/orgstat/internal/domain"
)

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
type Fetcher interface {
	// AuthenticatedUser returns the login of the token holder. A rejected
	// token surfaces as a domain.AuthError.
	AuthenticatedUser(ctx context.Context) (string, error)
	// ListOrgRepos returns every repository of the organization.
	ListOrgRepos(ctx context.Context, org string) ([]domain.Repo, error)
	// LatestCommitSHA returns the SHA of the newest default-branch commit
	// authored before Jan 1 of year+1, or "" if the repository has no such
	// commit.
	LatestCommitSHA(ctx context.Context, org, repo string, year int) (string, error)
	// CommitReviewStatus reports whether the commit reached the repository
	// through a merged pull request with at least one approving review.
	CommitReviewStatus(ctx context.Context, org, repo, sha string) (bool, error)
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	logger        logrus.FieldLogger
}

// commitPullsQuery looks up the pull requests associated with a single
// commit, together with whether any approving review exists.
type commitPullsQuery struct {
	Repository struct {
		Object struct {
			Commit struct {
				AssociatedPullRequests struct {
					Nodes []struct {
						Merged  bool
						Reviews struct {
							TotalCount int
						} `graphql:"reviews(first: 1, states: [APPROVED])"`
					}
				} `graphql:"associatedPullRequests(first: 10)"`
			} `graphql:"... on Commit"`
		} `graphql:"object(oid: $oid)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
// apiURL overrides the API base address (GitHub Enterprise); empty means
// api.github.com.
func NewGitHubGateway(token, apiURL string, logger logrus.FieldLogger) (Fetcher, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}

	restClient := github.NewClient(httpClient)
	var graphqlClient *githubv4.Client
	if apiURL == "" {
		graphqlClient = githubv4.NewClient(httpClient)
	} else {
		base, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid api url %q: %w", apiURL, err)
		}
		restClient.BaseURL = base
		graphqlClient = githubv4.NewEnterpriseClient(strings.TrimSuffix(apiURL, "/")+"/graphql", httpClient)
	}

	return &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		logger:        logger,
	}, nil
}

// retry runs fn, sleeping until the server-provided reset time on primary or
// secondary rate limits before retrying the same request. Any other error is
// returned to the caller.
func (g *GitHubGateway) retry(ctx context.Context, fn func() (*github.Response, error)) (*github.Response, error) {
	for {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}

		var rateErr *github.RateLimitError
		if errors.As(err, &rateErr) {
			if serr := g.sleepUntil(ctx, rateErr.Rate.Reset.Time); serr != nil {
				return resp, serr
			}
			continue
		}
		var abuseErr *github.AbuseRateLimitError
		if errors.As(err, &abuseErr) {
			wait := 30 * time.Second
			if abuseErr.RetryAfter != nil {
				wait = *abuseErr.RetryAfter
			}
			if serr := g.sleepUntil(ctx, time.Now().Add(wait)); serr != nil {
				return resp, serr
			}
			continue
		}
		return resp, err
	}
}

func (g *GitHubGateway) sleepUntil(ctx context.Context, reset time.Time) error {
	wait := time.Until(reset)
	if wait < 0 {
		wait = time.Second
	}
	g.logger.Warnf("rate limited, sleeping %s until reset", wait.Round(time.Second))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w (%v)", &domain.RateLimitedError{Reset: reset}, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (g *GitHubGateway) AuthenticatedUser(ctx context.Context) (string, error) {
	var user *github.User
	resp, err := g.retry(ctx, func() (*github.Response, error) {
		var rerr error
		var r *github.Response
		user, r, rerr = g.restClient.Users.Get(ctx, "")
		return r, rerr
	})
	if err != nil {
		// Only a rejected credential is an auth failure; a flaky server or
		// network must not be reported as a bad token.
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return "", &domain.AuthError{Err: err}
		}
		return "", &domain.NetworkError{Op: "fetch authenticated user", Err: err}
	}
	return user.GetLogin(), nil
}

func (g *GitHubGateway) ListOrgRepos(ctx context.Context, org string) ([]domain.Repo, error) {
	g.logger.Debugf("listing repositories for organization %s", org)
	opts := &github.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var repos []domain.Repo
	for {
		var page []*github.Repository
		resp, err := g.retry(ctx, func() (*github.Response, error) {
			var rerr error
			var r *github.Response
			page, r, rerr = g.restClient.Repositories.ListByOrg(ctx, org, opts)
			return r, rerr
		})
		if err != nil {
			return nil, &domain.NetworkError{Op: fmt.Sprintf("list repos for %s", org), Err: err}
		}
		for _, r := range page {
			repos = append(repos, domain.Repo{
				Name:          r.GetName(),
				FullName:      r.GetFullName(),
				DefaultBranch: r.GetDefaultBranch(),
				CloneURL:      r.GetCloneURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Debug("fetching next page of repositories...")
	}
	g.logger.Debugf("found %d repositories in %s", len(repos), org)
	return repos, nil
}

func (g *GitHubGateway) LatestCommitSHA(ctx context.Context, org, repo string, year int) (string, error) {
	opts := &github.CommitsListOptions{
		Until:       time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC),
		ListOptions: github.ListOptions{PerPage: 1},
	}
	var commits []*github.RepositoryCommit
	resp, err := g.retry(ctx, func() (*github.Response, error) {
		var rerr error
		var r *github.Response
		commits, r, rerr = g.restClient.Repositories.ListCommits(ctx, org, repo, opts)
		return r, rerr
	})
	if err != nil {
		// 409 is how the API reports an empty repository.
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return "", nil
		}
		return "", &domain.NetworkError{Op: fmt.Sprintf("list commits for %s/%s", org, repo), Err: err}
	}
	if len(commits) == 0 {
		return "", nil
	}
	return commits[0].GetSHA(), nil
}

func (g *GitHubGateway) CommitReviewStatus(ctx context.Context, org, repo, sha string) (bool, error) {
	variables := map[string]interface{}{
		"owner": githubv4.String(org),
		"name":  githubv4.String(repo),
		"oid":   githubv4.GitObjectID(sha),
	}
	var q commitPullsQuery
	if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
		return false, &domain.NetworkError{Op: fmt.Sprintf("review status for %s/%s@%s", org, repo, sha), Err: err}
	}
	for _, pr := range q.Repository.Object.Commit.AssociatedPullRequests.Nodes {
		if pr.Merged && pr.Reviews.TotalCount > 0 {
			return true, nil
		}
	}
	return false, nil
}
