package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgstat/orgstat/internal/domain"
)

// setupTestGateway creates a GitHubGateway that communicates with a mock HTTP server.
func setupTestGateway(t *testing.T, handler http.Handler) (*GitHubGateway, *httptest.Server) {
	server := httptest.NewServer(handler)

	// Point the REST client at the mock server.
	restClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL

	// NewEnterpriseClient points the GraphQL client at the mock server's URL.
	graphqlClient := githubv4.NewEnterpriseClient(server.URL, server.Client())

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gateway := &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		logger:        logger,
	}

	return gateway, server
}

func TestGitHubGateway_ListOrgRepos(t *testing.T) {
	testCases := []struct {
		name           string
		handlerFunc    func(w http.ResponseWriter, r *http.Request)
		expected       []domain.Repo
		expectError    bool
		expectedErrMsg string
	}{
		{
			name: "happy path - single page",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.String(), "/orgs/any-org/repos")
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, `[
					{"name": "repo-a", "full_name": "any-org/repo-a", "default_branch": "main", "clone_url": "https://github.com/any-org/repo-a.git"},
					{"name": "repo-b", "full_name": "any-org/repo-b", "default_branch": "master", "clone_url": "https://github.com/any-org/repo-b.git"}
				]`)
			},
			expected: []domain.Repo{
				{Name: "repo-a", FullName: "any-org/repo-a", DefaultBranch: "main", CloneURL: "https://github.com/any-org/repo-a.git"},
				{Name: "repo-b", FullName: "any-org/repo-b", DefaultBranch: "master", CloneURL: "https://github.com/any-org/repo-b.git"},
			},
			expectError: false,
		},
		{
			name: "error case - GitHub API returns an error",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"message": "Internal Server Error"}`)
			},
			expectError:    true,
			expectedErrMsg: "list repos for any-org",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, server := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))
			defer server.Close()
			repos, err := gateway.ListOrgRepos(context.Background(), "any-org")
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErrMsg)
				var netErr *domain.NetworkError
				assert.ErrorAs(t, err, &netErr)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, repos)
			}
		})
	}
}

func TestGitHubGateway_ListOrgReposPagination(t *testing.T) {
	var requestCount int
	handler := func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/orgs/any-org/repos?page=2>; rel="next"`, r.Host))
			fmt.Fprint(w, `[{"name": "repo-a", "full_name": "any-org/repo-a"}]`)
		default:
			fmt.Fprint(w, `[{"name": "repo-b", "full_name": "any-org/repo-b"}]`)
		}
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	repos, err := gateway.ListOrgRepos(context.Background(), "any-org")
	require.NoError(t, err)
	assert.Equal(t, 2, requestCount)
	require.Len(t, repos, 2)
	assert.Equal(t, "any-org/repo-a", repos[0].FullName)
	assert.Equal(t, "any-org/repo-b", repos[1].FullName)
}

func TestGitHubGateway_RetriesAfterRateLimit(t *testing.T) {
	var requestCount int
	handler := func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount == 1 {
			w.Header().Set("X-Ratelimit-Limit", "5000")
			w.Header().Set("X-Ratelimit-Remaining", "0")
			w.Header().Set("X-Ratelimit-Reset", fmt.Sprintf("%d", time.Now().Add(-time.Minute).Unix()))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
			return
		}
		fmt.Fprint(w, `[{"name": "repo-a", "full_name": "any-org/repo-a"}]`)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	// The reset time is already in the past, so the gateway waits its
	// minimum interval and issues the same request again.
	repos, err := gateway.ListOrgRepos(context.Background(), "any-org")
	require.NoError(t, err)
	assert.Equal(t, 2, requestCount)
	require.Len(t, repos, 1)
	assert.Equal(t, "any-org/repo-a", repos[0].FullName)
}

func TestGitHubGateway_AuthenticatedUser(t *testing.T) {
	testCases := []struct {
		name        string
		handlerFunc func(w http.ResponseWriter, r *http.Request)
		expected    string
		wantAuthErr bool
		wantNetErr  bool
	}{
		{
			name: "happy path - returns the token holder's login",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/user", r.URL.Path)
				fmt.Fprint(w, `{"login": "octocat"}`)
			},
			expected: "octocat",
		},
		{
			name: "rejected credential",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"message": "Bad credentials"}`)
			},
			wantAuthErr: true,
		},
		{
			name: "transient server error is not an auth failure",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantNetErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, server := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))
			defer server.Close()

			login, err := gateway.AuthenticatedUser(context.Background())
			switch {
			case tc.wantAuthErr:
				assert.True(t, domain.IsAuthError(err))
			case tc.wantNetErr:
				require.Error(t, err)
				assert.False(t, domain.IsAuthError(err))
				var netErr *domain.NetworkError
				assert.ErrorAs(t, err, &netErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.expected, login)
			}
		})
	}
}

func TestGitHubGateway_LatestCommitSHA(t *testing.T) {
	testCases := []struct {
		name        string
		handlerFunc func(w http.ResponseWriter, r *http.Request)
		expected    string
		expectError bool
	}{
		{
			name: "happy path - returns newest sha before year end",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.Path, "/repos/any-org/repo-a/commits")
				assert.Contains(t, r.URL.RawQuery, "until=2026-01-01T00%3A00%3A00Z")
				fmt.Fprint(w, `[{"sha": "deadbeef"}]`)
			},
			expected: "deadbeef",
		},
		{
			name: "no commits in window",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `[]`)
			},
			expected: "",
		},
		{
			name: "empty repository reports 409",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				fmt.Fprint(w, `{"message": "Git Repository is empty."}`)
			},
			expected: "",
		},
		{
			name: "server error",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectError: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, server := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))
			defer server.Close()
			sha, err := gateway.LatestCommitSHA(context.Background(), "any-org", "repo-a", 2025)
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, sha)
			}
		})
	}
}

func TestGitHubGateway_CommitReviewStatus(t *testing.T) {
	testCases := []struct {
		name           string
		responseBody   string
		expected       bool
		expectError    bool
		expectedErrMsg string
	}{
		{
			name:         "merged PR with approved review counts as reviewed",
			responseBody: `{"data":{"repository":{"object":{"associatedPullRequests":{"nodes":[{"merged":true,"reviews":{"totalCount":1}}]}}}}}`,
			expected:     true,
		},
		{
			name:         "merged PR without approval is direct",
			responseBody: `{"data":{"repository":{"object":{"associatedPullRequests":{"nodes":[{"merged":true,"reviews":{"totalCount":0}}]}}}}}`,
			expected:     false,
		},
		{
			name:         "unmerged PR is direct even if approved",
			responseBody: `{"data":{"repository":{"object":{"associatedPullRequests":{"nodes":[{"merged":false,"reviews":{"totalCount":2}}]}}}}}`,
			expected:     false,
		},
		{
			name:         "no associated pull requests",
			responseBody: `{"data":{"repository":{"object":{"associatedPullRequests":{"nodes":[]}}}}}`,
			expected:     false,
		},
		{
			name:           "GraphQL error",
			responseBody:   `{"errors":[{"message":"Something went wrong"}]}`,
			expectError:    true,
			expectedErrMsg: "review status for",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				assert.Contains(t, string(body), "associatedPullRequests")
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, tc.responseBody)
			}
			gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
			defer server.Close()

			reviewed, err := gateway.CommitReviewStatus(context.Background(), "any-org", "repo-a", "deadbeef")
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErrMsg)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, reviewed)
			}
		})
	}
}
