package triage

import (
	"context"
	"os"
	"strings"

	github_api "github.com/google/go-github/v29/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/dougbtv/vllm-ci-mcp/go/config"
)

// ErrSearchUnavailable is returned when the issue-search collaborator cannot
// be reached. The classifier treats it as "skip the known-issue step".
var ErrSearchUnavailable = errors.New("issue search unavailable")

// Issue is one candidate from an issue search.
type Issue struct {
	Number int
	Title  string
	URL    string
	State  string
	Labels []string
}

// HasLabel reports whether the issue carries the named label,
// case-insensitively.
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}

// IssueSearcher finds candidate issues for a query. Implementations return
// an error wrapping ErrSearchUnavailable when the backend cannot be reached.
type IssueSearcher interface {
	SearchIssues(ctx context.Context, repo, query string, limit int) ([]Issue, error)
}

// GitHubIssueSearcher implements IssueSearcher against the GitHub search
// API.
type GitHubIssueSearcher struct {
	client *github_api.Client
}

// NewGitHubIssueSearcher creates a searcher. The token is read from
// GITHUB_TOKEN when empty; without a token the searcher still works at
// anonymous rate limits.
func NewGitHubIssueSearcher(ctx context.Context, token string) *GitHubIssueSearcher {
	if token == "" {
		token = os.Getenv(config.EnvGitHubToken)
	}
	if token == "" {
		return &GitHubIssueSearcher{client: github_api.NewClient(nil)}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubIssueSearcher{client: github_api.NewClient(oauth2.NewClient(ctx, ts))}
}

// SearchIssues runs a GitHub issue search scoped to the repo.
func (s *GitHubIssueSearcher) SearchIssues(ctx context.Context, repo, query string, limit int) ([]Issue, error) {
	opts := &github_api.SearchOptions{
		ListOptions: github_api.ListOptions{PerPage: limit},
	}
	result, _, err := s.client.Search.Issues(ctx, "repo:"+repo+" "+query, opts)
	if err != nil {
		return nil, errors.Wrapf(ErrSearchUnavailable, "searching issues in %s: %s", repo, err)
	}
	issues := make([]Issue, 0, len(result.Issues))
	for _, raw := range result.Issues {
		labels := make([]string, 0, len(raw.Labels))
		for _, l := range raw.Labels {
			labels = append(labels, l.GetName())
		}
		issues = append(issues, Issue{
			Number: raw.GetNumber(),
			Title:  raw.GetTitle(),
			URL:    raw.GetHTMLURL(),
			State:  raw.GetState(),
			Labels: labels,
		})
		if len(issues) >= limit {
			break
		}
	}
	return issues, nil
}

// IsSearchUnavailable reports whether err means the issue search backend was
// unreachable rather than a real failure.
func IsSearchUnavailable(err error) bool {
	return errors.Is(err, ErrSearchUnavailable)
}
