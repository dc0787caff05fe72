// Package buildkite is a client for the Buildkite REST API and the Test
// Analytics API. It covers only the surface the CI watch tools consume:
// build listings, build details with jobs, raw job logs, and analytics suite
// test records.
package buildkite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/dougbtv/vllm-ci-mcp/go/config"
)

// APIError is returned for any failure talking to the Buildkite API:
// missing credentials, transport errors, non-2xx responses, or unparseable
// payloads.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

func apiErrorf(format string, args ...interface{}) error {
	return &APIError{Message: fmt.Sprintf(format, args...)}
}

// Client talks to the Buildkite REST API. The zero value is not usable; use
// NewClient, which validates credentials at construction time.
type Client struct {
	token         string
	orgSlug       string
	baseURL       string
	analyticsBase string

	httpClient    *http.Client
	logHTTPClient *http.Client

	// Caches analytics suite test listings so bulk lookups fetch each suite
	// once per TTL window.
	suiteCache *gocache.Cache
}

// NewClient creates a Buildkite API client. The token is read from
// BUILDKITE_TOKEN or BUILDKITE_API_TOKEN when empty; the org slug can be
// overridden with BUILDKITE_ORG.
func NewClient(token, orgSlug string) (*Client, error) {
	if token == "" {
		token = os.Getenv(config.EnvBuildkiteToken)
		if token == "" {
			token = os.Getenv(config.EnvBuildkiteTokenAlt)
		}
	}
	if token == "" {
		return nil, apiErrorf("%s or %s environment variable not set",
			config.EnvBuildkiteToken, config.EnvBuildkiteTokenAlt)
	}
	if orgSlug == "" {
		orgSlug = config.DefaultOrgSlug
	}
	if env := os.Getenv(config.EnvBuildkiteOrg); env != "" {
		orgSlug = env
	}
	return &Client{
		token:         token,
		orgSlug:       orgSlug,
		baseURL:       config.BuildkiteAPIBase,
		analyticsBase: config.BuildkiteAnalyticsBase,
		httpClient:    &http.Client{Timeout: config.APITimeout},
		logHTTPClient: &http.Client{Timeout: config.LogAPITimeout},
		suiteCache:    gocache.New(config.AnalyticsSuiteCacheTTL, config.AnalyticsSuiteCacheSweep),
	}, nil
}

// OrgSlug returns the organization slug the client targets.
func (c *Client) OrgSlug() string {
	return c.orgSlug
}

// SetBaseURLs overrides the API endpoints. Used by tests to point the client
// at an httptest server.
func (c *Client) SetBaseURLs(base, analyticsBase string) {
	c.baseURL = base
	c.analyticsBase = analyticsBase
}

// parsePipeline splits a pipeline slug like "vllm/ci" into org and pipeline
// components, falling back to the client org for bare slugs.
func (c *Client) parsePipeline(pipeline string) (string, string) {
	if idx := strings.Index(pipeline, "/"); idx >= 0 {
		return pipeline[:idx], pipeline[idx+1:]
	}
	return c.orgSlug, pipeline
}

func (c *Client) get(ctx context.Context, hc *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apiErrorf("building request for %s: %s", rawURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, apiErrorf("request failed: %s", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apiErrorf("reading response body: %s", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiErrorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	body, err := c.get(ctx, c.httpClient, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apiErrorf("failed to parse JSON response: %s", err)
	}
	return nil
}

// ListBuilds returns up to limit builds for the pipeline, newest first.
// createdFrom, when non-zero, is passed as the created_from filter.
func (c *Client) ListBuilds(ctx context.Context, pipeline, branch string, limit int, createdFrom time.Time) ([]BuildInfo, error) {
	org, pipe := c.parsePipeline(pipeline)
	params := url.Values{}
	if limit > 100 {
		limit = 100
	}
	params.Set("per_page", fmt.Sprintf("%d", limit))
	if branch != "" {
		params.Set("branch", branch)
	}
	if !createdFrom.IsZero() {
		params.Set("created_from", createdFrom.UTC().Format(time.RFC3339))
	}

	u := fmt.Sprintf("%s/organizations/%s/pipelines/%s/builds?%s", c.baseURL, org, pipe, params.Encode())
	var raw []rawBuild
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return nil, err
	}
	builds := make([]BuildInfo, 0, len(raw))
	for _, rb := range raw {
		builds = append(builds, parseBuild(rb))
	}
	return builds, nil
}

// GetBuild returns the build and its job list.
func (c *Client) GetBuild(ctx context.Context, pipeline, buildNumber string) (BuildInfo, []JobInfo, error) {
	org, pipe := c.parsePipeline(pipeline)
	u := fmt.Sprintf("%s/organizations/%s/pipelines/%s/builds/%s", c.baseURL, org, pipe, buildNumber)
	var raw rawBuild
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return BuildInfo{}, nil, err
	}
	build := parseBuild(raw)
	jobs := make([]JobInfo, 0, len(raw.Jobs))
	for _, rj := range raw.Jobs {
		jobs = append(jobs, parseJob(rj, build.BuildNumber))
	}
	return build, jobs, nil
}

// GetJobLog fetches the raw log text for a job. The log endpoint returns
// plain text and is slower than the rest of the API, so a longer timeout
// applies.
func (c *Client) GetJobLog(ctx context.Context, pipeline, buildNumber, jobID string) (string, error) {
	org, pipe := c.parsePipeline(pipeline)
	u := fmt.Sprintf("%s/organizations/%s/pipelines/%s/builds/%s/jobs/%s/log",
		c.baseURL, org, pipe, buildNumber, jobID)
	body, err := c.get(ctx, c.logHTTPClient, u)
	if err != nil {
		return "", err
	}
	// The endpoint may return either raw text or a JSON envelope with a
	// "content" field depending on the Accept negotiation.
	var envelope struct {
		Content string `json:"content"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Content != "" {
		return envelope.Content, nil
	}
	return string(body), nil
}

// ListAnalyticsTests fetches tests from the Test Analytics API for a suite.
// Results are cached per (suite, order, state) for a short TTL.
func (c *Client) ListAnalyticsTests(ctx context.Context, suiteSlug, order, state string, limit int) ([]AnalyticsTest, error) {
	if suiteSlug == "" {
		suiteSlug = config.DefaultAnalyticsSuite
	}
	cacheKey := fmt.Sprintf("%s|%s|%s", suiteSlug, order, state)
	if cached, ok := c.suiteCache.Get(cacheKey); ok {
		return cached.([]AnalyticsTest), nil
	}

	params := url.Values{}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	params.Set("per_page", fmt.Sprintf("%d", limit))
	if order != "" {
		params.Set("order", order)
	}
	if state != "" {
		params.Set("state", state)
	}

	u := fmt.Sprintf("%s/organizations/%s/suites/%s/tests?%s", c.analyticsBase, c.orgSlug, suiteSlug, params.Encode())
	var tests []AnalyticsTest
	if err := c.getJSON(ctx, u, &tests); err != nil {
		return nil, err
	}
	c.suiteCache.SetDefault(cacheKey, tests)
	return tests, nil
}

// GetAnalyticsTest returns the detail record for one analytics test.
func (c *Client) GetAnalyticsTest(ctx context.Context, suiteSlug, testID string) (AnalyticsTest, error) {
	u := fmt.Sprintf("%s/organizations/%s/suites/%s/tests/%s", c.analyticsBase, c.orgSlug, suiteSlug, testID)
	var test AnalyticsTest
	if err := c.getJSON(ctx, u, &test); err != nil {
		return AnalyticsTest{}, err
	}
	return test, nil
}

// GetAnalyticsTestRuns returns the run history for one analytics test.
func (c *Client) GetAnalyticsTestRuns(ctx context.Context, suiteSlug, testID string, limit int) ([]AnalyticsTestRun, error) {
	params := url.Values{}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	params.Set("per_page", fmt.Sprintf("%d", limit))
	u := fmt.Sprintf("%s/organizations/%s/suites/%s/tests/%s/runs?%s",
		c.analyticsBase, c.orgSlug, suiteSlug, testID, params.Encode())
	var runs []AnalyticsTestRun
	if err := c.getJSON(ctx, u, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// IsAPIError reports whether err originated from the Buildkite API layer.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
