package ciwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/dougbtv/vllm-ci-mcp/auth"
	"github.com/dougbtv/vllm-ci-mcp/go/buildkite"
	"github.com/dougbtv/vllm-ci-mcp/go/config"
	"github.com/dougbtv/vllm-ci-mcp/go/history"
	"github.com/dougbtv/vllm-ci-mcp/go/logparse"
	"github.com/dougbtv/vllm-ci-mcp/go/render"
	"github.com/dougbtv/vllm-ci-mcp/go/triage"
)

// scanResponse is the wire shape of both scan tools.
type scanResponse struct {
	BuildInfo          buildkite.BuildInfo            `json:"build_info"`
	TotalJobs          int                            `json:"total_jobs"`
	FailedJobs         int                            `json:"failed_jobs"`
	Failures           []triage.FailureClassification `json:"failures"`
	ScanTimestamp      string                         `json:"scan_timestamp"`
	DailyFindingsText  string                         `json:"daily_findings_text,omitempty"`
	StandupSummaryText string                         `json:"standup_summary_text,omitempty"`
	ProgressLog        []string                       `json:"progress_log"`
}

// jsonResult marshals v into a text tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %s", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Service) scanLatestNightlyHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireInitialized(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pipeline := request.GetString("pipeline", s.pipeline)
	branch := request.GetString("branch", s.branch)

	build, err := s.scanner.ResolveLatestNightly(ctx, pipeline, branch)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.runScan(ctx, request, pipeline, build.BuildNumber)
}

func (s *Service) scanBuildHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireInitialized(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ref, err := request.RequireString("build_id_or_url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	buildNumber, err := triage.ParseBuildRef(ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pipeline := request.GetString("pipeline", s.pipeline)
	return s.runScan(ctx, request, pipeline, buildNumber)
}

// runScan executes the shared scan flow for both scan tools and applies the
// detail-level projection before returning.
func (s *Service) runScan(ctx context.Context, request mcp.CallToolRequest, pipeline, buildNumber string) (*mcp.CallToolResult, error) {
	if data, err := auth.AuthDataFromContext(ctx); err == nil && data.UserEmail != "" {
		logrus.Infof("Scanning %s build %s for %s", pipeline, buildNumber, data.UserEmail)
	}

	opts := triage.ClassifyOptions{
		Repo:         request.GetString("repo", s.repo),
		SearchGitHub: request.GetBool("search_github", true),
		Searcher:     s.scanner.Searcher,
	}
	detailLevel := request.GetString("detail_level", "summary")
	maxFailures := request.GetInt("max_failures", config.DefaultScanMaxFailures)

	result, jobs, progress, err := s.scanner.ScanBuild(ctx, pipeline, buildNumber, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	failures, truncated := capFailures(result.Failures, maxFailures)
	if truncated {
		progress = append(progress, fmt.Sprintf("Truncated to first %d failures", maxFailures))
	}

	resp := scanResponse{
		BuildInfo:     result.BuildInfo,
		TotalJobs:     result.TotalJobs,
		FailedJobs:    result.FailedJobs,
		Failures:      projectFailures(failures, detailLevel),
		ScanTimestamp: result.ScanTimestamp.Format(time.RFC3339),
		ProgressLog:   progress,
	}
	if detailLevel == "full" {
		resp.DailyFindingsText = render.RenderDailyFindings(result, jobs)
		resp.StandupSummaryText = render.RenderStandupSummary(result, jobs)
	}
	return jsonResult(resp)
}

// capFailures limits the failure list, reporting whether anything was
// dropped.
func capFailures(failures []triage.FailureClassification, max int) ([]triage.FailureClassification, bool) {
	if max <= 0 {
		max = config.DefaultScanMaxFailures
	}
	if len(failures) <= max {
		return failures, false
	}
	return failures[:max], true
}

// projectFailures applies the detail-level projection. minimal strips all
// textual evidence, summary drops stack traces and shortens log snippets,
// full keeps everything.
func projectFailures(failures []triage.FailureClassification, detailLevel string) []triage.FailureClassification {
	if detailLevel == "full" {
		return failures
	}
	projected := make([]triage.FailureClassification, len(failures))
	for i, f := range failures {
		switch detailLevel {
		case "minimal":
			f.TestFailure.ErrorMessage = ""
			f.TestFailure.StackTrace = ""
			f.TestFailure.LogSnippet = ""
			f.GitHubIssue = ""
			f.Reason = ""
		default: // summary
			f.TestFailure.StackTrace = ""
			if len(f.TestFailure.LogSnippet) > 200 {
				f.TestFailure.LogSnippet = f.TestFailure.LogSnippet[:200] + "..."
			}
		}
		projected[i] = f
	}
	return projected
}

func (s *Service) testHistoryHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireInitialized(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	nodeid, err := request.RequireString("nodeid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.engine.GetTestHistory(ctx, nodeid, history.Options{
		Branch:         request.GetString("branch", s.branch),
		Pipeline:       request.GetString("pipeline", s.pipeline),
		LookbackBuilds: request.GetInt("lookback_builds", config.MaxBuildsForTestHistory),
		JobFilter:      request.GetString("job_filter", ""),
		IncludeLogs:    request.GetBool("include_logs", true),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

// analyticsRecord is the per-test summary returned by the analytics tools.
type analyticsRecord struct {
	Test           buildkite.AnalyticsTest      `json:"test"`
	RecentRuns     []buildkite.AnalyticsTestRun `json:"recent_runs,omitempty"`
	RunsConsidered int                          `json:"runs_considered"`
	PassRate       float64                      `json:"pass_rate"`
	IsFlaky        bool                         `json:"is_flaky"`
	RecentlyFailed bool                         `json:"recently_failed"`
}

// analyticsRecentRunLimit bounds how many run records feed the flakiness
// heuristic.
const analyticsRecentRunLimit = 10

// summarizeRuns derives pass rate and flakiness flags from recent runs.
func summarizeRuns(test buildkite.AnalyticsTest, runs []buildkite.AnalyticsTestRun, includeRuns bool) analyticsRecord {
	if len(runs) > analyticsRecentRunLimit {
		runs = runs[:analyticsRecentRunLimit]
	}
	passed, failed := 0, 0
	for _, r := range runs {
		switch strings.ToLower(r.Result) {
		case "passed":
			passed++
		case "failed":
			failed++
		}
	}
	record := analyticsRecord{
		Test:           test,
		RunsConsidered: len(runs),
		IsFlaky:        passed > 0 && failed > 0,
		RecentlyFailed: failed > 0,
	}
	if passed+failed > 0 {
		record.PassRate = float64(passed) / float64(passed+failed)
	}
	if includeRuns {
		record.RecentRuns = runs
	}
	return record
}

// splitNodeid splits a pytest nodeid into (scope, name) on the first "::".
// A bare name has an empty scope.
func splitNodeid(nodeid string) (string, string) {
	if idx := strings.Index(nodeid, "::"); idx >= 0 {
		return nodeid[:idx], nodeid[idx+2:]
	}
	return "", nodeid
}

// baseName strips pytest parametrization, everything from the first "[".
func baseName(name string) string {
	if idx := strings.Index(name, "["); idx >= 0 {
		return name[:idx]
	}
	return name
}

// matchAnalyticsTests returns the suite tests matching the (scope, name)
// pair: scope must match exactly when present, and names match exactly or on
// their parameter-stripped base names.
func matchAnalyticsTests(tests []buildkite.AnalyticsTest, scope, name string) []buildkite.AnalyticsTest {
	var matches []buildkite.AnalyticsTest
	for _, t := range tests {
		if scope != "" && t.Scope != scope {
			continue
		}
		if t.Name == name || baseName(t.Name) == baseName(name) {
			matches = append(matches, t)
		}
	}
	return matches
}

func (s *Service) testHistoryAnalyticsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireInitialized(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	nameOrNodeid, err := request.RequireString("test_name_or_nodeid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	suiteSlug := request.GetString("suite_slug", s.suite)

	tests, err := s.analytics.ListAnalyticsTests(ctx, suiteSlug, "", "", 100)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	scope, name := splitNodeid(nameOrNodeid)
	matches := matchAnalyticsTests(tests, scope, name)
	if len(matches) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("No analytics test found matching %q in suite %s", nameOrNodeid, suiteSlug)), nil
	}
	if len(matches) > 1 {
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return mcp.NewToolResultError(fmt.Sprintf("Multiple analytics tests match %q: %s", nameOrNodeid, strings.Join(names, ", "))), nil
	}

	runs, err := s.analytics.GetAnalyticsTestRuns(ctx, suiteSlug, matches[0].ID, analyticsRecentRunLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(summarizeRuns(matches[0], runs, true))
}

// bulkResponse is the wire shape of get_test_analytics_bulk.
type bulkResponse struct {
	Results         map[string]analyticsRecord `json:"results"`
	NotFound        []string                   `json:"not_found"`
	MultipleMatches map[string][]string        `json:"multiple_matches"`
	Warnings        []string                   `json:"warnings"`
}

func (s *Service) getTestAnalyticsBulkHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireInitialized(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	nodeids, err := request.RequireStringSlice("nodeids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	suiteSlug := request.GetString("suite_slug", s.suite)

	tests, err := s.analytics.ListAnalyticsTests(ctx, suiteSlug, "", "", 100)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp := bulkResponse{
		Results:         map[string]analyticsRecord{},
		NotFound:        []string{},
		MultipleMatches: map[string][]string{},
		Warnings:        []string{},
	}
	for _, nodeid := range nodeids {
		scope, name := splitNodeid(nodeid)
		matches := matchAnalyticsTests(tests, scope, name)
		switch len(matches) {
		case 0:
			resp.NotFound = append(resp.NotFound, nodeid)
		case 1:
			runs, err := s.analytics.GetAnalyticsTestRuns(ctx, suiteSlug, matches[0].ID, analyticsRecentRunLimit)
			if err != nil {
				logrus.Warnf("Fetching runs for %s failed: %s", matches[0].Name, err)
				resp.Warnings = append(resp.Warnings, fmt.Sprintf("Could not fetch runs for %s: %s", nodeid, err))
				resp.Results[nodeid] = analyticsRecord{Test: matches[0]}
				continue
			}
			resp.Results[nodeid] = summarizeRuns(matches[0], runs, false)
		default:
			names := make([]string, 0, len(matches))
			for _, m := range matches {
				names = append(names, m.Name)
			}
			resp.MultipleMatches[nodeid] = names
		}
	}
	return jsonResult(resp)
}

// jobFailuresResponse is the wire shape of get_job_test_failures.
type jobFailuresResponse struct {
	BuildNumber string                 `json:"build_number"`
	Job         buildkite.JobInfo      `json:"job"`
	Failures    []logparse.TestFailure `json:"failures"`
}

// matchJob selects one job per the match strategy. Unmatched or ambiguous
// selections return an error naming the candidates.
func matchJob(jobs []buildkite.JobInfo, nameOrID, strategy string) (buildkite.JobInfo, error) {
	var matches []buildkite.JobInfo
	switch strategy {
	case "id":
		for _, j := range jobs {
			if j.JobID == nameOrID {
				matches = append(matches, j)
			}
		}
		if len(matches) == 0 {
			return buildkite.JobInfo{}, fmt.Errorf("no job with id %q", nameOrID)
		}
	case "exact":
		for _, j := range jobs {
			if j.JobName == nameOrID {
				matches = append(matches, j)
			}
		}
		if len(matches) == 0 {
			return buildkite.JobInfo{}, fmt.Errorf("no job named %q", nameOrID)
		}
		if len(matches) > 1 {
			return buildkite.JobInfo{}, fmt.Errorf("%d jobs named %q; use match_strategy=id", len(matches), nameOrID)
		}
	case "fuzzy":
		needle := strings.ToLower(nameOrID)
		for _, j := range jobs {
			if strings.Contains(strings.ToLower(j.JobName), needle) {
				matches = append(matches, j)
			}
		}
		if len(matches) == 0 {
			names := make([]string, 0, len(jobs))
			for _, j := range jobs {
				names = append(names, j.JobName)
			}
			return buildkite.JobInfo{}, fmt.Errorf("no job name contains %q; candidates: %s", nameOrID, strings.Join(names, ", "))
		}
		if len(matches) > 1 {
			candidates := make([]string, 0, len(matches))
			for _, j := range matches {
				candidates = append(candidates, fmt.Sprintf("%s (%s)", j.JobName, j.JobID))
			}
			return buildkite.JobInfo{}, fmt.Errorf("%d jobs match %q: %s", len(matches), nameOrID, strings.Join(candidates, ", "))
		}
	default:
		return buildkite.JobInfo{}, fmt.Errorf("unknown match_strategy %q; use exact, fuzzy or id", strategy)
	}
	return matches[0], nil
}

func (s *Service) getJobTestFailuresHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireInitialized(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	buildRef, err := request.RequireString("build_ref")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nameOrID, err := request.RequireString("job_name_or_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pipeline := request.GetString("pipeline", s.pipeline)
	strategy := request.GetString("match_strategy", "exact")

	buildNumber, err := triage.ParseBuildRef(buildRef)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	_, jobs, err := s.api.GetBuild(ctx, pipeline, buildNumber)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, err := matchJob(jobs, nameOrID, strategy)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	logText, err := s.api.GetJobLog(ctx, pipeline, buildNumber, job.JobID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(jobFailuresResponse{
		BuildNumber: buildNumber,
		Job:         job,
		Failures:    logparse.ExtractTestFailures(logText, job.JobName),
	})
}

func (s *Service) renderHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	raw, ok := args["scan_result"]
	if !ok {
		return mcp.NewToolResultError("scan_result is required"), nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid scan_result: %s", err)), nil
	}
	var result triage.ScanResult
	if err := json.Unmarshal(encoded, &result); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid scan_result: %s", err)), nil
	}

	format := request.GetString("format", "daily_findings")
	switch format {
	case "daily_findings":
		return mcp.NewToolResultText(render.RenderDailyFindings(result, nil)), nil
	case "standup":
		return mcp.NewToolResultText(render.RenderStandupSummary(result, nil)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Unknown format: %s. Use 'daily_findings' or 'standup'.", format)), nil
	}
}
