package triage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dougbtv/vllm-ci-mcp/go/config"
	"github.com/dougbtv/vllm-ci-mcp/go/logparse"
)

type patternRule struct {
	pattern     *regexp.Regexp
	description string
}

// Infrastructure failure patterns, checked in order against the combined
// error/stack/snippet text.
var infraPatterns = []patternRule{
	{regexp.MustCompile(`(?i)timeout|timed out`), "timeout detected"},
	{regexp.MustCompile(`(?i)connection refused|network error`), "network issue"},
	{regexp.MustCompile(`(?i)no space left on device|disk full`), "disk space"},
	{regexp.MustCompile(`(?i)out of memory|OOM|CUDA out of memory`), "OOM"},
	{regexp.MustCompile(`(?i)killed by signal|SIGKILL`), "process killed"},
	{regexp.MustCompile(`(?i)cannot allocate memory`), "memory allocation"},
	{regexp.MustCompile(`(?i)failed to download|download error`), "download failure"},
	{regexp.MustCompile(`(?i)agent lost|lost connection to agent`), "agent connection lost"},
}

// Flaky test indicators, checked against the test name and the combined
// text.
var flakyPatterns = []patternRule{
	{regexp.MustCompile(`(?i)flaky`), "test name contains 'flaky'"},
	{regexp.MustCompile(`(?i)intermittent`), "intermittent failure"},
	{regexp.MustCompile(`(?i)passed on retry`), "passed on retry"},
}

// ValidateIssueMatch scores a candidate issue against a failure. Issues
// without the ci-failure label are rejected outright; otherwise the
// confidence reflects how specifically the title names the failure.
func ValidateIssueMatch(issue Issue, failure logparse.TestFailure) (bool, float64) {
	if !issue.HasLabel(config.CIFailureLabel) {
		return false, 0.0
	}

	title := strings.ToLower(issue.Title)
	testName := strings.ToLower(failure.TestName)
	jobName := strings.ToLower(failure.JobName)

	if strings.Contains(title, testName) {
		return true, config.ExactMatchConfidence
	}
	for _, part := range strings.Split(testName, "::") {
		if len(part) > 3 && strings.Contains(title, part) {
			return true, config.ExactMatchConfidence
		}
	}
	if strings.Contains(title, jobName) {
		return true, config.FuzzyMatchConfidence
	}
	return true, config.WeakMatchConfidence
}

// FindBestIssueMatch searches GitHub for an open issue tracking the
// failure. It tries an exact quoted-title query first, then a broader query,
// keeping only validated matches at or above the minimum confidence.
// Returns ok=false when nothing matched or the searcher was unavailable.
func FindBestIssueMatch(ctx context.Context, searcher IssueSearcher, failure logparse.TestFailure, repo string) (url string, confidence float64, reason string, ok bool) {
	exactQuery := fmt.Sprintf("%q in:title label:%s is:issue is:open", failure.TestName, config.CIFailureLabel)
	if issues, err := searcher.SearchIssues(ctx, repo, exactQuery, 3); err == nil {
		for _, issue := range issues {
			valid, conf := ValidateIssueMatch(issue, failure)
			if valid && conf >= config.MinMatchConfidence {
				return issue.URL, conf, fmt.Sprintf("Exact match in %s issue: %s", config.CIFailureLabel, issue.Title), true
			}
		}
	}

	broadQuery := fmt.Sprintf("%s label:%s is:issue is:open", failure.TestName, config.CIFailureLabel)
	if issues, err := searcher.SearchIssues(ctx, repo, broadQuery, 5); err == nil {
		var best Issue
		bestConf := 0.0
		for _, issue := range issues {
			valid, conf := ValidateIssueMatch(issue, failure)
			if valid && conf >= config.MinMatchConfidence && conf > bestConf {
				best = issue
				bestConf = conf
			}
		}
		if bestConf > 0 {
			return best.URL, bestConf, fmt.Sprintf("Matched %s issue: %s", config.CIFailureLabel, best.Title), true
		}
	}

	return "", 0, "", false
}

// ClassifyOptions control one classification pass.
type ClassifyOptions struct {
	Repo         string
	SearchGitHub bool
	Searcher     IssueSearcher
}

// ClassifyFailure applies the triage heuristics in priority order:
// known-issue lookup, infrastructure patterns, flaky indicators, then the
// regression default. Issue-search outages silently degrade to the pattern
// checks.
func ClassifyFailure(ctx context.Context, failure logparse.TestFailure, opts ClassifyOptions) FailureClassification {
	failureKey := GenerateFailureKey(failure)

	if opts.SearchGitHub && opts.Searcher != nil {
		repo := opts.Repo
		if repo == "" {
			repo = config.DefaultRepo
		}
		if url, conf, reason, ok := FindBestIssueMatch(ctx, opts.Searcher, failure, repo); ok {
			return FailureClassification{
				FailureKey:  failureKey,
				TestFailure: failure,
				Category:    KnownTracked,
				GitHubIssue: url,
				Confidence:  conf,
				Reason:      reason,
			}
		}
	}

	var parts []string
	for _, s := range []string{failure.ErrorMessage, failure.StackTrace, failure.LogSnippet} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	combined := strings.Join(parts, "\n")

	for _, rule := range infraPatterns {
		if rule.pattern.MatchString(combined) {
			return FailureClassification{
				FailureKey:  failureKey,
				TestFailure: failure,
				Category:    InfraSuspected,
				Confidence:  0.7,
				Reason:      "Infrastructure issue detected: " + rule.description,
			}
		}
	}

	for _, rule := range flakyPatterns {
		if rule.pattern.MatchString(failure.TestName) || rule.pattern.MatchString(combined) {
			return FailureClassification{
				FailureKey:  failureKey,
				TestFailure: failure,
				Category:    FlakySuspected,
				Confidence:  0.6,
				Reason:      "Flaky test indicator: " + rule.description,
			}
		}
	}

	if failure.ErrorMessage != "" {
		return FailureClassification{
			FailureKey:  failureKey,
			TestFailure: failure,
			Category:    NewRegression,
			Confidence:  0.5,
			Reason:      "New failure with no known pattern",
		}
	}

	return FailureClassification{
		FailureKey:  failureKey,
		TestFailure: failure,
		Category:    NeedsHumanTriage,
		Confidence:  0.3,
		Reason:      "Insufficient data for automatic classification",
	}
}
