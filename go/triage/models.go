// Package triage classifies extracted test failures into a small taxonomy
// and drives single-build scans: enumerate jobs, fetch failed-job logs,
// parse, classify, deduplicate.
package triage

import (
	"time"

	"github.com/dougbtv/vllm-ci-mcp/go/buildkite"
	"github.com/dougbtv/vllm-ci-mcp/go/logparse"
)

// Category is the triage bucket assigned to a failure.
type Category string

const (
	// KnownTracked means an open GitHub issue already tracks this failure.
	KnownTracked Category = "KNOWN_TRACKED"
	// InfraSuspected means the log matches an infrastructure failure pattern.
	InfraSuspected Category = "INFRA_SUSPECTED"
	// FlakySuspected means the test or log carries a flakiness marker.
	FlakySuspected Category = "FLAKY_SUSPECTED"
	// NewRegression is the default for failures with error details and no
	// known cause.
	NewRegression Category = "NEW_REGRESSION"
	// NeedsHumanTriage means there was not enough data to classify.
	NeedsHumanTriage Category = "NEEDS_HUMAN_TRIAGE"
)

// CategoryOrder is the fixed rendering order for grouped reports.
var CategoryOrder = []Category{
	NewRegression,
	FlakySuspected,
	InfraSuspected,
	KnownTracked,
	NeedsHumanTriage,
}

// FailureClassification is one classified test failure.
type FailureClassification struct {
	FailureKey      string               `json:"failure_key"`
	TestFailure     logparse.TestFailure `json:"test_failure"`
	Category        Category             `json:"category"`
	GitHubIssue     string               `json:"github_issue,omitempty"`
	Confidence      float64              `json:"confidence"`
	Reason          string               `json:"reason"`
	Owner           string               `json:"owner,omitempty"`
	OwnerConfidence float64              `json:"owner_confidence,omitempty"`
}

// ScanResult is the outcome of scanning one build. Failures are
// deduplicated, first occurrence first.
type ScanResult struct {
	BuildInfo     buildkite.BuildInfo     `json:"build_info"`
	TotalJobs     int                     `json:"total_jobs"`
	FailedJobs    int                     `json:"failed_jobs"`
	Failures      []FailureClassification `json:"failures"`
	ScanTimestamp time.Time               `json:"scan_timestamp"`
}
