// Package config holds shared constants for the vLLM CI watch tooling.
// Values are read-only after initialization.
package config

import "time"

// Default scan targets.
const (
	DefaultPipeline = "vllm/ci"
	DefaultRepo     = "vllm-project/vllm"
	DefaultBranch   = "main"
)

// Buildkite API configuration.
const (
	BuildkiteAPIBase       = "https://api.buildkite.com/v2"
	BuildkiteAnalyticsBase = "https://api.buildkite.com/v2/analytics"
	DefaultOrgSlug         = "vllm"

	APITimeout    = 30 * time.Second
	LogAPITimeout = 60 * time.Second
)

// Environment variables. Two token names are accepted for compatibility with
// older deployments.
const (
	EnvBuildkiteToken    = "BUILDKITE_TOKEN"
	EnvBuildkiteTokenAlt = "BUILDKITE_API_TOKEN"
	EnvBuildkiteOrg      = "BUILDKITE_ORG"
	EnvGitHubToken       = "GITHUB_TOKEN"
	EnvRepoPath          = "VLLM_REPO_PATH"
)

// Parsing limits.
const (
	MaxLogSnippetLength   = 500
	MaxStackTraceLength   = 1000
	MaxErrorMessageLength = 200
)

// MaxFailedJobsToProcess caps the number of failed jobs scanned per build.
const MaxFailedJobsToProcess = 10

// GitHub issue matching.
const (
	CIFailureLabel       = "ci-failure"
	MinMatchConfidence   = 0.6
	ExactMatchConfidence = 0.9
	FuzzyMatchConfidence = 0.7
	WeakMatchConfidence  = 0.5
)

// Test history budgets.
const (
	MaxBuildsForTestHistory   = 50
	MaxJobsPerBuildForHistory = 20
	MaxLogBytesForTestHistory = 200_000
	EstimatedLogSizePerJob    = 10_000
)

// NightlyLookbackWindow bounds the created_from filter when resolving the
// latest scheduled build.
const NightlyLookbackWindow = 48 * time.Hour

// GitBlameTimeout bounds the blame subprocess used for ownership inference.
const GitBlameTimeout = 10 * time.Second

// Analytics suite caching.
const (
	AnalyticsSuiteCacheTTL   = 5 * time.Minute
	AnalyticsSuiteCacheSweep = 10 * time.Minute
	DefaultAnalyticsSuite    = "ci-1"
)

// DefaultScanMaxFailures caps the failures returned by scan tools.
const DefaultScanMaxFailures = 50
