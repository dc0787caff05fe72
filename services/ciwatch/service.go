// Package ciwatch exposes the vLLM CI triage workflows as MCP tools: build
// scans, per-test history reconstruction, Test Analytics lookups, and report
// rendering.
package ciwatch

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dougbtv/vllm-ci-mcp/common"
	"github.com/dougbtv/vllm-ci-mcp/go/buildkite"
	"github.com/dougbtv/vllm-ci-mcp/go/config"
	"github.com/dougbtv/vllm-ci-mcp/go/history"
	"github.com/dougbtv/vllm-ci-mcp/go/owners"
	"github.com/dougbtv/vllm-ci-mcp/go/triage"
)

// analyticsAPI is the slice of the Buildkite client the analytics tools
// consume. *buildkite.Client satisfies it; tests substitute fakes.
type analyticsAPI interface {
	ListAnalyticsTests(ctx context.Context, suiteSlug, order, state string, limit int) ([]buildkite.AnalyticsTest, error)
	GetAnalyticsTestRuns(ctx context.Context, suiteSlug, testID string, limit int) ([]buildkite.AnalyticsTestRun, error)
}

// Service hosts the CI watch tools. Configure via Init with a
// comma-separated key=value argument string; recognized keys are pipeline,
// branch, repo, org, suite, token (Buildkite) and repo_path (local vLLM
// checkout for ownership inference).
type Service struct {
	api       triage.BuildAPI
	analytics analyticsAPI
	scanner   *triage.Scanner
	engine    *history.Engine

	pipeline string
	branch   string
	repo     string
	suite    string
}

// parseServiceArgs splits "k1=v1,k2=v2" into a map. Malformed segments are
// skipped.
func parseServiceArgs(serviceArgs string) map[string]string {
	parsed := map[string]string{}
	for _, pair := range strings.Split(serviceArgs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			logrus.Warnf("Ignoring malformed service argument %q", pair)
			continue
		}
		parsed[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return parsed
}

// Init implements common.McpService.
func (s *Service) Init(serviceArgs string) error {
	args := parseServiceArgs(serviceArgs)

	s.pipeline = args["pipeline"]
	if s.pipeline == "" {
		s.pipeline = config.DefaultPipeline
	}
	s.branch = args["branch"]
	if s.branch == "" {
		s.branch = config.DefaultBranch
	}
	s.repo = args["repo"]
	if s.repo == "" {
		s.repo = config.DefaultRepo
	}
	s.suite = args["suite"]
	if s.suite == "" {
		s.suite = config.DefaultAnalyticsSuite
	}

	client, err := buildkite.NewClient(args["token"], args["org"])
	if err != nil {
		return err
	}
	s.api = client
	s.analytics = client

	searcher := triage.NewGitHubIssueSearcher(context.Background(), "")
	s.scanner = &triage.Scanner{
		API:          client,
		Searcher:     searcher,
		ResolveOwner: owners.ResolverForRepo(args["repo_path"]),
	}
	s.engine = &history.Engine{API: client}

	logrus.Infof("ciwatch service initialized for pipeline %s (branch %s)", s.pipeline, s.branch)
	return nil
}

// GetTools implements common.McpService.
func (s *Service) GetTools() []common.Tool {
	return []common.Tool{
		{
			Name:        "scan_latest_nightly",
			Description: kScanLatestNightlyDescription,
			Arguments: append([]common.ToolArgument{
				{
					Name:         "branch",
					Description:  "Git branch to scan. Defaults to main.",
					ArgumentType: common.StringArgument,
				},
			}, scanCommonArguments()...),
			Handler: s.scanLatestNightlyHandler,
		},
		{
			Name:        "scan_build",
			Description: kScanBuildDescription,
			Arguments: append([]common.ToolArgument{
				{
					Name:         "build_id_or_url",
					Description:  "Build number (e.g. \"12345\") or a full Buildkite build URL.",
					Required:     true,
					ArgumentType: common.StringArgument,
				},
			}, scanCommonArguments()...),
			Handler: s.scanBuildHandler,
		},
		{
			Name:        "test_history",
			Description: kTestHistoryDescription,
			Arguments: []common.ToolArgument{
				{
					Name:         "nodeid",
					Description:  "Full pytest nodeid, e.g. tests/test_sampler.py::test_topk.",
					Required:     true,
					ArgumentType: common.StringArgument,
				},
				{
					Name:         "branch",
					Description:  "Git branch to scan. Defaults to main.",
					ArgumentType: common.StringArgument,
				},
				{
					Name:         "pipeline",
					Description:  "Buildkite pipeline slug. Defaults to vllm/ci.",
					ArgumentType: common.StringArgument,
				},
				{
					Name:         "lookback_builds",
					Description:  "Number of recent builds to inspect, capped at 50.",
					ArgumentType: common.NumberArgument,
				},
				{
					Name:         "job_filter",
					Description:  "Only search jobs whose name contains this substring (case-insensitive).",
					ArgumentType: common.StringArgument,
				},
				{
					Name:         "include_logs",
					Description:  "Include log excerpts in the timeline. Defaults to true.",
					ArgumentType: common.BooleanArgument,
				},
			},
			Handler: s.testHistoryHandler,
		},
		{
			Name:        "test_history_analytics",
			Description: kTestHistoryAnalyticsDescription,
			Arguments: []common.ToolArgument{
				{
					Name:         "test_name_or_nodeid",
					Description:  "Test name or full pytest nodeid to look up.",
					Required:     true,
					ArgumentType: common.StringArgument,
				},
				{
					Name:         "suite_slug",
					Description:  "Test Analytics suite slug. Defaults to ci-1.",
					ArgumentType: common.StringArgument,
				},
			},
			Handler: s.testHistoryAnalyticsHandler,
		},
		{
			Name:        "get_job_test_failures",
			Description: kGetJobTestFailuresDescription,
			Arguments: []common.ToolArgument{
				{
					Name:         "build_ref",
					Description:  "Build number or a full Buildkite build URL.",
					Required:     true,
					ArgumentType: common.StringArgument,
				},
				{
					Name:         "job_name_or_id",
					Description:  "Job name or job id, interpreted per match_strategy.",
					Required:     true,
					ArgumentType: common.StringArgument,
				},
				{
					Name:         "pipeline",
					Description:  "Buildkite pipeline slug. Defaults to vllm/ci.",
					ArgumentType: common.StringArgument,
				},
				{
					Name:         "match_strategy",
					Description:  "How to match the job: exact name, fuzzy substring, or id.",
					ArgumentType: common.StringArgument,
					EnumValues:   []string{"exact", "fuzzy", "id"},
				},
			},
			Handler: s.getJobTestFailuresHandler,
		},
		{
			Name:        "get_test_analytics_bulk",
			Description: kGetTestAnalyticsBulkDescription,
			Arguments: []common.ToolArgument{
				{
					Name:         "nodeids",
					Description:  "List of pytest nodeids to look up.",
					Required:     true,
					ArgumentType: common.ArrayArgument,
					ArraySchema:  map[string]any{"type": "string"},
				},
				{
					Name:         "suite_slug",
					Description:  "Test Analytics suite slug. Defaults to ci-1.",
					ArgumentType: common.StringArgument,
				},
			},
			Handler: s.getTestAnalyticsBulkHandler,
		},
		{
			Name:        "render",
			Description: kRenderDescription,
			Arguments: []common.ToolArgument{
				{
					Name:         "scan_result",
					Description:  "ScanResult object returned by scan_latest_nightly or scan_build.",
					Required:     true,
					ArgumentType: common.ObjectArgument,
				},
				{
					Name:         "format",
					Description:  "Output format.",
					ArgumentType: common.StringArgument,
					EnumValues:   []string{"daily_findings", "standup"},
				},
			},
			Handler: s.renderHandler,
		},
	}
}

// scanCommonArguments are the arguments shared by both scan tools.
func scanCommonArguments() []common.ToolArgument {
	return []common.ToolArgument{
		{
			Name:         "pipeline",
			Description:  "Buildkite pipeline slug. Defaults to vllm/ci.",
			ArgumentType: common.StringArgument,
		},
		{
			Name:         "repo",
			Description:  "GitHub repo for issue search. Defaults to vllm-project/vllm.",
			ArgumentType: common.StringArgument,
		},
		{
			Name:         "search_github",
			Description:  "Search GitHub for issues tracking each failure. Defaults to true.",
			ArgumentType: common.BooleanArgument,
		},
		{
			Name:         "detail_level",
			Description:  "How much detail to include per failure. Defaults to summary.",
			ArgumentType: common.StringArgument,
			EnumValues:   []string{"minimal", "summary", "full"},
		},
		{
			Name:         "max_failures",
			Description:  "Cap on returned failures. Defaults to 50.",
			ArgumentType: common.NumberArgument,
		},
	}
}

// GetResources implements common.ResourceProvider.
func (s *Service) GetResources() []common.Resource {
	return []common.Resource{
		{
			URI:         "prompt://ci-watch-daily",
			Name:        "CI Watch daily prompt",
			Description: "Daily prompt for scanning nightly vLLM builds.",
			MimeType:    "text/plain",
			Handler: func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
				return []mcp.ResourceContents{
					mcp.TextResourceContents{
						URI:      "prompt://ci-watch-daily",
						MIMEType: "text/plain",
						Text:     ciWatchDailyPrompt,
					},
				}, nil
			},
		},
	}
}

// Shutdown implements common.McpService.
func (s *Service) Shutdown() error {
	return nil
}

// requireInitialized guards handlers against use before Init.
func (s *Service) requireInitialized() error {
	if s.api == nil || s.scanner == nil || s.engine == nil {
		return errors.New("ciwatch service not initialized")
	}
	return nil
}
