package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dougbtv/vllm-ci-mcp/go/buildkite"
	"github.com/dougbtv/vllm-ci-mcp/go/config"
	"github.com/dougbtv/vllm-ci-mcp/go/fingerprint"
	"github.com/dougbtv/vllm-ci-mcp/go/logparse"
	"github.com/dougbtv/vllm-ci-mcp/go/triage"
)

// JobOutcome is the result of searching one job's log for the test.
type JobOutcome struct {
	JobName               string `json:"job_name"`
	JobURL                string `json:"job_url"`
	Status                string `json:"status"`
	FingerprintRaw        string `json:"fingerprint_raw,omitempty"`
	FingerprintNormalized string `json:"fingerprint_normalized,omitempty"`
	LogExcerpt            string `json:"log_excerpt,omitempty"`
	ErrorMessage          string `json:"error_message,omitempty"`
}

// TimelineEntry aggregates the test's outcome within one build.
type TimelineEntry struct {
	BuildNumber string       `json:"build_number"`
	BuildURL    string       `json:"build_url"`
	CreatedAt   time.Time    `json:"created_at"`
	CommitSHA   string       `json:"commit_sha"`
	TestFound   bool         `json:"test_found"`
	TestStatus  string       `json:"test_status"`
	Jobs        []JobOutcome `json:"jobs"`
}

// Options configure one history scan.
type Options struct {
	Branch         string
	Pipeline       string
	LookbackBuilds int
	JobFilter      string
	IncludeLogs    bool
}

// Result is a complete history scan: the chronological timeline, its
// assessment, a rendered summary, and any budget warnings.
type Result struct {
	TestNodeid string          `json:"test_nodeid"`
	Timeline   []TimelineEntry `json:"timeline"`
	Assessment Assessment      `json:"assessment"`
	Summary    string          `json:"summary"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// Engine scans build history for a single test.
type Engine struct {
	API triage.BuildAPI
}

// findTestInJob fetches one job's log and searches it for the test. Returns
// ok=false when the test was not found, the fetch failed, or the budget was
// exhausted. Failing outcomes carry fingerprints for the assessor.
func (e *Engine) findTestInJob(ctx context.Context, testNodeid, pipeline, buildNumber string, job buildkite.JobInfo, budget *ResourceBudget, includeLogs bool) (JobOutcome, bool) {
	if !budget.CanFetchLog(0) {
		return JobOutcome{}, false
	}

	logText, err := e.API.GetJobLog(ctx, pipeline, buildNumber, job.JobID)
	if err != nil {
		logrus.Debugf("Skipping job %s in build %s: %s", job.JobName, buildNumber, err)
		return JobOutcome{}, false
	}
	budget.RecordLogFetch(len(logText))

	outcome := logparse.FindTestOutcome(logText, testNodeid)
	if !outcome.Found {
		return JobOutcome{}, false
	}

	result := JobOutcome{
		JobName: job.JobName,
		JobURL:  fmt.Sprintf("https://buildkite.com/%s/builds/%s#job-%s", pipeline, buildNumber, job.JobID),
		Status:  outcome.Status,
	}
	if outcome.Status == "fail" {
		if fp, ok := fingerprint.ExtractFromLog(logText, testNodeid); ok {
			result.FingerprintRaw = fp
			result.FingerprintNormalized = fp
		} else if outcome.ErrorMessage != "" {
			result.FingerprintNormalized = fingerprint.Normalize(outcome.ErrorMessage)
		}
	}
	if includeLogs {
		result.LogExcerpt = outcome.LogExcerpt
	}
	result.ErrorMessage = outcome.ErrorMessage
	return result, true
}

// findTestInBuild searches a build's jobs for the test: failed jobs first,
// since they dominate the probability of finding failures, then passed jobs
// only when the failed partition produced nothing.
func (e *Engine) findTestInBuild(ctx context.Context, testNodeid, pipeline, buildNumber, jobFilter string, budget *ResourceBudget, includeLogs bool) (bool, string, []JobOutcome) {
	found := false
	status := "unknown"
	var jobOutcomes []JobOutcome

	_, allJobs, err := e.API.GetBuild(ctx, pipeline, buildNumber)
	if err != nil {
		logrus.Debugf("Build %s not accessible: %s", buildNumber, err)
		return found, status, jobOutcomes
	}

	if jobFilter != "" {
		filtered := allJobs[:0:0]
		for _, j := range allJobs {
			if strings.Contains(strings.ToLower(j.JobName), strings.ToLower(jobFilter)) {
				filtered = append(filtered, j)
			}
		}
		allJobs = filtered
	}

	var failedJobs, passedJobs []buildkite.JobInfo
	for _, j := range allJobs {
		switch j.State {
		case "failed":
			failedJobs = append(failedJobs, j)
		case "passed":
			passedJobs = append(passedJobs, j)
		}
	}
	if len(failedJobs) > budget.MaxJobsPerBuild() {
		failedJobs = failedJobs[:budget.MaxJobsPerBuild()]
	}
	if remaining := budget.MaxJobsPerBuild() - len(failedJobs); len(passedJobs) > remaining {
		passedJobs = passedJobs[:remaining]
	}

	record := func(outcome JobOutcome) {
		found = true
		jobOutcomes = append(jobOutcomes, outcome)
		if outcome.Status == "fail" {
			status = "fail"
		} else if status == "unknown" {
			status = outcome.Status
		}
	}

	for _, job := range failedJobs {
		if budget.Exhausted() {
			break
		}
		if outcome, ok := e.findTestInJob(ctx, testNodeid, pipeline, buildNumber, job, budget, includeLogs); ok {
			record(outcome)
		}
	}

	if !found && !budget.Exhausted() {
		for _, job := range passedJobs {
			if budget.Exhausted() {
				break
			}
			if outcome, ok := e.findTestInJob(ctx, testNodeid, pipeline, buildNumber, job, budget, includeLogs); ok {
				record(outcome)
			}
		}
	}

	return found, status, jobOutcomes
}

// GetTestHistory tracks the test's outcome across the most recent builds on
// the branch, oldest first, then classifies the pattern.
func (e *Engine) GetTestHistory(ctx context.Context, testNodeid string, opts Options) (Result, error) {
	pipeline := opts.Pipeline
	if pipeline == "" {
		pipeline = config.DefaultPipeline
	}
	branch := opts.Branch
	if branch == "" {
		branch = config.DefaultBranch
	}
	lookback := opts.LookbackBuilds
	if lookback <= 0 || lookback > config.MaxBuildsForTestHistory {
		lookback = config.MaxBuildsForTestHistory
	}

	budget := NewResourceBudget(0, 0)

	builds, err := e.API.ListBuilds(ctx, pipeline, branch, lookback, time.Time{})
	if err != nil {
		return Result{}, err
	}
	if len(builds) == 0 {
		return Result{}, errors.Errorf("no builds found on branch %s", branch)
	}

	sort.SliceStable(builds, func(i, j int) bool {
		return builds[i].CreatedAt.Before(builds[j].CreatedAt)
	})

	var timeline []TimelineEntry
	for _, build := range builds {
		if budget.Exhausted() {
			budget.AddWarning(fmt.Sprintf("Stopped scanning after %d builds (budget exhausted)", len(timeline)))
			break
		}

		found, status, jobs := e.findTestInBuild(ctx, testNodeid, pipeline, build.BuildNumber, opts.JobFilter, budget, opts.IncludeLogs)
		timeline = append(timeline, TimelineEntry{
			BuildNumber: build.BuildNumber,
			BuildURL:    build.BuildURL,
			CreatedAt:   build.CreatedAt,
			CommitSHA:   build.Commit,
			TestFound:   found,
			TestStatus:  status,
			Jobs:        jobs,
		})
	}

	assessment := AssessTestHistory(timeline)
	summary := GenerateSummary(testNodeid, timeline, assessment, budget)

	return Result{
		TestNodeid: testNodeid,
		Timeline:   timeline,
		Assessment: assessment,
		Summary:    summary,
		Warnings:   budget.Warnings(),
	}, nil
}
