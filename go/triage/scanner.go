package triage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dougbtv/vllm-ci-mcp/go/buildkite"
	"github.com/dougbtv/vllm-ci-mcp/go/config"
	"github.com/dougbtv/vllm-ci-mcp/go/logparse"
)

// BuildAPI is the slice of the Buildkite client the scanner consumes.
// *buildkite.Client satisfies it; tests substitute fakes.
type BuildAPI interface {
	ListBuilds(ctx context.Context, pipeline, branch string, limit int, createdFrom time.Time) ([]buildkite.BuildInfo, error)
	GetBuild(ctx context.Context, pipeline, buildNumber string) (buildkite.BuildInfo, []buildkite.JobInfo, error)
	GetJobLog(ctx context.Context, pipeline, buildNumber, jobID string) (string, error)
}

// OwnerResolver maps a test file path to a best-effort owner email and
// confidence. A nil resolver disables ownership inference.
type OwnerResolver func(ctx context.Context, testFile string) (string, float64)

// Scanner drives single-build failure scans.
type Scanner struct {
	API          BuildAPI
	Searcher     IssueSearcher
	ResolveOwner OwnerResolver
}

var buildRefRe = regexp.MustCompile(`/builds/(\d+)`)

// ParseBuildRef extracts a build number from a bare number or a Buildkite
// build URL.
func ParseBuildRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty build reference")
	}
	if m := buildRefRe.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	return ref, nil
}

// ResolveLatestNightly finds the most recent scheduled build on the branch.
// Scheduled builds within a two-day window are preferred; if none exist the
// source filter is relaxed, and as a last resort the window is dropped and
// the most recent build in an analyzable state is used.
func (s *Scanner) ResolveLatestNightly(ctx context.Context, pipeline, branch string) (buildkite.BuildInfo, error) {
	createdFrom := time.Now().UTC().Add(-config.NightlyLookbackWindow)
	builds, err := s.API.ListBuilds(ctx, pipeline, branch, 20, createdFrom)
	if err != nil {
		return buildkite.BuildInfo{}, err
	}

	for _, b := range builds {
		if b.Source == "schedule" && buildkite.IsAnalyzableState(b.State) {
			return b, nil
		}
	}
	for _, b := range builds {
		if buildkite.IsAnalyzableState(b.State) {
			logrus.Infof("No scheduled build in window; using build #%s (source %q)", b.BuildNumber, b.Source)
			return b, nil
		}
	}

	builds, err = s.API.ListBuilds(ctx, pipeline, branch, 20, time.Time{})
	if err != nil {
		return buildkite.BuildInfo{}, err
	}
	for _, b := range builds {
		if buildkite.IsAnalyzableState(b.State) {
			logrus.Infof("No analyzable build in window; using older build #%s", b.BuildNumber)
			return b, nil
		}
	}
	return buildkite.BuildInfo{}, errors.New("no builds found")
}

// ScanBuild scans one build: enumerate jobs, fetch logs for failed jobs (up
// to a cap), extract and classify failures, and deduplicate. Per-job log
// fetch failures skip that job and the scan continues. The returned progress
// lines mirror the scan's log output so callers can surface them.
func (s *Scanner) ScanBuild(ctx context.Context, pipeline, buildNumber string, opts ClassifyOptions) (ScanResult, []buildkite.JobInfo, []string, error) {
	var progress []string
	step := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		logrus.Info(msg)
		progress = append(progress, msg)
	}

	step("Fetching build #%s from %s", buildNumber, pipeline)
	build, jobs, err := s.API.GetBuild(ctx, pipeline, buildNumber)
	if err != nil {
		return ScanResult{}, nil, progress, err
	}

	var failedJobs []buildkite.JobInfo
	for _, j := range jobs {
		if !j.Passed {
			failedJobs = append(failedJobs, j)
		}
	}
	step("Found %d total jobs, %d failed", len(jobs), len(failedJobs))

	toProcess := failedJobs
	if len(toProcess) > config.MaxFailedJobsToProcess {
		toProcess = toProcess[:config.MaxFailedJobsToProcess]
	}
	if len(toProcess) > 0 {
		step("Processing first %d failed jobs", len(toProcess))
	}

	var allFailures []FailureClassification
	var fetchErrs *multierror.Error
	for idx, job := range toProcess {
		step("[%d/%d] Processing job: %s", idx+1, len(toProcess), job.JobName)

		logText, err := s.API.GetJobLog(ctx, pipeline, build.BuildNumber, job.JobID)
		if err != nil {
			fetchErrs = multierror.Append(fetchErrs, errors.Wrapf(err, "job %s", job.JobName))
			step("[%d/%d] Failed to fetch logs for %s, skipping", idx+1, len(toProcess), job.JobName)
			continue
		}

		testFailures := logparse.ExtractTestFailures(logText, job.JobName)
		step("[%d/%d] Extracted %d test failures", idx+1, len(toProcess), len(testFailures))

		for _, tf := range testFailures {
			classified := ClassifyFailure(ctx, tf, opts)
			if s.ResolveOwner != nil {
				testFile := tf.TestName
				if i := strings.Index(testFile, "::"); i >= 0 {
					testFile = testFile[:i]
				}
				classified.Owner, classified.OwnerConfidence = s.ResolveOwner(ctx, testFile)
			}
			allFailures = append(allFailures, classified)
		}
	}

	if fetchErrs.ErrorOrNil() != nil {
		logrus.Warnf("Some job logs could not be fetched: %s", fetchErrs.Error())
	}

	unique := DeduplicateFailures(allFailures)
	step("Deduplicated %d failures to %d unique", len(allFailures), len(unique))

	result := ScanResult{
		BuildInfo:     build,
		TotalJobs:     len(jobs),
		FailedJobs:    len(failedJobs),
		Failures:      unique,
		ScanTimestamp: time.Now().UTC(),
	}
	return result, jobs, progress, nil
}
