package triage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougbtv/vllm-ci-mcp/go/buildkite"
)

type fakeBuildAPI struct {
	builds     []buildkite.BuildInfo
	lateBuilds []buildkite.BuildInfo // returned when createdFrom is zero
	build      buildkite.BuildInfo
	jobs       []buildkite.JobInfo
	logs       map[string]string
	logErrs    map[string]error
}

func (f *fakeBuildAPI) ListBuilds(ctx context.Context, pipeline, branch string, limit int, createdFrom time.Time) ([]buildkite.BuildInfo, error) {
	if createdFrom.IsZero() && f.lateBuilds != nil {
		return f.lateBuilds, nil
	}
	return f.builds, nil
}

func (f *fakeBuildAPI) GetBuild(ctx context.Context, pipeline, buildNumber string) (buildkite.BuildInfo, []buildkite.JobInfo, error) {
	return f.build, f.jobs, nil
}

func (f *fakeBuildAPI) GetJobLog(ctx context.Context, pipeline, buildNumber, jobID string) (string, error) {
	if err, ok := f.logErrs[jobID]; ok {
		return "", err
	}
	return f.logs[jobID], nil
}

func TestParseBuildRef(t *testing.T) {
	test := func(name, input, expected string) {
		t.Run(name, func(t *testing.T) {
			got, err := ParseBuildRef(input)
			require.NoError(t, err)
			assert.Equal(t, expected, got)
		})
	}
	test("BareNumber", "12345", "12345")
	test("BuildURL", "https://buildkite.com/vllm/ci/builds/12345", "12345")
	test("BuildURLWithFragment", "https://buildkite.com/vllm/ci/builds/987#job-abc", "987")

	_, err := ParseBuildRef("  ")
	assert.Error(t, err)
}

func TestResolveLatestNightly_PrefersScheduled(t *testing.T) {
	now := time.Now().UTC()
	api := &fakeBuildAPI{
		builds: []buildkite.BuildInfo{
			{BuildNumber: "300", State: "running", Source: "schedule", CreatedAt: now},
			{BuildNumber: "299", State: "failed", Source: "webhook", CreatedAt: now.Add(-time.Hour)},
			{BuildNumber: "298", State: "failed", Source: "schedule", CreatedAt: now.Add(-2 * time.Hour)},
		},
	}
	s := &Scanner{API: api}
	build, err := s.ResolveLatestNightly(context.Background(), "vllm/ci", "main")
	require.NoError(t, err)
	// 300 is scheduled but still running; 298 is the newest analyzable
	// scheduled build.
	assert.Equal(t, "298", build.BuildNumber)
}

func TestResolveLatestNightly_RelaxesSourceFilter(t *testing.T) {
	now := time.Now().UTC()
	api := &fakeBuildAPI{
		builds: []buildkite.BuildInfo{
			{BuildNumber: "301", State: "passed", Source: "webhook", CreatedAt: now},
		},
	}
	s := &Scanner{API: api}
	build, err := s.ResolveLatestNightly(context.Background(), "vllm/ci", "main")
	require.NoError(t, err)
	assert.Equal(t, "301", build.BuildNumber)
}

func TestResolveLatestNightly_RelaxesWindow(t *testing.T) {
	api := &fakeBuildAPI{
		builds: nil,
		lateBuilds: []buildkite.BuildInfo{
			{BuildNumber: "250", State: "failed", Source: "schedule"},
		},
	}
	s := &Scanner{API: api}
	build, err := s.ResolveLatestNightly(context.Background(), "vllm/ci", "main")
	require.NoError(t, err)
	assert.Equal(t, "250", build.BuildNumber)
}

func TestResolveLatestNightly_NoBuilds(t *testing.T) {
	s := &Scanner{API: &fakeBuildAPI{}}
	_, err := s.ResolveLatestNightly(context.Background(), "vllm/ci", "main")
	assert.Error(t, err)
}

func TestScanBuild(t *testing.T) {
	api := &fakeBuildAPI{
		build: buildkite.BuildInfo{BuildNumber: "100", State: "failed", Branch: "main"},
		jobs: []buildkite.JobInfo{
			{JobID: "j1", JobName: "Engine Test", State: "failed"},
			{JobID: "j2", JobName: "Docs", State: "passed", Passed: true},
			{JobID: "j3", JobName: "Sampler Test", State: "failed"},
		},
		logs: map[string]string{
			"j1": "FAILED tests/test_a.py::test_one - AssertionError: boom\n",
			"j3": "FAILED tests/test_b.py::test_two - RuntimeError: crash\n",
		},
	}
	s := &Scanner{API: api}
	result, jobs, progress, err := s.ScanBuild(context.Background(), "vllm/ci", "100", ClassifyOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalJobs)
	assert.Equal(t, 2, result.FailedJobs)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "tests/test_a.py::test_one", result.Failures[0].TestFailure.TestName)
	assert.Equal(t, "tests/test_b.py::test_two", result.Failures[1].TestFailure.TestName)
	assert.Len(t, jobs, 3)
	assert.NotEmpty(t, progress)
}

func TestScanBuild_SkipsJobOnLogError(t *testing.T) {
	api := &fakeBuildAPI{
		build: buildkite.BuildInfo{BuildNumber: "100", State: "failed"},
		jobs: []buildkite.JobInfo{
			{JobID: "j1", JobName: "Broken Fetch", State: "failed"},
			{JobID: "j2", JobName: "Engine Test", State: "failed"},
		},
		logs: map[string]string{
			"j2": "FAILED tests/test_a.py::test_one - AssertionError: boom\n",
		},
		logErrs: map[string]error{
			"j1": errors.New("HTTP error 500"),
		},
	}
	s := &Scanner{API: api}
	result, _, _, err := s.ScanBuild(context.Background(), "vllm/ci", "100", ClassifyOptions{})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "tests/test_a.py::test_one", result.Failures[0].TestFailure.TestName)
}

func TestScanBuild_CapsFailedJobs(t *testing.T) {
	jobs := make([]buildkite.JobInfo, 0, 15)
	logs := map[string]string{}
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("j%d", i)
		jobs = append(jobs, buildkite.JobInfo{JobID: id, JobName: fmt.Sprintf("Job %d", i), State: "failed"})
		logs[id] = fmt.Sprintf("FAILED tests/test_%d.py::test_x - ValueError: %d\n", i, i)
	}
	api := &fakeBuildAPI{
		build: buildkite.BuildInfo{BuildNumber: "100", State: "failed"},
		jobs:  jobs,
		logs:  logs,
	}
	s := &Scanner{API: api}
	result, _, _, err := s.ScanBuild(context.Background(), "vllm/ci", "100", ClassifyOptions{})
	require.NoError(t, err)
	// 15 failed jobs but only the first 10 are processed.
	assert.Equal(t, 15, result.FailedJobs)
	assert.Len(t, result.Failures, 10)
}

func TestScanBuild_DeduplicatesAcrossJobs(t *testing.T) {
	sameLog := "FAILED tests/test_a.py::test_one - AssertionError: boom\n"
	api := &fakeBuildAPI{
		build: buildkite.BuildInfo{BuildNumber: "100", State: "failed"},
		jobs: []buildkite.JobInfo{
			{JobID: "j1", JobName: "Engine Test", State: "failed"},
			{JobID: "j2", JobName: "Engine Test", State: "failed"},
		},
		logs: map[string]string{"j1": sameLog, "j2": sameLog},
	}
	s := &Scanner{API: api}
	result, _, _, err := s.ScanBuild(context.Background(), "vllm/ci", "100", ClassifyOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Failures, 1)
}

func TestScanBuild_OwnerInference(t *testing.T) {
	api := &fakeBuildAPI{
		build: buildkite.BuildInfo{BuildNumber: "100", State: "failed"},
		jobs:  []buildkite.JobInfo{{JobID: "j1", JobName: "Engine Test", State: "failed"}},
		logs: map[string]string{
			"j1": "FAILED tests/test_a.py::test_one - AssertionError: boom\n",
		},
	}
	var resolvedPath string
	s := &Scanner{
		API: api,
		ResolveOwner: func(ctx context.Context, testFile string) (string, float64) {
			resolvedPath = testFile
			return "dev@example.com", 0.9
		},
	}
	result, _, _, err := s.ScanBuild(context.Background(), "vllm/ci", "100", ClassifyOptions{})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "tests/test_a.py", resolvedPath)
	assert.Equal(t, "dev@example.com", result.Failures[0].Owner)
	assert.Equal(t, 0.9, result.Failures[0].OwnerConfidence)
}
