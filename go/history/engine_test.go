package history

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougbtv/vllm-ci-mcp/go/buildkite"
)

type fakeHistoryAPI struct {
	builds      []buildkite.BuildInfo
	jobs        map[string][]buildkite.JobInfo // keyed by build number
	logs        map[string]string              // keyed by build number + "/" + job id
	logFetches  []string
	listErr     error
	getBuildErr map[string]error
}

func (f *fakeHistoryAPI) ListBuilds(ctx context.Context, pipeline, branch string, limit int, createdFrom time.Time) ([]buildkite.BuildInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.builds, nil
}

func (f *fakeHistoryAPI) GetBuild(ctx context.Context, pipeline, buildNumber string) (buildkite.BuildInfo, []buildkite.JobInfo, error) {
	if err := f.getBuildErr[buildNumber]; err != nil {
		return buildkite.BuildInfo{}, nil, err
	}
	return buildkite.BuildInfo{BuildNumber: buildNumber}, f.jobs[buildNumber], nil
}

func (f *fakeHistoryAPI) GetJobLog(ctx context.Context, pipeline, buildNumber, jobID string) (string, error) {
	key := buildNumber + "/" + jobID
	f.logFetches = append(f.logFetches, key)
	return f.logs[key], nil
}

const testNodeid = "tests/test_sampler.py::test_topk"

func passLog() string {
	return "PASSED " + testNodeid + "\n"
}

func failLog(detail string) string {
	return fmt.Sprintf(`
____________ %s ____________

E       AssertionError: %s

FAILED %s - AssertionError: %s
`, testNodeid, detail, testNodeid, detail)
}

func regressionAPI() *fakeHistoryAPI {
	base := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	api := &fakeHistoryAPI{
		jobs: map[string][]buildkite.JobInfo{},
		logs: map[string]string{},
	}
	// Builds listed newest first, as the API returns them.
	for i := 5; i >= 1; i-- {
		num := fmt.Sprintf("%d", i)
		api.builds = append(api.builds, buildkite.BuildInfo{
			BuildNumber: num,
			BuildURL:    "http://build/" + num,
			Commit:      "commit" + num,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		})
		if i >= 3 {
			api.jobs[num] = []buildkite.JobInfo{
				{JobID: "job-" + num, JobName: "Sampler Tests", State: "failed"},
			}
			api.logs[num+"/job-"+num] = failLog("score was 0.42")
		} else {
			api.jobs[num] = []buildkite.JobInfo{
				{JobID: "job-" + num, JobName: "Sampler Tests", State: "passed", Passed: true},
			}
			api.logs[num+"/job-"+num] = passLog()
		}
	}
	return api
}

func TestGetTestHistory_DetectsRegression(t *testing.T) {
	api := regressionAPI()
	engine := &Engine{API: api}

	result, err := engine.GetTestHistory(context.Background(), testNodeid, Options{
		Branch:      "main",
		Pipeline:    "vllm/ci",
		IncludeLogs: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Timeline, 5)
	// Timeline is oldest first even though the API returned newest first.
	assert.Equal(t, "1", result.Timeline[0].BuildNumber)
	assert.Equal(t, "5", result.Timeline[4].BuildNumber)
	for i := 1; i < len(result.Timeline); i++ {
		assert.False(t, result.Timeline[i].CreatedAt.Before(result.Timeline[i-1].CreatedAt))
	}

	assert.Equal(t, "pass", result.Timeline[0].TestStatus)
	assert.Equal(t, "fail", result.Timeline[4].TestStatus)
	require.Len(t, result.Timeline[4].Jobs, 1)
	assert.Equal(t, "AssertionError: score was <NUM>", result.Timeline[4].Jobs[0].FingerprintNormalized)
	assert.Contains(t, result.Timeline[4].Jobs[0].JobURL, "#job-job-5")

	assert.Equal(t, Regression, result.Assessment.Classification)
	assert.Equal(t, "HIGH", result.Assessment.Confidence)
	assert.Equal(t, "3", result.Assessment.TransitionBuild)
	assert.Contains(t, result.Summary, "REGRESSION")
}

func TestGetTestHistory_JobFilter(t *testing.T) {
	api := regressionAPI()
	engine := &Engine{API: api}

	result, err := engine.GetTestHistory(context.Background(), testNodeid, Options{
		JobFilter: "docs",
	})
	require.NoError(t, err)
	// No job names contain "docs", so the test is never found.
	for _, entry := range result.Timeline {
		assert.False(t, entry.TestFound)
	}
	assert.Equal(t, InsufficientData, result.Assessment.Classification)
}

func TestGetTestHistory_FailedJobsSearchedFirst(t *testing.T) {
	now := time.Now().UTC()
	api := &fakeHistoryAPI{
		builds: []buildkite.BuildInfo{{BuildNumber: "10", CreatedAt: now}},
		jobs: map[string][]buildkite.JobInfo{
			"10": {
				{JobID: "pass-job", JobName: "Passing Shard", State: "passed", Passed: true},
				{JobID: "fail-job", JobName: "Failing Shard", State: "failed"},
			},
		},
		logs: map[string]string{
			"10/fail-job": failLog("boom"),
			"10/pass-job": passLog(),
		},
	}
	engine := &Engine{API: api}
	result, err := engine.GetTestHistory(context.Background(), testNodeid, Options{})
	require.NoError(t, err)

	// The failed job is fetched first and the test is found there, so the
	// passed job's log is never fetched.
	require.Equal(t, []string{"10/fail-job"}, api.logFetches)
	require.Len(t, result.Timeline, 1)
	assert.Equal(t, "fail", result.Timeline[0].TestStatus)
}

func TestGetTestHistory_BudgetStopsScan(t *testing.T) {
	// Each log is ~150KB, so the 200KB budget exhausts after the first
	// build's fetch is recorded and the second estimate is denied.
	bigLog := passLog() + strings.Repeat("filler line\n", 15000)
	now := time.Now().UTC()
	api := &fakeHistoryAPI{
		builds: []buildkite.BuildInfo{
			{BuildNumber: "22", CreatedAt: now},
			{BuildNumber: "21", CreatedAt: now.Add(-time.Hour)},
			{BuildNumber: "20", CreatedAt: now.Add(-2 * time.Hour)},
		},
		jobs: map[string][]buildkite.JobInfo{
			"20": {{JobID: "a", JobName: "Shard", State: "failed"}},
			"21": {{JobID: "b", JobName: "Shard", State: "failed"}},
			"22": {{JobID: "c", JobName: "Shard", State: "failed"}},
		},
		logs: map[string]string{
			"20/a": bigLog, "21/b": bigLog, "22/c": bigLog,
		},
	}
	engine := &Engine{API: api}
	result, err := engine.GetTestHistory(context.Background(), testNodeid, Options{})
	require.NoError(t, err)

	// 180KB after build 20; the estimate for build 21 exceeds the cap.
	assert.Less(t, len(result.Timeline), 3)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "Log budget exhausted")
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "budget exhausted")
}

func TestGetTestHistory_NoBuilds(t *testing.T) {
	engine := &Engine{API: &fakeHistoryAPI{}}
	_, err := engine.GetTestHistory(context.Background(), testNodeid, Options{Branch: "main"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no builds found")
}

func TestGetTestHistory_SkipsInaccessibleBuilds(t *testing.T) {
	now := time.Now().UTC()
	api := &fakeHistoryAPI{
		builds: []buildkite.BuildInfo{
			{BuildNumber: "2", CreatedAt: now},
			{BuildNumber: "1", CreatedAt: now.Add(-time.Hour)},
		},
		jobs: map[string][]buildkite.JobInfo{
			"2": {{JobID: "x", JobName: "Shard", State: "passed", Passed: true}},
		},
		logs:        map[string]string{"2/x": passLog()},
		getBuildErr: map[string]error{"1": fmt.Errorf("HTTP error 404")},
	}
	engine := &Engine{API: api}
	result, err := engine.GetTestHistory(context.Background(), testNodeid, Options{})
	require.NoError(t, err)
	require.Len(t, result.Timeline, 2)
	assert.False(t, result.Timeline[0].TestFound)
	assert.True(t, result.Timeline[1].TestFound)
}
