package buildkite

import (
	"encoding/json"
	"strings"
	"time"
)

// BuildInfo is an immutable snapshot of one Buildkite build, parsed from a
// single API record.
type BuildInfo struct {
	BuildNumber string     `json:"build_number"`
	BuildURL    string     `json:"build_url"`
	Pipeline    string     `json:"pipeline"`
	Branch      string     `json:"branch"`
	Commit      string     `json:"commit"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Source      string     `json:"source,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// JobInfo is an immutable snapshot of one job within a build.
type JobInfo struct {
	JobID       string `json:"job_id"`
	JobName     string `json:"job_name"`
	State       string `json:"state"`
	ExitStatus  *int   `json:"exit_status,omitempty"`
	Passed      bool   `json:"passed"`
	SoftFailed  bool   `json:"soft_failed"`
	BuildNumber string `json:"build_number"`
}

// AnalyticsTest is a test record from the Test Analytics API.
type AnalyticsTest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Scope    string `json:"scope"`
	Location string `json:"location,omitempty"`
	WebURL   string `json:"web_url,omitempty"`
}

// AnalyticsTestRun is one run record from the Test Analytics API.
type AnalyticsTestRun struct {
	ID        string `json:"id"`
	Result    string `json:"result"`
	CommitSHA string `json:"commit_sha,omitempty"`
	Branch    string `json:"branch,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	WebURL    string `json:"web_url,omitempty"`
}

// rawBuild mirrors the wire format. Several fields have two historical
// spellings (number vs id, web_url vs url) and the pipeline may be either an
// object with a slug or a bare string.
type rawBuild struct {
	Number     json.Number     `json:"number"`
	ID         string          `json:"id"`
	WebURL     string          `json:"web_url"`
	URL        string          `json:"url"`
	Pipeline   json.RawMessage `json:"pipeline"`
	Branch     string          `json:"branch"`
	Commit     string          `json:"commit"`
	State      string          `json:"state"`
	Source     string          `json:"source"`
	Message    string          `json:"message"`
	CreatedAt  string          `json:"created_at"`
	FinishedAt string          `json:"finished_at"`
	Jobs       []rawJob        `json:"jobs"`
}

type rawJob struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Label      string `json:"label"`
	State      string `json:"state"`
	ExitStatus *int   `json:"exit_status"`
	SoftFailed bool   `json:"soft_failed"`
}

// parseTimestamp accepts ISO-8601 with a trailing Z or an explicit offset.
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseBuild(raw rawBuild) BuildInfo {
	number := raw.Number.String()
	if number == "" || number == "0" {
		if raw.ID != "" {
			number = raw.ID
		} else {
			number = "unknown"
		}
	}

	buildURL := raw.WebURL
	if buildURL == "" {
		buildURL = raw.URL
	}

	pipeline := "unknown"
	if len(raw.Pipeline) > 0 {
		var slugged struct {
			Slug string `json:"slug"`
		}
		var asString string
		if err := json.Unmarshal(raw.Pipeline, &slugged); err == nil && slugged.Slug != "" {
			pipeline = slugged.Slug
		} else if err := json.Unmarshal(raw.Pipeline, &asString); err == nil && asString != "" {
			pipeline = asString
		}
	}

	createdAt, ok := parseTimestamp(raw.CreatedAt)
	if !ok {
		createdAt = time.Now().UTC()
	}
	var finishedAt *time.Time
	if t, ok := parseTimestamp(raw.FinishedAt); ok {
		finishedAt = &t
	}

	branch := raw.Branch
	if branch == "" {
		branch = "unknown"
	}
	commit := raw.Commit
	if commit == "" {
		commit = "unknown"
	}
	state := raw.State
	if state == "" {
		state = "unknown"
	}

	return BuildInfo{
		BuildNumber: number,
		BuildURL:    buildURL,
		Pipeline:    pipeline,
		Branch:      branch,
		Commit:      commit,
		State:       state,
		CreatedAt:   createdAt,
		FinishedAt:  finishedAt,
		Source:      raw.Source,
		Message:     raw.Message,
	}
}

func parseJob(raw rawJob, buildNumber string) JobInfo {
	name := raw.Name
	if name == "" {
		name = raw.Label
	}
	if name == "" {
		name = "Unknown Job"
	}
	state := raw.State
	if state == "" {
		state = "unknown"
	}
	id := raw.ID
	if id == "" {
		id = "unknown"
	}
	return JobInfo{
		JobID:       id,
		JobName:     name,
		State:       state,
		ExitStatus:  raw.ExitStatus,
		Passed:      state == "passed",
		SoftFailed:  raw.SoftFailed,
		BuildNumber: buildNumber,
	}
}

// AnalyzableStates are build states a scan can act on.
var AnalyzableStates = []string{"passed", "failed", "failing", "canceled"}

// IsAnalyzableState reports whether a build in this state can be scanned.
func IsAnalyzableState(state string) bool {
	for _, s := range AnalyzableStates {
		if strings.EqualFold(state, s) {
			return true
		}
	}
	return false
}
