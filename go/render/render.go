// Package render formats scan results as markdown: a detailed daily
// findings report and a one-line standup summary.
package render

import (
	"fmt"
	"strings"

	"github.com/hako/durafmt"

	"github.com/dougbtv/vllm-ci-mcp/go/buildkite"
	"github.com/dougbtv/vllm-ci-mcp/go/triage"
)

// summaryCategories are the categories called out in the standup one-liner.
var summaryCategories = []triage.Category{
	triage.NewRegression,
	triage.FlakySuspected,
	triage.InfraSuspected,
}

// IsSoftFailure reports whether the failure came from a soft-failed
// (allowed-to-fail) job.
func IsSoftFailure(failure triage.FailureClassification, jobs []buildkite.JobInfo) bool {
	for _, j := range jobs {
		if j.JobName == failure.TestFailure.JobName {
			return j.SoftFailed
		}
	}
	return false
}

// splitSoft partitions failures into hard and soft. Without job info every
// failure is treated as hard.
func splitSoft(result triage.ScanResult, jobs []buildkite.JobInfo) (hard, soft []triage.FailureClassification) {
	if len(jobs) == 0 {
		return result.Failures, nil
	}
	for _, f := range result.Failures {
		if IsSoftFailure(f, jobs) {
			soft = append(soft, f)
		} else {
			hard = append(hard, f)
		}
	}
	return hard, soft
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

func groupByCategory(failures []triage.FailureClassification) map[triage.Category][]triage.FailureClassification {
	byCategory := map[triage.Category][]triage.FailureClassification{}
	for _, f := range failures {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}
	return byCategory
}

// RenderDailyFindings renders the detailed report: a summary block, then
// hard failures grouped by category in detailed form, then soft failures in
// compact form. jobs may be nil, in which case every failure counts as hard.
func RenderDailyFindings(result triage.ScanResult, jobs []buildkite.JobInfo) string {
	var md []string
	md = append(md, fmt.Sprintf("# Daily Findings - %s\n", result.ScanTimestamp.Format("2006-01-02")))

	hardFailures, softFailures := splitSoft(result, jobs)

	hardFailedJobs, softFailedJobs := 0, 0
	if len(jobs) > 0 {
		for _, j := range jobs {
			if j.Passed {
				continue
			}
			if j.SoftFailed {
				softFailedJobs++
			} else {
				hardFailedJobs++
			}
		}
	} else {
		hardFailedJobs = result.FailedJobs
	}

	md = append(md,
		"## Summary\n",
		fmt.Sprintf("- **Build**: [%s](%s)", result.BuildInfo.BuildNumber, result.BuildInfo.BuildURL),
		fmt.Sprintf("- **Branch**: %s", result.BuildInfo.Branch),
		fmt.Sprintf("- **Commit**: `%s`", shortCommit(result.BuildInfo.Commit)),
	)
	if result.BuildInfo.FinishedAt != nil && result.BuildInfo.FinishedAt.After(result.BuildInfo.CreatedAt) {
		duration := result.BuildInfo.FinishedAt.Sub(result.BuildInfo.CreatedAt)
		md = append(md, fmt.Sprintf("- **Duration**: %s", durafmt.Parse(duration).LimitFirstN(2)))
	}
	md = append(md,
		fmt.Sprintf("- **Total Jobs**: %d, **Failed**: %d (%d hard / %d soft)",
			result.TotalJobs, result.FailedJobs, hardFailedJobs, softFailedJobs),
		fmt.Sprintf("- **Unique Failures**: %d (%d hard / %d soft)",
			len(result.Failures), len(hardFailures), len(softFailures)),
	)

	if result.BuildInfo.State == "passed" && len(softFailures) > 0 && len(hardFailures) == 0 {
		md = append(md, "- **Build Status**: PASSED (all failures are optional)")
	}
	md = append(md, "")

	renderSection := func(failures []triage.FailureClassification, title string, compact bool) {
		if len(failures) == 0 {
			md = append(md, fmt.Sprintf("## %s (0)\n", title), "(none)\n")
			return
		}
		md = append(md, fmt.Sprintf("## %s (%d)\n", title, len(failures)))

		byCategory := groupByCategory(failures)
		for _, category := range triage.CategoryOrder {
			group, ok := byCategory[category]
			if !ok {
				continue
			}
			md = append(md, fmt.Sprintf("### %s (%d failures)\n", category, len(group)))
			for _, f := range group {
				if compact {
					issueStr := ""
					if f.GitHubIssue != "" {
						issueStr = fmt.Sprintf(" - [%s](%s)", f.GitHubIssue, f.GitHubIssue)
					}
					md = append(md, fmt.Sprintf("- **%s**%s", f.TestFailure.JobName, issueStr))
					continue
				}

				md = append(md, fmt.Sprintf("- **%s** in `%s`", f.TestFailure.TestName, f.TestFailure.JobName))
				if f.TestFailure.ErrorMessage != "" {
					preview := f.TestFailure.ErrorMessage
					if len(preview) > 100 {
						preview = preview[:100] + "..."
					}
					md = append(md, fmt.Sprintf("  - Error: `%s`", preview))
				}
				md = append(md,
					fmt.Sprintf("  - Reason: %s", f.Reason),
					fmt.Sprintf("  - Confidence: %.0f%%", f.Confidence*100),
				)
				if f.GitHubIssue != "" {
					md = append(md, fmt.Sprintf("  - GitHub Issue: %s", f.GitHubIssue))
				}
				if f.Owner != "" {
					confidenceStr := "unknown"
					if f.OwnerConfidence > 0 {
						confidenceStr = fmt.Sprintf("%.0f%%", f.OwnerConfidence*100)
					}
					md = append(md, fmt.Sprintf("  - Owner: %s (confidence: %s)", f.Owner, confidenceStr))
				}
				md = append(md, "")
			}
		}
	}

	renderSection(hardFailures, "Hard Failures (blocking builds)", false)
	renderSection(softFailures, "Soft Failures (optional tests, allowed to fail)", true)

	return strings.Join(md, "\n")
}

// RenderStandupSummary renders the one-to-two line standup summary.
func RenderStandupSummary(result triage.ScanResult, jobs []buildkite.JobInfo) string {
	hardFailures, softFailures := splitSoft(result, jobs)

	countByCategory := func(failures []triage.FailureClassification) map[triage.Category]int {
		counts := map[triage.Category]int{}
		for _, f := range failures {
			counts[f.Category]++
		}
		return counts
	}
	hardCounts := countByCategory(hardFailures)
	softCounts := countByCategory(softFailures)

	summaryParts := func(counts map[triage.Category]int) []string {
		var parts []string
		for _, category := range summaryCategories {
			if n, ok := counts[category]; ok {
				parts = append(parts, fmt.Sprintf("%d %s", n, category))
			}
		}
		return parts
	}

	stateStr := strings.ToUpper(result.BuildInfo.State)

	var lines []string
	if result.BuildInfo.State == "passed" && len(softFailures) > 0 && len(hardFailures) == 0 {
		line := fmt.Sprintf("Nightly build [%s](%s) %s with %d soft-failed (optional) tests",
			result.BuildInfo.BuildNumber, result.BuildInfo.BuildURL, stateStr, len(softFailures))
		if parts := summaryParts(softCounts); len(parts) > 0 {
			line += ": " + strings.Join(parts, ", ")
		}
		lines = append(lines, line)
	} else {
		failureContext := ""
		if len(jobs) > 0 && (len(hardFailures) > 0 || len(softFailures) > 0) {
			failureContext = fmt.Sprintf(" (%d hard / %d soft)", len(hardFailures), len(softFailures))
		}
		line := fmt.Sprintf("Nightly build [%s](%s) %s with %d unique failures%s",
			result.BuildInfo.BuildNumber, result.BuildInfo.BuildURL, stateStr, len(result.Failures), failureContext)
		if parts := summaryParts(hardCounts); len(parts) > 0 {
			line += ": " + strings.Join(parts, ", ") + "."
		}
		lines = append(lines, line)
	}

	var newRegressions []string
	for _, f := range hardFailures {
		if f.Category != triage.NewRegression {
			continue
		}
		name := f.TestFailure.TestName
		if idx := strings.LastIndex(name, "::"); idx >= 0 {
			name = name[idx+2:]
		}
		newRegressions = append(newRegressions, name)
		if len(newRegressions) == 3 {
			break
		}
	}
	if len(newRegressions) > 0 {
		lines = append(lines, fmt.Sprintf("Key NEW_REGRESSION tests: %s", strings.Join(newRegressions, ", ")))
	}

	return strings.Join(lines, " ")
}
