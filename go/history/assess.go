package history

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Assessment classifies a test's timeline.
type Assessment struct {
	Classification  string   `json:"classification"`
	Confidence      string   `json:"confidence"`
	Notes           []string `json:"notes"`
	TransitionBuild string   `json:"transition_build,omitempty"`
}

// Classification values.
const (
	Regression       = "REGRESSION"
	FlakeOnset       = "FLAKE_ONSET"
	PersistentFail   = "PERSISTENT_FAIL"
	Sporadic         = "SPORADIC"
	InsufficientData = "INSUFFICIENT_DATA"
)

// CalculateFailRate returns the failure rate among found entries in the
// half-open window [startIdx, endIdx). endIdx < 0 means the end of the
// slice.
func CalculateFailRate(timeline []TimelineEntry, startIdx, endIdx int) float64 {
	if endIdx < 0 {
		endIdx = len(timeline)
	}
	var found, failed int
	for _, t := range timeline[startIdx:endIdx] {
		if !t.TestFound {
			continue
		}
		found++
		if t.TestStatus == "fail" {
			failed++
		}
	}
	if found == 0 {
		return 0.0
	}
	return float64(failed) / float64(found)
}

// FindTransitionPoint looks for the smallest index where the fail rate flips
// from under 20% before to over 80% after, signaling a regression onset.
// Returns -1 when no clear transition exists.
func FindTransitionPoint(timeline []TimelineEntry) int {
	if len(timeline) < 3 {
		return -1
	}
	for i := 1; i < len(timeline); i++ {
		before := CalculateFailRate(timeline, 0, i)
		after := CalculateFailRate(timeline, i, -1)
		if before < 0.2 && after > 0.8 {
			return i
		}
	}
	return -1
}

// collectFingerprints gathers normalized fingerprints from failing entries
// in timeline[startIdx:].
func collectFingerprints(timeline []TimelineEntry, startIdx int) []string {
	var fingerprints []string
	for _, t := range timeline[startIdx:] {
		if t.TestStatus != "fail" {
			continue
		}
		for _, job := range t.Jobs {
			if job.FingerprintNormalized != "" {
				fingerprints = append(fingerprints, job.FingerprintNormalized)
			}
		}
	}
	return fingerprints
}

// modalCount returns the count of the most common value, breaking ties by
// first appearance, and the number of distinct values.
func modalCount(values []string) (int, int) {
	counts := map[string]int{}
	var order []string
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best := 0
	for _, v := range order {
		if counts[v] > best {
			best = counts[v]
		}
	}
	return best, len(order)
}

// ConsistentFingerprintAfter reports whether more than 80% of the failure
// fingerprints from timeline[startIdx:] share one modal value.
func ConsistentFingerprintAfter(timeline []TimelineEntry, startIdx int) bool {
	fingerprints := collectFingerprints(timeline, startIdx)
	if len(fingerprints) == 0 {
		return false
	}
	modal, _ := modalCount(fingerprints)
	return float64(modal)/float64(len(fingerprints)) > 0.8
}

func percent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

func shortCommit(sha string) string {
	if sha == "" {
		sha = "unknown"
	}
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return sha
}

// AssessTestHistory classifies a chronological timeline. Entries where the
// test was not found are ignored; fewer than three found entries yields
// INSUFFICIENT_DATA. A clear pass-to-fail transition with a consistent
// failure fingerprint afterwards is a REGRESSION; otherwise the overall fail
// rate and fingerprint diversity decide between FLAKE_ONSET, SPORADIC and
// PERSISTENT_FAIL.
func AssessTestHistory(timeline []TimelineEntry) Assessment {
	var found []TimelineEntry
	for _, t := range timeline {
		if t.TestFound {
			found = append(found, t)
		}
	}

	if len(found) < 3 {
		return Assessment{
			Classification: InsufficientData,
			Confidence:     "LOW",
			Notes: []string{
				fmt.Sprintf("Test found in only %d builds", len(found)),
				"Need at least 3 builds to detect patterns",
			},
		}
	}

	failRate := CalculateFailRate(found, 0, -1)

	if i := FindTransitionPoint(found); i >= 0 && ConsistentFingerprintAfter(found, i) {
		transition := found[i]
		return Assessment{
			Classification: Regression,
			Confidence:     "HIGH",
			Notes: []string{
				fmt.Sprintf("Clear transition at build %s (commit %s)", transition.BuildNumber, shortCommit(transition.CommitSHA)),
				fmt.Sprintf("Consistent failure fingerprint across %d builds after transition", len(found)-i),
				fmt.Sprintf("Fail rate before: %s", percent(CalculateFailRate(found, 0, i))),
				fmt.Sprintf("Fail rate after: %s", percent(CalculateFailRate(found, i, -1))),
			},
			TransitionBuild: transition.BuildNumber,
		}
	}

	if failRate >= 0.2 && failRate <= 0.8 {
		fingerprints := collectFingerprints(found, 0)
		if len(fingerprints) > 0 {
			if _, distinct := modalCount(fingerprints); distinct > 1 {
				return Assessment{
					Classification: FlakeOnset,
					Confidence:     "MED",
					Notes: []string{
						fmt.Sprintf("Intermittent failures: %s fail rate", percent(failRate)),
						fmt.Sprintf("%d different failure fingerprints detected", distinct),
						"Test alternates between passing and failing",
					},
				}
			}
		}
		return Assessment{
			Classification: Sporadic,
			Confidence:     "MED",
			Notes: []string{
				fmt.Sprintf("Intermittent failures: %s fail rate", percent(failRate)),
				"Occasional failures without clear pattern",
			},
		}
	}

	if failRate > 0.8 {
		fingerprints := collectFingerprints(found, 0)
		consistent := false
		if len(fingerprints) > 0 {
			modal, _ := modalCount(fingerprints)
			consistent = float64(modal)/float64(len(fingerprints)) > 0.8
		}
		return Assessment{
			Classification: PersistentFail,
			Confidence:     "HIGH",
			Notes: []string{
				fmt.Sprintf("Failing in %s of recent builds", percent(failRate)),
				fmt.Sprintf("Consistent fingerprint: %t", consistent),
				"Test has been broken for extended period",
			},
		}
	}

	return Assessment{
		Classification: Sporadic,
		Confidence:     "HIGH",
		Notes: []string{
			fmt.Sprintf("Rare failures: %s fail rate", percent(failRate)),
			"Test is mostly stable with occasional failures",
		},
	}
}

// GenerateSummary renders a markdown summary of the timeline and its
// assessment. The budget is optional; when present its byte usage is
// reported.
func GenerateSummary(testNodeid string, timeline []TimelineEntry, assessment Assessment, budget *ResourceBudget) string {
	lines := []string{
		fmt.Sprintf("## Test History: `%s`", testNodeid),
		"",
		fmt.Sprintf("**Classification:** %s (confidence: %s)", assessment.Classification, assessment.Confidence),
		"",
	}

	if len(assessment.Notes) > 0 {
		lines = append(lines, "**Analysis:**")
		for _, note := range assessment.Notes {
			lines = append(lines, "- "+note)
		}
		lines = append(lines, "")
	}

	if assessment.TransitionBuild != "" {
		for _, t := range timeline {
			if t.BuildNumber != assessment.TransitionBuild {
				continue
			}
			lines = append(lines,
				"**Regression introduced at:**",
				fmt.Sprintf("- Build: [%s](%s)", assessment.TransitionBuild, t.BuildURL),
				fmt.Sprintf("- Commit: %s", shortCommit(t.CommitSHA)),
			)
			if !t.CreatedAt.IsZero() {
				lines = append(lines, fmt.Sprintf("- Time: %s", t.CreatedAt.Format("2006-01-02T15:04:05Z07:00")))
			}
			lines = append(lines, "")
			break
		}
	}

	var found []TimelineEntry
	for _, t := range timeline {
		if t.TestFound {
			found = append(found, t)
		}
	}
	if len(found) > 0 {
		var failed, passed int
		for _, t := range found {
			switch t.TestStatus {
			case "fail":
				failed++
			case "pass":
				passed++
			}
		}
		lines = append(lines,
			fmt.Sprintf("**Timeline summary:** %d builds scanned", len(found)),
			fmt.Sprintf("- Passed: %d", passed),
			fmt.Sprintf("- Failed: %d", failed),
			"")

		lines = append(lines, "**Recent builds:**")
		recent := found
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		for i := len(recent) - 1; i >= 0; i-- {
			t := recent[i]
			emoji := "❌"
			if t.TestStatus == "pass" {
				emoji = "✅"
			}
			lines = append(lines, fmt.Sprintf("- %s Build [%s](%s) (commit %s)", emoji, t.BuildNumber, t.BuildURL, shortCommit(t.CommitSHA)))
		}
	}

	if budget != nil {
		lines = append(lines, "",
			fmt.Sprintf("**Log budget:** %s of %s used",
				humanize.Bytes(uint64(budget.TotalLogBytes())),
				humanize.Bytes(uint64(budget.MaxLogBytes()))))
	}

	return strings.Join(lines, "\n")
}
