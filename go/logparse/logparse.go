// Package logparse extracts pytest test failures from raw Buildkite job
// logs. The logs are noisy: ANSI color codes and Buildkite inline timestamps
// (_bk;t=<millis><BEL>) appear between the tokens we match, so the patterns
// admit that noise inline rather than pre-stripping the whole log, which
// would break the offsets used for section extraction.
package logparse

import (
	"regexp"
	"strings"

	"github.com/dougbtv/vllm-ci-mcp/go/config"
)

// TestFailure is a single test failure extracted from a job log. TestName is
// a pytest nodeid, or the job name when the job failed without producing
// pytest output.
type TestFailure struct {
	TestName     string `json:"test_name"`
	JobName      string `json:"job_name"`
	ErrorMessage string `json:"error_message,omitempty"`
	StackTrace   string `json:"stack_trace,omitempty"`
	LogSnippet   string `json:"log_snippet,omitempty"`
}

// JobLevelFailureMessage marks a failed job whose log contained no pytest
// test names.
const JobLevelFailureMessage = "Job failed without pytest test names"

// noise is the character class for ANSI fragments and whitespace allowed
// between a status token and a nodeid.
const noise = `[\s\x1b\[0-9;m]+`

// nodeid is <path chars>::<non-whitespace>; parametrization in brackets is
// part of the \S+ tail.
const nodeid = `[\w/.-]+::\S+`

var (
	ansiEscapeRe  = regexp.MustCompile(`\x1b\[[0-9;]*m|\[[0-9;]*m`)
	bkTimestampRe = regexp.MustCompile(`_bk;t=[0-9]+\x07`)

	// Legacy "FAILED <nodeid>" and modern "<nodeid> FAILED" layouts, with
	// noise tolerated between the tokens.
	failedRe = regexp.MustCompile(`(?:FAILED` + noise + `(` + nodeid + `)|(` + nodeid + `)` + noise + `FAILED)`)
	errorRe  = regexp.MustCompile(`(?:ERROR` + noise + `(` + nodeid + `)|(` + nodeid + `)` + noise + `ERROR)`)

	// "=== short test summary info ===" with at least three = on both sides.
	shortSummaryRe       = regexp.MustCompile(`(?s)={3,}\s*short test summary info\s*={3,}(.*?)(?:={3,}|$)`)
	shortSummaryFailedRe = regexp.MustCompile(`(?m)^(?:FAILED|ERROR)\s+(` + nodeid + `)`)

	// Pytest delimits per-test failure sections with runs of underscores.
	underscoreRunRe = regexp.MustCompile(`_{10,}`)

	// Error signatures, tried in order; the first hit becomes the error
	// message.
	errorSigRes = []*regexp.Regexp{
		regexp.MustCompile(`(\w+Error): (.+?)(?:\n|$)`),
		regexp.MustCompile(`AssertionError: (.+?)(?:\n|$)`),
		regexp.MustCompile(`RuntimeError: (.+?)(?:\n|$)`),
		regexp.MustCompile(`TimeoutError: (.+?)(?:\n|$)`),
	}
)

// StripANSICodes removes ANSI escape codes and Buildkite inline timestamps
// from captured strings.
func StripANSICodes(text string) string {
	text = ansiEscapeRe.ReplaceAllString(text, "")
	return bkTimestampRe.ReplaceAllString(text, "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// firstNonEmptyGroup returns whichever of the two alternation groups
// captured.
func firstNonEmptyGroup(m []string) string {
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// FindFailureSection locates the pytest failure section for a nodeid,
// delimited by runs of >=10 underscores around the test name, and returns
// the text up to the next underscore run.
func FindFailureSection(logText, testNodeid string) (string, bool) {
	headerRe, err := regexp.Compile(`_{10,}\s+` + regexp.QuoteMeta(testNodeid) + `\s+_{10,}`)
	if err != nil {
		return "", false
	}
	loc := headerRe.FindStringIndex(logText)
	if loc == nil {
		return "", false
	}
	rest := logText[loc[1]:]
	if next := underscoreRunRe.FindStringIndex(rest); next != nil {
		rest = rest[:next[0]]
	}
	return rest, true
}

// FirstErrorSignature matches the error-signature patterns in order against
// text and returns the first full match, trimmed.
func FirstErrorSignature(text string) (string, bool) {
	for _, re := range errorSigRes {
		if m := re.FindString(text); m != "" {
			return strings.TrimSpace(m), true
		}
	}
	return "", false
}

// ExtractTestFailures parses pytest output into individual test failures.
//
// Strategy:
//  1. Match FAILED/ERROR nodeids anywhere in the log (both layouts).
//  2. Fall back to scraping the "short test summary info" section.
//  3. Fall back to a single job-level failure; many CI jobs fail without
//     running pytest at all.
//
// The returned slice is never empty.
func ExtractTestFailures(logText, jobName string) []TestFailure {
	var failedTests []string
	for _, m := range failedRe.FindAllStringSubmatch(logText, -1) {
		failedTests = append(failedTests, StripANSICodes(firstNonEmptyGroup(m)))
	}
	for _, m := range errorRe.FindAllStringSubmatch(logText, -1) {
		failedTests = append(failedTests, StripANSICodes(firstNonEmptyGroup(m)))
	}

	// Retries produce repeated nodeids; keep first occurrence order.
	seen := map[string]bool{}
	var uniqueTests []string
	for _, name := range failedTests {
		if !seen[name] {
			seen[name] = true
			uniqueTests = append(uniqueTests, name)
		}
	}

	if len(uniqueTests) == 0 {
		if m := shortSummaryRe.FindStringSubmatch(logText); m != nil {
			for _, sm := range shortSummaryFailedRe.FindAllStringSubmatch(m[1], -1) {
				if !seen[sm[1]] {
					seen[sm[1]] = true
					uniqueTests = append(uniqueTests, sm[1])
				}
			}
		}
	}

	if len(uniqueTests) == 0 {
		return []TestFailure{{
			TestName:     jobName,
			JobName:      jobName,
			ErrorMessage: JobLevelFailureMessage,
			LogSnippet:   tail(logText, config.MaxLogSnippetLength),
		}}
	}

	failures := make([]TestFailure, 0, len(uniqueTests))
	for _, testName := range uniqueTests {
		failure := TestFailure{TestName: testName, JobName: jobName}

		if section, ok := FindFailureSection(logText, testName); ok {
			if sig, ok := FirstErrorSignature(section); ok {
				failure.ErrorMessage = truncate(sig, config.MaxErrorMessageLength)
			}
			failure.StackTrace = truncate(section, config.MaxStackTraceLength)
			failure.LogSnippet = truncate(section, config.MaxLogSnippetLength)
		} else if idx := strings.Index(logText, testName); idx >= 0 {
			// No section; grab a bounded context after the nodeid, capped at
			// ten lines.
			context := logText[idx:]
			pos, newlines := 0, 0
			for pos < len(context) && newlines < 10 {
				next := strings.IndexByte(context[pos:], '\n')
				if next < 0 {
					pos = len(context)
					break
				}
				pos += next + 1
				newlines++
			}
			failure.LogSnippet = truncate(context[:pos], config.MaxLogSnippetLength)
		}

		failures = append(failures, failure)
	}
	return failures
}

// Outcome is the result of searching a log for one specific test.
type Outcome struct {
	Found        bool
	Status       string // "pass" | "fail" | "unknown"
	ErrorMessage string
	LogExcerpt   string
}

// FindTestOutcome searches the full log for a specific nodeid in FAILED,
// ERROR and PASSED forms, both layouts. Failing outcomes reuse the failure
// extraction logic for details.
func FindTestOutcome(logText, testNodeid string) Outcome {
	quoted := regexp.QuoteMeta(testNodeid)
	for _, status := range []string{"FAILED", "ERROR"} {
		re := regexp.MustCompile(`(?:` + status + noise + quoted + `|` + quoted + noise + status + `)`)
		if !re.MatchString(logText) {
			continue
		}
		outcome := Outcome{Found: true, Status: "fail"}
		for _, f := range ExtractTestFailures(logText, "") {
			if f.TestName == testNodeid {
				outcome.ErrorMessage = f.ErrorMessage
				outcome.LogExcerpt = f.LogSnippet
				break
			}
		}
		return outcome
	}

	passRe := regexp.MustCompile(`(?:PASSED` + noise + quoted + `|` + quoted + noise + `PASSED)`)
	if passRe.MatchString(logText) {
		return Outcome{Found: true, Status: "pass"}
	}
	return Outcome{Status: "unknown"}
}
