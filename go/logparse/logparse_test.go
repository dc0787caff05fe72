package logparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripANSICodes(t *testing.T) {
	test := func(name, input, expected string) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, expected, StripANSICodes(input))
		})
	}
	test("ColorCodes", "\x1b[31mFAILED\x1b[0m", "FAILED")
	test("BareBracketCodes", "[1mtest_name[0m", "test_name")
	test("BuildkiteTimestamps", "_bk;t=1769067604900\x07output", "output")
	test("PlainText", "tests/test_a.py::test_b", "tests/test_a.py::test_b")
}

func TestExtractTestFailures_LegacyLayout(t *testing.T) {
	log := `
=================================== FAILURES ===================================
__________________________ tests/test_sampler.py::test_greedy __________________________

    def test_greedy():
>       assert output == expected
E       AssertionError: mismatch at token 3

FAILED tests/test_sampler.py::test_greedy - AssertionError: mismatch at token 3
`
	failures := ExtractTestFailures(log, "Engine Test")
	require.Len(t, failures, 1)
	assert.Equal(t, "tests/test_sampler.py::test_greedy", failures[0].TestName)
	assert.Equal(t, "Engine Test", failures[0].JobName)
	assert.Contains(t, failures[0].ErrorMessage, "AssertionError")
	assert.NotEmpty(t, failures[0].StackTrace)
}

func TestExtractTestFailures_ModernANSILayout(t *testing.T) {
	// Buildkite log with an inline timestamp prefix and color codes wrapping
	// both the status token and the test name.
	log := "_bk;t=1769067604900\x1b[31mFAILED\x1b[0m tests/v1/distributed/test_dbo.py::\x1b[1mtest_dbo_dp_ep_gsm8k[deepep_low_latency]\x1b[0m - AssertionError: accuracy too low"
	failures := ExtractTestFailures(log, "Distributed Tests")
	require.Len(t, failures, 1)
	assert.Equal(t, "tests/v1/distributed/test_dbo.py::test_dbo_dp_ep_gsm8k[deepep_low_latency]", failures[0].TestName)
}

func TestExtractTestFailures_NodeidBeforeStatus(t *testing.T) {
	log := "tests/kernels/test_attention.py::test_paged[fp16] \x1b[31mFAILED\x1b[0m\n"
	failures := ExtractTestFailures(log, "Kernel Tests")
	require.Len(t, failures, 1)
	assert.Equal(t, "tests/kernels/test_attention.py::test_paged[fp16]", failures[0].TestName)
}

func TestExtractTestFailures_DedupesRetries(t *testing.T) {
	log := strings.Repeat("FAILED tests/test_a.py::test_x - RuntimeError: boom\n", 3) +
		"FAILED tests/test_b.py::test_y - ValueError: bad\n"
	failures := ExtractTestFailures(log, "CI Job")
	require.Len(t, failures, 2)
	assert.Equal(t, "tests/test_a.py::test_x", failures[0].TestName)
	assert.Equal(t, "tests/test_b.py::test_y", failures[1].TestName)
}

func TestExtractTestFailures_ShortSummarySection(t *testing.T) {
	log := `
some unrelated output
=========================== short test summary info ============================
FAILED tests/test_config.py::test_load_yaml
ERROR tests/test_engine.py::test_startup
============================== 2 failed in 4.12s ===============================
`
	failures := ExtractTestFailures(log, "Config Tests")
	require.Len(t, failures, 2)
	assert.Equal(t, "tests/test_config.py::test_load_yaml", failures[0].TestName)
	assert.Equal(t, "tests/test_engine.py::test_startup", failures[1].TestName)
}

func TestExtractTestFailures_JobLevelFallback(t *testing.T) {
	log := "docker: Error response from daemon: OCI runtime create failed\nexit status 125\n"
	failures := ExtractTestFailures(log, "Build Image")
	require.Len(t, failures, 1)
	assert.Equal(t, "Build Image", failures[0].TestName)
	assert.Equal(t, "Build Image", failures[0].JobName)
	assert.Equal(t, JobLevelFailureMessage, failures[0].ErrorMessage)
	assert.Contains(t, failures[0].LogSnippet, "exit status 125")
}

func TestExtractTestFailures_JobLevelFallbackTruncatesSnippet(t *testing.T) {
	log := strings.Repeat("x", 2000) + "\ntail marker\n"
	failures := ExtractTestFailures(log, "Long Job")
	require.Len(t, failures, 1)
	assert.LessOrEqual(t, len(failures[0].LogSnippet), 500)
	assert.Contains(t, failures[0].LogSnippet, "tail marker")
}

func TestExtractTestFailures_TruncationLimits(t *testing.T) {
	section := strings.Repeat("E       assert details line\n", 100)
	log := "____________ tests/test_big.py::test_huge ____________\n" +
		section +
		"AssertionError: " + strings.Repeat("m", 400) + "\n" +
		"FAILED tests/test_big.py::test_huge\n"
	failures := ExtractTestFailures(log, "Big Job")
	require.Len(t, failures, 1)
	assert.LessOrEqual(t, len(failures[0].ErrorMessage), 200)
	assert.LessOrEqual(t, len(failures[0].StackTrace), 1000)
	assert.LessOrEqual(t, len(failures[0].LogSnippet), 500)
}

func TestFindFailureSection(t *testing.T) {
	log := `
____________ tests/test_a.py::test_one ____________
first section body
E   ValueError: one
____________ tests/test_b.py::test_two ____________
second section body
`
	section, ok := FindFailureSection(log, "tests/test_a.py::test_one")
	require.True(t, ok)
	assert.Contains(t, section, "first section body")
	assert.NotContains(t, section, "second section body")

	_, ok = FindFailureSection(log, "tests/test_c.py::test_missing")
	assert.False(t, ok)
}

func TestFirstErrorSignature(t *testing.T) {
	sig, ok := FirstErrorSignature("junk\nValueError: invalid literal\nmore junk")
	require.True(t, ok)
	assert.Equal(t, "ValueError: invalid literal", sig)

	_, ok = FirstErrorSignature("nothing interesting here")
	assert.False(t, ok)
}

func TestFindTestOutcome(t *testing.T) {
	failLog := `
____________ tests/test_a.py::test_one ____________
E   AssertionError: expected 1 got 2
FAILED tests/test_a.py::test_one - AssertionError: expected 1 got 2
`
	outcome := FindTestOutcome(failLog, "tests/test_a.py::test_one")
	assert.True(t, outcome.Found)
	assert.Equal(t, "fail", outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "AssertionError")

	passLog := "PASSED tests/test_a.py::test_one\n"
	outcome = FindTestOutcome(passLog, "tests/test_a.py::test_one")
	assert.True(t, outcome.Found)
	assert.Equal(t, "pass", outcome.Status)

	outcome = FindTestOutcome("unrelated output", "tests/test_a.py::test_one")
	assert.False(t, outcome.Found)
	assert.Equal(t, "unknown", outcome.Status)
}

func TestFindTestOutcome_ANSIWrapped(t *testing.T) {
	log := "tests/test_a.py::test_one \x1b[32mPASSED\x1b[0m\n"
	outcome := FindTestOutcome(log, "tests/test_a.py::test_one")
	assert.True(t, outcome.Found)
	assert.Equal(t, "pass", outcome.Status)
}
