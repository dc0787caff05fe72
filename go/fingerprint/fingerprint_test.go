package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	test := func(name, input, expected string) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, expected, Normalize(input))
		})
	}
	test("Floats",
		"AssertionError: accuracy too low: 0.590 < 0.620",
		"AssertionError: accuracy too low: <NUM> < <NUM>")
	test("AddressTimestampInteger",
		"Object at 0x7f8a3c failed at 2024-01-22T10:30:45 with code 42",
		"Object at <ADDR> failed at <TIMESTAMP> with code <NUM>")
	test("UUID",
		"request 3f2a1b4c-0d5e-4f6a-8b9c-1d2e3f4a5b6c rejected",
		"request <UUID> rejected")
	test("SpaceSeparatedTimestamp",
		"started 2024-01-22 10:30:45",
		"started <TIMESTAMP>")
	test("NoVariableTokens",
		"RuntimeError: engine crashed",
		"RuntimeError: engine crashed")
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"AssertionError: accuracy too low: 0.590 < 0.620",
		"Object at 0x7f8a3c failed at 2024-01-22T10:30:45 with code 42",
		"request 3f2a1b4c-0d5e-4f6a-8b9c-1d2e3f4a5b6c rejected",
		"plain message",
	}
	for _, input := range inputs {
		once := Normalize(input)
		assert.Equal(t, once, Normalize(once), "input: %s", input)
	}
}

func TestNormalizeCollapsesEquivalentFailures(t *testing.T) {
	a := Normalize("AssertionError: accuracy too low: 0.591 < 0.620")
	b := Normalize("AssertionError: accuracy too low: 0.588 < 0.620")
	assert.Equal(t, a, b)
}

func TestExtractFromLog_Section(t *testing.T) {
	log := `
____________ tests/test_sampler.py::test_topk ____________

    def test_topk():
>       assert score > 0.9
E       AssertionError: score was 0.42

FAILED tests/test_sampler.py::test_topk - AssertionError: score was 0.42
`
	fp, ok := ExtractFromLog(log, "tests/test_sampler.py::test_topk")
	require.True(t, ok)
	assert.Equal(t, "AssertionError: score was <NUM>", fp)
}

func TestExtractFromLog_NoSectionScansAfterFailedLine(t *testing.T) {
	log := `FAILED tests/test_engine.py::test_boot - RuntimeError: device 3 not found
additional context lines
`
	fp, ok := ExtractFromLog(log, "tests/test_engine.py::test_boot")
	require.True(t, ok)
	assert.Equal(t, "RuntimeError: device <NUM> not found", fp)
}

func TestExtractFromLog_SectionWithoutSignatureUsesFirstLine(t *testing.T) {
	log := `
____________ tests/test_misc.py::test_odd ____________
some unusual failure output with value 17
more lines
FAILED tests/test_misc.py::test_odd
`
	fp, ok := ExtractFromLog(log, "tests/test_misc.py::test_odd")
	require.True(t, ok)
	assert.Equal(t, "some unusual failure output with value <NUM>", fp)
}

func TestExtractFromLog_NotFound(t *testing.T) {
	_, ok := ExtractFromLog("PASSED tests/test_a.py::test_one\n", "tests/test_a.py::test_one")
	assert.False(t, ok)

	_, ok = ExtractFromLog("", "tests/test_a.py::test_one")
	assert.False(t, ok)
}
