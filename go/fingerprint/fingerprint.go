// Package fingerprint normalizes free-form test failure messages into stable
// signatures so equivalent failures with different numeric values, addresses
// or timestamps collapse to one string.
package fingerprint

import (
	"regexp"
	"strings"

	"github.com/dougbtv/vllm-ci-mcp/go/logparse"
)

type substitution struct {
	pattern     *regexp.Regexp
	replacement string
}

// Applied in order: specific patterns before the integer catch-all, or the
// digits inside UUIDs and timestamps would be mangled first.
var substitutions = []substitution{
	{regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "<UUID>"},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`), "<TIMESTAMP>"},
	{regexp.MustCompile(`0x[0-9a-fA-F]+`), "<ADDR>"},
	{regexp.MustCompile(`\b\d+\.\d+\b`), "<NUM>"},
	{regexp.MustCompile(`\b\d+\b`), "<NUM>"},
}

// Normalize replaces variable tokens in an error message with placeholders.
// Idempotent: normalizing an already-normalized string is a no-op.
func Normalize(errorMessage string) string {
	normalized := errorMessage
	for _, sub := range substitutions {
		normalized = sub.pattern.ReplaceAllString(normalized, sub.replacement)
	}
	return normalized
}

// ExtractFromLog locates the failure region for a nodeid and returns its
// normalized error signature. If the per-test underscore section is missing,
// the 500 bytes following the FAILED line are scanned instead. Returns false
// when no FAILED line or no signature is found.
func ExtractFromLog(logText, testNodeid string) (string, bool) {
	quoted := regexp.QuoteMeta(testNodeid)
	failedRe, err := regexp.Compile(`(?m)^FAILED ` + quoted)
	if err != nil {
		return "", false
	}
	failedLoc := failedRe.FindStringIndex(logText)
	if failedLoc == nil {
		return "", false
	}

	section, ok := logparse.FindFailureSection(logText, testNodeid)
	if !ok {
		end := failedLoc[0] + 500
		if end > len(logText) {
			end = len(logText)
		}
		section = logText[failedLoc[0]:end]
		if sig, ok := logparse.FirstErrorSignature(section); ok {
			return Normalize(sig), true
		}
		return "", false
	}

	if sig, ok := logparse.FirstErrorSignature(section); ok {
		return Normalize(sig), true
	}

	// No recognizable signature; fall back to the section's first non-empty
	// line.
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return Normalize(line), true
	}
	return "", false
}
