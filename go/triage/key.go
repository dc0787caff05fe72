package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dougbtv/vllm-ci-mcp/go/logparse"
)

// GenerateFailureKey produces a stable deduplication key for a failure:
// the first 16 hex characters of SHA-256 over job name (lowercased, spaces
// to underscores), test name, and the first line of the error message
// truncated to 100 characters. The error component is omitted when the
// failure has no error message.
func GenerateFailureKey(failure logparse.TestFailure) string {
	components := []string{
		strings.ReplaceAll(strings.ToLower(failure.JobName), " ", "_"),
		failure.TestName,
	}
	if failure.ErrorMessage != "" {
		firstLine := failure.ErrorMessage
		if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
			firstLine = firstLine[:idx]
		}
		if len(firstLine) > 100 {
			firstLine = firstLine[:100]
		}
		components = append(components, firstLine)
	}
	sum := sha256.Sum256([]byte(strings.Join(components, "::")))
	return hex.EncodeToString(sum[:])[:16]
}

// DeduplicateFailures drops repeated failure keys, keeping the first
// occurrence of each.
func DeduplicateFailures(failures []FailureClassification) []FailureClassification {
	seen := map[string]bool{}
	unique := make([]FailureClassification, 0, len(failures))
	for _, f := range failures {
		if !seen[f.FailureKey] {
			seen[f.FailureKey] = true
			unique = append(unique, f)
		}
	}
	return unique
}
