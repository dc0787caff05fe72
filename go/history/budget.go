// Package history reconstructs a single test's pass/fail timeline across
// recent builds and classifies the pattern (regression, flake, persistent
// failure).
package history

import (
	"fmt"
	"sync"

	"github.com/dougbtv/vllm-ci-mcp/go/config"
)

// ResourceBudget bounds the work one history invocation may do: a cap on
// jobs inspected per build and a cap on cumulative log bytes fetched. It is
// the only mutable state shared across the scan, so all access is
// serialized.
type ResourceBudget struct {
	mu              sync.Mutex
	maxJobsPerBuild int
	maxLogBytes     int
	totalLogBytes   int
	exhausted       bool
	warnings        []string
}

// NewResourceBudget creates a budget with the given limits; zero values fall
// back to the configured defaults.
func NewResourceBudget(maxJobsPerBuild, maxLogBytes int) *ResourceBudget {
	if maxJobsPerBuild <= 0 {
		maxJobsPerBuild = config.MaxJobsPerBuildForHistory
	}
	if maxLogBytes <= 0 {
		maxLogBytes = config.MaxLogBytesForTestHistory
	}
	return &ResourceBudget{
		maxJobsPerBuild: maxJobsPerBuild,
		maxLogBytes:     maxLogBytes,
	}
}

// CanFetchLog reports whether another log of the estimated size fits in the
// budget. estimatedSize <= 0 uses the default per-job estimate. The first
// denial marks the budget exhausted and records a single warning; once
// exhausted every subsequent call returns false.
func (b *ResourceBudget) CanFetchLog(estimatedSize int) bool {
	if estimatedSize <= 0 {
		estimatedSize = config.EstimatedLogSizePerJob
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exhausted {
		return false
	}
	if b.totalLogBytes+estimatedSize > b.maxLogBytes {
		if !b.exhausted {
			b.warnings = append(b.warnings,
				fmt.Sprintf("Log budget exhausted: %d/%d bytes", b.totalLogBytes, b.maxLogBytes))
			b.exhausted = true
		}
		return false
	}
	return true
}

// RecordLogFetch accumulates the actual size of a fetched log.
func (b *ResourceBudget) RecordLogFetch(actualSize int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalLogBytes += actualSize
}

// Exhausted reports whether the budget has been exhausted.
func (b *ResourceBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhausted
}

// TotalLogBytes returns the cumulative bytes fetched so far.
func (b *ResourceBudget) TotalLogBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalLogBytes
}

// MaxJobsPerBuild returns the per-build job cap.
func (b *ResourceBudget) MaxJobsPerBuild() int {
	return b.maxJobsPerBuild
}

// MaxLogBytes returns the cumulative log byte cap.
func (b *ResourceBudget) MaxLogBytes() int {
	return b.maxLogBytes
}

// AddWarning appends a caller-provided warning message.
func (b *ResourceBudget) AddWarning(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warnings = append(b.warnings, msg)
}

// Warnings returns a copy of the accumulated warnings.
func (b *ResourceBudget) Warnings() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.warnings))
	copy(out, b.warnings)
	return out
}
