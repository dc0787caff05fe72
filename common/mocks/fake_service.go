// Package mocks provides hand-rolled McpService fakes for server tests.
package mocks

import "github.com/dougbtv/vllm-ci-mcp/common"

// FakeService is a configurable McpService for exercising the server's
// registration wiring without a live backend.
type FakeService struct {
	// Tools is returned verbatim from GetTools.
	Tools []common.Tool

	// InitError, when non-nil, is returned from Init.
	InitError error

	// InitArgs records the serviceArgs value the server passed to Init.
	InitArgs string
}

// Init implements common.McpService.
func (m *FakeService) Init(serviceArgs string) error {
	m.InitArgs = serviceArgs
	return m.InitError
}

// GetTools implements common.McpService.
func (m *FakeService) GetTools() []common.Tool {
	return m.Tools
}

// Shutdown implements common.McpService.
func (m *FakeService) Shutdown() error {
	return nil
}
