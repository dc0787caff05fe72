// Package common defines the service and tool abstractions shared by the
// MCP server and the services it hosts.
package common

// McpService is implemented by every service the MCP server can host.
type McpService interface {
	// Init initializes the service with the provided arguments, a
	// comma-separated list of key=value pairs.
	Init(serviceArgs string) error

	// GetTools returns all the tools supported by the McpService.
	GetTools() []Tool

	// Shutdown implements shutdown procedure for the service.
	Shutdown() error
}
