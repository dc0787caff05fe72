package common

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolArgumentType enumerates the JSON schema types supported for tool
// arguments.
type ToolArgumentType int

const (
	StringArgument ToolArgumentType = iota
	BooleanArgument
	NumberArgument
	ObjectArgument
	ArrayArgument
)

// ToolArgument describes one named argument of a tool.
type ToolArgument struct {
	// Name of the argument.
	Name string

	// Description of the argument surfaced to the client.
	Description string

	// Required marks the argument as mandatory.
	Required bool

	// ArgumentType is the JSON schema type of the argument.
	ArgumentType ToolArgumentType

	// EnumValues restricts a string argument to a fixed value set.
	EnumValues []string

	// ArraySchema defines the item schema for array arguments, e.g.
	// {"type": "string"}. Required for ArrayArgument.
	ArraySchema map[string]any
}

// Tool is one operation exposed by a McpService.
type Tool struct {
	// Name of the tool.
	Name string

	// Description of the tool surfaced to the client.
	Description string

	// Arguments accepted by the tool.
	Arguments []ToolArgument

	// Handler executes the tool.
	Handler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Resource is one readable resource exposed by a McpService.
type Resource struct {
	// URI of the resource, e.g. "prompt://ci-watch-daily".
	URI string

	// Name of the resource.
	Name string

	// Description of the resource surfaced to the client.
	Description string

	// MimeType of the resource contents.
	MimeType string

	// Handler returns the resource contents.
	Handler func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error)
}

// ResourceProvider is implemented by services that expose resources in
// addition to tools.
type ResourceProvider interface {
	// GetResources returns all the resources supported by the service.
	GetResources() []Resource
}
