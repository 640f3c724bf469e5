package tools

import (
	"context"
	"encoding/json"
)

// Tool defines the interface for tools that can be called by the agent
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// Parameters returns the JSON Schema for the tool's parameters
	Parameters() json.RawMessage

	// Execute runs the tool with validated arguments. The result must be
	// JSON-serializable; a returned error becomes an {"error": ...} result.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// ErrorResult is the shape every failed execution is reported in.
type ErrorResult struct {
	Error string `json:"error"`
}
