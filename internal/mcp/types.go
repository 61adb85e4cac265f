// Package mcp implements the client side of the remote tool-calling
// protocol. A Client wraps one remote server connection over either a
// streamable HTTP transport or a supervised child process speaking the
// protocol over stdio. Tool catalogs are cached per server config for the
// config's TTL.
package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// Tool is a named remote capability with a declared input schema.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"input_schema,omitempty"`
}

// ToolResult is the outcome of a single tool invocation. Tool-level
// failures are reported through IsError rather than a Go error; transport
// failures surface as errors from CallTool.
type ToolResult struct {
	IsError    bool        `json:"is_error"`
	Text       string      `json:"text,omitempty"`
	Structured interface{} `json:"structured,omitempty"`
}
