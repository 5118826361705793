// Package tools defines the tool abstraction the dispatcher executes against.
// A tool is an opaque named capability: a handler function plus an argument
// schema. The dispatcher never inspects what a handler does; it only
// validates arguments against the schema and runs the handler through the
// security pipeline.
package tools

import (
	"context"
	"time"

	"toolgate/internal/permission"
)

// ToolCategory classifies tools for listing and selection.
type ToolCategory string

const (
	// CategoryFile covers filesystem operations inside the project root.
	CategoryFile ToolCategory = "/file"

	// CategoryShell covers external command execution.
	CategoryShell ToolCategory = "/shell"

	// CategorySearch covers read-only content search.
	CategorySearch ToolCategory = "/search"

	// CategoryGeneral is for tools that fit no other category.
	CategoryGeneral ToolCategory = "/general"
)

// ExecutionContext carries per-batch state into handlers. Built once per
// request batch and never mutated afterwards; each call receives the same
// immutable snapshot.
type ExecutionContext struct {
	// SessionID identifies the requesting session, empty for anonymous use.
	SessionID string

	// ProjectRoot is the directory tools are confined to.
	ProjectRoot string

	// Timeout is the per-call wall-clock budget.
	Timeout time.Duration

	// GrantedTier is the session's access level.
	GrantedTier permission.Tier

	// ConsentedTools lists tool names the user explicitly approved,
	// bypassing the tier comparison.
	ConsentedTools map[string]bool
}

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
// Compiled into a validator at registration time.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution. Handlers receive the
// validated arguments and the batch's execution context, and are expected
// to respect ctx cancellation.
type ExecuteFunc func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error)

// Tool defines a named capability the dispatcher can invoke.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	Description string

	// Category classifies the tool for listing.
	Category ToolCategory

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Priority is used when multiple tools match (default 50).
	Priority int

	// compiled is the schema validator, built by Registry.Register.
	compiled *compiledSchema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// WithPriority returns a copy of the tool with the given priority.
func (t *Tool) WithPriority(priority int) *Tool {
	copy := *t
	copy.Priority = priority
	return &copy
}
