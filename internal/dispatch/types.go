// Package dispatch is the entry point of the tool-execution pipeline. It
// parses raw tool-call payloads, validates them against the registry,
// applies the security gate, runs handlers through the isolated executor,
// sanitizes output, audits every attempt, and emits lifecycle events.
//
// The hard contract: every call that enters the dispatcher produces a
// Result. Nothing below this boundary is allowed to fail in a way that
// loses a call's outcome.
package dispatch

import "errors"

var (
	// ErrNoToolCalls is returned when the payload contains no calls.
	ErrNoToolCalls = errors.New("no tool calls in response")

	// ErrInvalidToolCall is returned when any element of the payload
	// cannot be decoded. Parsing is all-or-nothing.
	ErrInvalidToolCall = errors.New("invalid tool call")
)

// ToolCall is one parsed invocation request. Immutable once parsed.
type ToolCall struct {
	// ID is unique within the batch. Synthesized when the payload
	// omits one.
	ID string `json:"id"`

	// Name is the registry key of the requested tool.
	Name string `json:"name"`

	// Arguments are the decoded call arguments.
	Arguments map[string]any `json:"arguments"`
}

// Status is the terminal state of one call. Exactly one of the three
// variants, never partially populated.
type Status string

const (
	// StatusOk means the handler returned a value.
	StatusOk Status = "ok"

	// StatusError covers validation failures, security denials, and
	// handler errors.
	StatusError Status = "error"

	// StatusTimeout means the call exceeded its wall-clock budget.
	StatusTimeout Status = "timeout"
)

// Result is the terminal outcome returned for every call, whatever
// happened to it. The caller distinguishes outcomes only via Status.
type Result struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Value      any    `json:"value,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}
