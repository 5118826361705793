package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"toolgate/internal/logging"
)

// rawCall covers the call element shapes seen in the wild: a flat
// {id, name, arguments} object or the function-wrapped variant
// {id, type, function: {name, arguments}}. Arguments may be a decoded
// object or a JSON-encoded string.
type rawCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// rawEnvelope covers the container shapes: {"tool_calls": [...]} or the
// chat-completion form {"choices": [{"message": {"tool_calls": [...]}}]}.
type rawEnvelope struct {
	ToolCalls []json.RawMessage `json:"tool_calls"`
	Choices   []struct {
		Message struct {
			ToolCalls []json.RawMessage `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Parse decodes a raw response payload into tool calls. Accepted shapes:
// a direct JSON array of calls, an object with a "tool_calls" array, or a
// chat-completion object whose first choice carries the calls. One
// malformed element fails the whole batch with ErrInvalidToolCall;
// payloads with no calls at all fail with ErrNoToolCalls.
func Parse(raw []byte) ([]ToolCall, error) {
	elements, err := extractElements(raw)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, ErrNoToolCalls
	}

	calls := make([]ToolCall, 0, len(elements))
	seen := make(map[string]bool, len(elements))
	for i, element := range elements {
		call, err := decodeCall(element)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidToolCall, i, err)
		}
		if seen[call.ID] {
			return nil, fmt.Errorf("%w: duplicate call id %q", ErrInvalidToolCall, call.ID)
		}
		seen[call.ID] = true
		calls = append(calls, call)
	}

	logging.DispatchDebug("Parsed %d tool calls", len(calls))
	return calls, nil
}

// extractElements finds the call array in whichever container shape the
// payload uses.
func extractElements(raw []byte) ([]json.RawMessage, error) {
	var direct []json.RawMessage
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}

	var envelope rawEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToolCall, err)
	}
	if len(envelope.ToolCalls) > 0 {
		return envelope.ToolCalls, nil
	}
	for _, choice := range envelope.Choices {
		if len(choice.Message.ToolCalls) > 0 {
			return choice.Message.ToolCalls, nil
		}
	}
	return nil, ErrNoToolCalls
}

// decodeCall normalizes one element to a ToolCall.
func decodeCall(element json.RawMessage) (ToolCall, error) {
	var rc rawCall
	if err := json.Unmarshal(element, &rc); err != nil {
		return ToolCall{}, err
	}

	name := rc.Name
	argsRaw := rc.Arguments
	if rc.Function != nil {
		name = rc.Function.Name
		argsRaw = rc.Function.Arguments
	}
	if name == "" {
		return ToolCall{}, fmt.Errorf("missing tool name")
	}

	args, err := decodeArguments(argsRaw)
	if err != nil {
		return ToolCall{}, err
	}

	id := rc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return ToolCall{ID: id, Name: name, Arguments: args}, nil
}

// decodeArguments accepts either a JSON object or a JSON string holding
// an encoded object.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		if args == nil {
			args = map[string]any{}
		}
		return args, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("arguments are neither object nor string")
	}
	if encoded == "" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal([]byte(encoded), &args); err != nil {
		return nil, fmt.Errorf("malformed encoded arguments: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
