package dispatch

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseFunctionWrappedShape(t *testing.T) {
	raw := []byte(`{"tool_calls":[{"id":"c1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}]}`)

	calls, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []ToolCall{{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDirectList(t *testing.T) {
	raw := []byte(`[{"id":"c1","name":"grep","arguments":{"pattern":"func"}},{"id":"c2","name":"list_dir","arguments":{}}]`)

	calls, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(calls) != 2 || calls[0].Name != "grep" || calls[1].Name != "list_dir" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestParseChoicesShape(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"tool_calls":[{"id":"c9","function":{"name":"git","arguments":{"subcommand":"status"}}}]}}]}`)

	calls, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(calls) != 1 || calls[0].Name != "git" || calls[0].Arguments["subcommand"] != "status" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestParseSynthesizesMissingID(t *testing.T) {
	raw := []byte(`[{"name":"read_file","arguments":{"path":"x"}}]`)

	calls, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if calls[0].ID == "" {
		t.Error("missing id was not synthesized")
	}
}

func TestParseAllOrNothing(t *testing.T) {
	// Second element has malformed encoded arguments; the whole batch
	// must fail, including the valid first element.
	raw := []byte(`[{"id":"c1","name":"ok","arguments":{}},{"id":"c2","name":"bad","arguments":"{not json"}]`)

	if _, err := Parse(raw); !errors.Is(err, ErrInvalidToolCall) {
		t.Errorf("error = %v, want ErrInvalidToolCall", err)
	}
}

func TestParseRejectsMissingName(t *testing.T) {
	raw := []byte(`[{"id":"c1","arguments":{}}]`)
	if _, err := Parse(raw); !errors.Is(err, ErrInvalidToolCall) {
		t.Errorf("error = %v, want ErrInvalidToolCall", err)
	}
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	raw := []byte(`[{"id":"c1","name":"a"},{"id":"c1","name":"b"}]`)
	if _, err := Parse(raw); !errors.Is(err, ErrInvalidToolCall) {
		t.Errorf("error = %v, want ErrInvalidToolCall", err)
	}
}

func TestParseEmptyPayloads(t *testing.T) {
	for _, raw := range []string{`[]`, `{}`, `{"tool_calls":[]}`, `{"choices":[{"message":{}}]}`} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrNoToolCalls) {
			t.Errorf("Parse(%s) error = %v, want ErrNoToolCalls", raw, err)
		}
	}
}

func TestParseMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{{{`)); !errors.Is(err, ErrInvalidToolCall) {
		t.Errorf("error = %v, want ErrInvalidToolCall", err)
	}
}

func TestParseMissingArgumentsDefaultsEmpty(t *testing.T) {
	calls, err := Parse([]byte(`[{"id":"c1","name":"list_dir"}]`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if calls[0].Arguments == nil || len(calls[0].Arguments) != 0 {
		t.Errorf("arguments = %v, want empty map", calls[0].Arguments)
	}
}
