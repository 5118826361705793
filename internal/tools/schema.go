package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchema wraps a compiled JSON-schema validator for a tool's
// arguments.
type compiledSchema struct {
	schema *jsonschema.Schema
}

// compileSchema builds a validator from a ToolSchema. The declared
// properties and required list become a draft 2020-12 object schema;
// undeclared arguments are permitted so tools can accept passthrough
// options.
func compileSchema(toolName string, ts ToolSchema) (*compiledSchema, error) {
	doc := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if len(ts.Required) > 0 {
		doc["required"] = ts.Required
	}

	props := doc["properties"].(map[string]any)
	for name, p := range ts.Properties {
		prop := map[string]any{}
		if p.Type != "" {
			// "number" accepts integers too; use the declared type as-is.
			prop["type"] = p.Type
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		props[name] = prop
	}

	// Round-trip through JSON so numeric defaults and enums land in the
	// representation the compiler expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal schema for %s: %w", toolName, err)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("cannot parse schema for %s: %w", toolName, err)
	}

	compiler := jsonschema.NewCompiler()
	resource := "toolgate://" + toolName + "/schema.json"
	if err := compiler.AddResource(resource, parsed); err != nil {
		return nil, fmt.Errorf("cannot add schema resource for %s: %w", toolName, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("cannot compile schema for %s: %w", toolName, err)
	}

	return &compiledSchema{schema: schema}, nil
}

// validate checks args against the compiled schema.
func (c *compiledSchema) validate(args map[string]any) error {
	if c == nil || c.schema == nil {
		return nil
	}

	// Normalize through JSON so handler-friendly Go values (ints, typed
	// slices) take the shapes the validator expects.
	instance := make(map[string]any, len(args))
	for k, v := range args {
		instance[k] = v
	}
	raw, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgType, err)
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgType, err)
	}

	if err := c.schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return nil
}
