package agui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// ErrInvalidTool indicates a tool definition that cannot be sent to the agent.
var ErrInvalidTool = errors.New("invalid tool definition")

var toolSchemaReflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// ToolSchema is the normalized object schema carried in Tool.Parameters.
type ToolSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

// NewToolFromStruct creates a Tool by reflecting a Go struct into JSON Schema.
func NewToolFromStruct(name, description string, params any) (Tool, error) {
	if strings.TrimSpace(name) == "" {
		return Tool{}, fmt.Errorf("%w: name is required", ErrInvalidTool)
	}
	target, err := schemaReflectionTarget(params)
	if err != nil {
		return Tool{}, err
	}

	raw, err := json.Marshal(toolSchemaReflector.Reflect(target))
	if err != nil {
		return Tool{}, fmt.Errorf("marshal generated tool schema: %w", err)
	}
	schema, err := DecodeToolSchema(raw)
	if err != nil {
		return Tool{}, err
	}
	normalized, err := json.Marshal(schema)
	if err != nil {
		return Tool{}, fmt.Errorf("marshal normalized tool schema: %w", err)
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  normalized,
	}, nil
}

func schemaReflectionTarget(params any) (any, error) {
	t := reflect.TypeOf(params)
	if t == nil {
		return nil, fmt.Errorf("%w: parameter struct is nil", ErrInvalidTool)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: parameters must be a struct or pointer to struct", ErrInvalidTool)
	}
	return reflect.New(t).Interface(), nil
}

// DecodeToolSchema validates a tool parameter schema and fills object defaults.
func DecodeToolSchema(raw json.RawMessage) (ToolSchema, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ToolSchema{Type: "object", Properties: map[string]any{}}, nil
	}

	var schema ToolSchema
	if err := json.Unmarshal(trimmed, &schema); err != nil {
		return ToolSchema{}, fmt.Errorf("%w: invalid tool schema json", ErrInvalidTool)
	}
	if strings.TrimSpace(schema.Type) == "" {
		schema.Type = "object"
	}
	if schema.Type != "object" {
		return ToolSchema{}, fmt.Errorf("%w: tool schema type must be object", ErrInvalidTool)
	}
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}
	return schema, nil
}
