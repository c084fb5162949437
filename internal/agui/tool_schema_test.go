package agui

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewToolFromStruct(t *testing.T) {
	t.Parallel()

	type scaleParams struct {
		BatchLiters float64 `json:"batch_liters" jsonschema:"required"`
		Efficiency  float64 `json:"efficiency,omitempty"`
	}

	tool, err := NewToolFromStruct("scale_recipe", "Scale the draft recipe", scaleParams{})
	require.NoError(t, err)
	require.Equal(t, "scale_recipe", tool.Name)
	require.True(t, json.Valid(tool.Parameters), "parameters: %s", tool.Parameters)

	schema, err := DecodeToolSchema(tool.Parameters)
	require.NoError(t, err)
	require.Equal(t, "object", schema.Type)
	require.Contains(t, schema.Properties, "batch_liters")
	require.Contains(t, schema.Properties, "efficiency")
	require.Equal(t, []string{"batch_liters"}, schema.Required)
}

func TestNewToolFromStructRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := NewToolFromStruct("scale_recipe", "", 42)
	require.True(t, errors.Is(err, ErrInvalidTool), "err = %v", err)

	_, err = NewToolFromStruct(" ", "", struct{}{})
	require.True(t, errors.Is(err, ErrInvalidTool), "err = %v", err)
}

func TestDecodeToolSchema(t *testing.T) {
	t.Parallel()

	schema, err := DecodeToolSchema(nil)
	require.NoError(t, err)
	require.Equal(t, "object", schema.Type)
	require.NotNil(t, schema.Properties)

	schema, err = DecodeToolSchema(json.RawMessage(`{"properties":{"hop":{"type":"string"}}}`))
	require.NoError(t, err)
	require.Equal(t, "object", schema.Type)

	_, err = DecodeToolSchema(json.RawMessage(`{"type":"array"}`))
	require.True(t, errors.Is(err, ErrInvalidTool), "err = %v", err)

	_, err = DecodeToolSchema(json.RawMessage(`{`))
	require.True(t, errors.Is(err, ErrInvalidTool), "err = %v", err)
}
