package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateParametersRequired(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"name": "x"}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestValidateParametersRequiredFromJSON(t *testing.T) {
	// Schemas decoded from JSON carry []any, not []string.
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []any{"id"},
	}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"id": 1}, schema))
}

func TestValidateParametersTypes(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
			"ratio": map[string]any{"type": "number"},
			"tags":  map[string]any{"type": "array"},
		},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"count": float64(3)}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"count": 3.5}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"ratio": 3.5}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"tags": "not-a-list"}, schema))

	// Arguments without a property entry pass unchecked.
	assert.NoError(t, ValidateParameters(map[string]any{"extra": struct{}{}}, schema))
}

func TestValidateParametersEnum(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{"type": "string", "enum": []string{"fast", "safe"}},
		},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"mode": "fast"}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"mode": "other"}, schema))
}

func TestCreateSchema(t *testing.T) {
	type params struct {
		Name    string  `json:"name" description:"target name"`
		Retries int     `json:"retries,omitempty"`
		Rate    float64 `json:"rate"`
		Alias   *string `json:"alias"`
		hidden  string
	}
	_ = params{hidden: ""}

	schema := CreateSchema(params{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 4)

	name := props["name"].(map[string]any)
	assert.Equal(t, "string", name["type"])
	assert.Equal(t, "target name", name["description"])
	assert.Equal(t, "integer", props["retries"].(map[string]any)["type"])
	assert.Equal(t, "number", props["rate"].(map[string]any)["type"])

	// Pointer and omitempty fields are optional; the rest are required.
	assert.ElementsMatch(t, []string{"name", "rate"}, schema["required"])
}
