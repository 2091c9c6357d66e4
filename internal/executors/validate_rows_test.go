package executors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leadRules() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"email"},
		"properties": map[string]any{
			"email": map[string]any{"type": "string", "format": "email"},
			"age":   map[string]any{"type": "integer", "minimum": 18},
		},
	}
}

func TestValidateRowsExecutor_Partitions(t *testing.T) {
	exec := NewValidateRowsExecutor()
	config := map[string]any{
		"rows": []any{
			map[string]any{"email": "ok@example.com", "age": 30},
			map[string]any{"email": "not-an-email"},
			map[string]any{"age": 25},
		},
		"rules": leadRules(),
	}

	result, err := exec.Execute(context.Background(), config, nil)
	require.NoError(t, err, "validation failures are data, not node errors")

	valid := result.Delta["valid_rows"].([]any)
	invalid := result.Delta["invalid_rows"].([]any)
	rowErrors := result.Delta["row_errors"].(map[string]any)

	assert.Len(t, valid, 1)
	assert.Len(t, invalid, 2)
	assert.Contains(t, rowErrors, "row_1")
	assert.Contains(t, rowErrors, "row_2")
	assert.NotContains(t, rowErrors, "row_0")

	msgs := rowErrors["row_2"].([]any)
	require.NotEmpty(t, msgs)
}

func TestValidateRowsExecutor_AllValid(t *testing.T) {
	exec := NewValidateRowsExecutor()
	config := map[string]any{
		"rows": []any{
			map[string]any{"email": "a@example.com", "age": 21},
			map[string]any{"email": "b@example.com", "age": 40},
		},
		"rules": leadRules(),
	}

	result, err := exec.Execute(context.Background(), config, nil)
	require.NoError(t, err)

	assert.Len(t, result.Delta["valid_rows"].([]any), 2)
	assert.Empty(t, result.Delta["invalid_rows"].([]any))
	assert.Empty(t, result.Delta["row_errors"].(map[string]any))
	assert.Nil(t, result.Compensation)
}

func TestValidateRowsExecutor_InvalidRuleSet(t *testing.T) {
	exec := NewValidateRowsExecutor()
	config := map[string]any{
		"rows":  []any{map[string]any{"email": "a@example.com"}},
		"rules": map[string]any{"type": 12345},
	}

	_, err := exec.Execute(context.Background(), config, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_NODE_CONFIG")
}

func TestValidateRowsExecutor_CustomOutputKeys(t *testing.T) {
	exec := NewValidateRowsExecutor()
	config := map[string]any{
		"rows":        []any{map[string]any{"email": "a@example.com"}},
		"rules":       leadRules(),
		"valid_key":   "clean",
		"invalid_key": "dirty",
		"errors_key":  "problems",
	}

	result, err := exec.Execute(context.Background(), config, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Delta, "clean")
	assert.Contains(t, result.Delta, "dirty")
	assert.Contains(t, result.Delta, "problems")
}

func TestValidateRowsExecutor_ValidateConfig(t *testing.T) {
	exec := NewValidateRowsExecutor()

	assert.Error(t, exec.ValidateConfig(map[string]any{"rules": leadRules()}))
	assert.Error(t, exec.ValidateConfig(map[string]any{"rows": []any{}}))
	assert.NoError(t, exec.ValidateConfig(map[string]any{"rows": []any{}, "rules": leadRules()}))
}
