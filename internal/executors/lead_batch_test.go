package executors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadBatchExecutor_MixedOutcomes(t *testing.T) {
	leads := newMockLeadService()
	leads.duplicateEmails["dupe@example.com"] = true
	leads.failEmails["broken@example.com"] = true

	exec := NewLeadBatchExecutor(leads, nil)
	config := map[string]any{
		"rows": []any{
			map[string]any{"email": "a@example.com"},
			map[string]any{"email": "dupe@example.com"},
			map[string]any{"email": "broken@example.com"},
			map[string]any{"email": "b@example.com"},
		},
	}

	result, err := exec.Execute(context.Background(), config, nil)
	require.NoError(t, err)

	summary, ok := result.Delta["batch_result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 4, summary["total"])
	assert.Equal(t, 2, summary["created"])
	assert.Equal(t, 1, summary["duplicates"])
	assert.Equal(t, 1, summary["failed"])
	assert.Equal(t, 0.5, summary["success_rate"])
	assert.Equal(t, false, summary["aborted"])

	created, ok := result.Delta["created_leads"].([]any)
	require.True(t, ok)
	assert.Len(t, created, 2)

	require.NotNil(t, result.Compensation)
	ids, ok := result.Compensation["lead_ids"].([]any)
	require.True(t, ok)
	assert.Len(t, ids, 2)
}

func TestLeadBatchExecutor_StopOnError(t *testing.T) {
	leads := newMockLeadService()
	leads.failEmails["broken@example.com"] = true

	exec := NewLeadBatchExecutor(leads, nil)
	config := map[string]any{
		"rows": []any{
			map[string]any{"email": "a@example.com"},
			map[string]any{"email": "broken@example.com"},
			map[string]any{"email": "never@example.com"},
		},
		"stop_on_error": true,
	}

	result, err := exec.Execute(context.Background(), config, nil)
	require.NoError(t, err, "batch failures are reported data, not node errors")

	summary := result.Delta["batch_result"].(map[string]any)
	assert.Equal(t, true, summary["aborted"])
	assert.Equal(t, 1, summary["created"])
	assert.Equal(t, 1, summary["failed"])

	rows := summary["rows"].([]any)
	assert.Len(t, rows, 2, "third row never processed after abort")

	// Leads created before the abort stay compensable.
	require.NotNil(t, result.Compensation)
	assert.Len(t, result.Compensation["lead_ids"].([]any), 1)
}

func TestLeadBatchExecutor_EmptyRows(t *testing.T) {
	exec := NewLeadBatchExecutor(newMockLeadService(), nil)

	result, err := exec.Execute(context.Background(), map[string]any{"rows": []any{}}, nil)
	require.NoError(t, err)

	summary := result.Delta["batch_result"].(map[string]any)
	assert.Equal(t, 0, summary["total"])
	assert.Equal(t, 0.0, summary["success_rate"])
	assert.Nil(t, result.Compensation, "nothing created, nothing to reverse")
}

func TestLeadBatchExecutor_NonObjectRow(t *testing.T) {
	exec := NewLeadBatchExecutor(newMockLeadService(), nil)
	config := map[string]any{
		"rows": []any{"not an object", map[string]any{"email": "a@example.com"}},
	}

	result, err := exec.Execute(context.Background(), config, nil)
	require.NoError(t, err)

	summary := result.Delta["batch_result"].(map[string]any)
	assert.Equal(t, 1, summary["failed"])
	assert.Equal(t, 1, summary["created"])
}

func TestLeadBatchExecutor_Compensate(t *testing.T) {
	leads := newMockLeadService()
	exec := NewLeadBatchExecutor(leads, nil)

	config := map[string]any{"rows": []any{
		map[string]any{"email": "a@example.com"},
		map[string]any{"email": "b@example.com"},
	}}
	result, err := exec.Execute(context.Background(), config, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Compensation)

	require.NoError(t, exec.Compensate(context.Background(), config, result.Compensation))
	assert.Len(t, leads.deleted, 2)
	assert.Empty(t, leads.created)
}

func TestLeadBatchExecutor_ValidateConfig(t *testing.T) {
	exec := NewLeadBatchExecutor(newMockLeadService(), nil)

	assert.Error(t, exec.ValidateConfig(map[string]any{}))
	assert.NoError(t, exec.ValidateConfig(map[string]any{"rows": "{{ csv_rows }}"}))
}
