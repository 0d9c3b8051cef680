package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor fails the tools listed in failing and records call order
type scriptedExecutor struct {
	failing map[string]bool
	calls   []string
}

func (e *scriptedExecutor) Execute(ctx context.Context, toolName, projectKey string, params map[string]interface{}) *Result {
	e.calls = append(e.calls, toolName)
	if e.failing[toolName] {
		return Failure("%s exploded", toolName)
	}
	res := Ok("output of " + toolName)
	if path, ok := params["path"].(string); ok {
		res.RelativePath = path
	}
	return res
}

func TestParseBatchCallsFromDecodedArray(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"tool": "read_file", "parameters": map[string]interface{}{"path": "a.go"}},
		map[string]interface{}{"tool": "grep_file"},
	}
	calls, err := ParseBatchCalls(raw)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "read_file", calls[0].Tool)
	assert.Equal(t, "a.go", calls[0].Parameters["path"])
	assert.Equal(t, "grep_file", calls[1].Tool)
}

func TestParseBatchCallsFromJSONString(t *testing.T) {
	calls, err := ParseBatchCalls(`[{"tool": "search", "parameters": {"query": "foo"}}]`)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Tool)
}

func TestParseBatchCallsRejectsBadInput(t *testing.T) {
	_, err := ParseBatchCalls(nil)
	assert.Error(t, err)

	_, err = ParseBatchCalls(42)
	assert.Error(t, err)

	_, err = ParseBatchCalls([]interface{}{map[string]interface{}{"parameters": map[string]interface{}{}}})
	assert.Error(t, err)
}

func TestBatchRunsSequentiallyAndToleratesFailure(t *testing.T) {
	exec := &scriptedExecutor{failing: map[string]bool{"grep_file": true}}
	runner := NewBatchRunner(exec, MaxBatchSize)

	result := runner.Run(context.Background(), "proj-1", []BatchCall{
		{Tool: "read_file", Parameters: map[string]interface{}{"path": "a.go"}},
		{Tool: "grep_file"},
		{Tool: "search"},
	})

	// all three executed, in order, despite the middle failure
	assert.Equal(t, []string{"read_file", "grep_file", "search"}, exec.calls)

	require.True(t, result.Success)
	require.Len(t, result.SubResults, 3)
	assert.True(t, result.SubResults[0].Success)
	assert.False(t, result.SubResults[1].Success)
	assert.Contains(t, result.SubResults[1].Error, "grep_file exploded")
	assert.True(t, result.SubResults[2].Success)

	assert.Equal(t, 2, result.Metadata["successful"])
	assert.Equal(t, 1, result.Metadata["failed"])
	assert.Equal(t, 3, result.Metadata["totalCalls"])
	assert.Contains(t, result.Output, "2/3 succeeded")
	assert.Equal(t, "a.go, 3 calls", result.DisplayContent)
}

func TestBatchRejectsNestedBatch(t *testing.T) {
	exec := &scriptedExecutor{}
	runner := NewBatchRunner(exec, MaxBatchSize)

	result := runner.Run(context.Background(), "proj-1", []BatchCall{
		{Tool: "batch"},
		{Tool: "read_file"},
	})

	require.Len(t, result.SubResults, 2)
	assert.False(t, result.SubResults[0].Success)
	assert.Contains(t, result.SubResults[0].Error, "nested")
	assert.True(t, result.SubResults[1].Success)
	// the nested call never reached the executor
	assert.Equal(t, []string{"read_file"}, exec.calls)
}

func TestBatchTruncatesOverLimit(t *testing.T) {
	exec := &scriptedExecutor{}
	runner := NewBatchRunner(exec, MaxBatchSize)

	var calls []BatchCall
	for i := 0; i < 14; i++ {
		calls = append(calls, BatchCall{Tool: fmt.Sprintf("tool%d", i)})
	}
	result := runner.Run(context.Background(), "proj-1", calls)

	assert.Len(t, result.SubResults, MaxBatchSize)
	assert.Len(t, exec.calls, MaxBatchSize)
	assert.Equal(t, "tool0", exec.calls[0])
	assert.Equal(t, "tool9", exec.calls[MaxBatchSize-1])
}

func TestBatchEmptyCalls(t *testing.T) {
	runner := NewBatchRunner(&scriptedExecutor{}, MaxBatchSize)
	result := runner.Run(context.Background(), "proj-1", nil)
	assert.False(t, result.Success)
}

func TestResultPruneIdempotent(t *testing.T) {
	r := Ok("some large output that should be replaced")
	original := len(r.Output)

	r.Prune()
	assert.True(t, r.IsPruned())
	assert.Equal(t, fmt.Sprintf("[Pruned: %d chars]", original), r.Output)
	assert.Equal(t, "[COMPACTED]", r.DisplayContent)

	marker := r.Output
	r.Prune()
	assert.Equal(t, marker, r.Output)
}

func TestRegistryExecutorUnknownTool(t *testing.T) {
	exec := NewRegistryExecutor(NewRegistry())
	res := exec.Execute(context.Background(), "nope", "proj-1", nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "not registered")
}
