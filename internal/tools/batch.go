package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/codeloom-ai/codeloom/internal/logger"
)

// BatchToolName is the tool name the LLM uses to request sequential
// multi-tool execution.
const BatchToolName = "batch"

// MaxBatchSize caps the number of sub-calls per batch
const MaxBatchSize = 10

// BatchCall is one entry of a batch payload
type BatchCall struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// BatchRunner executes a bounded list of tool calls strictly sequentially.
// Sequencing is a correctness requirement, not an ordering nicety: two
// concurrent edits of the same file would corrupt it.
type BatchRunner struct {
	executor Executor
	maxSize  int
}

// NewBatchRunner creates a batch runner on top of an executor
func NewBatchRunner(executor Executor, maxSize int) *BatchRunner {
	if maxSize <= 0 || maxSize > MaxBatchSize {
		maxSize = MaxBatchSize
	}
	return &BatchRunner{executor: executor, maxSize: maxSize}
}

// ParseBatchCalls decodes the tool_calls parameter into an ordered list of
// calls. It accepts the decoded []interface{} form or a JSON string, and
// preserves both order and every element; flattening the array would lose
// calls silently.
func ParseBatchCalls(raw interface{}) ([]BatchCall, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("tool_calls is required")
	case []BatchCall:
		return v, nil
	case string:
		var calls []BatchCall
		if err := json.Unmarshal([]byte(v), &calls); err != nil {
			return nil, fmt.Errorf("tool_calls is not a JSON array: %w", err)
		}
		return calls, nil
	case []interface{}:
		calls := make([]BatchCall, 0, len(v))
		for i, item := range v {
			entry, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("tool_calls[%d] must be an object", i)
			}
			name, _ := entry["tool"].(string)
			if name == "" {
				return nil, fmt.Errorf("tool_calls[%d] is missing the tool name", i)
			}
			params, _ := entry["parameters"].(map[string]interface{})
			calls = append(calls, BatchCall{Tool: name, Parameters: params})
		}
		return calls, nil
	default:
		return nil, fmt.Errorf("tool_calls must be an array, got %T", raw)
	}
}

// Run executes the calls in order. A failed sub-call does not abort the
// remaining queue; every sub-result is collected. The aggregate result
// carries counts and a one-line summary instead of the full payloads.
func (b *BatchRunner) Run(ctx context.Context, projectKey string, calls []BatchCall) *Result {
	start := time.Now()

	if len(calls) == 0 {
		return Failure("tool_calls array must not be empty")
	}

	if len(calls) > b.maxSize {
		logger.Info("batch: dropping %d calls over the %d-call limit", len(calls)-b.maxSize, b.maxSize)
		calls = calls[:b.maxSize]
	}

	subResults := make([]*SubResult, 0, len(calls))
	for i, call := range calls {
		if call.Tool == BatchToolName {
			subResults = append(subResults, &SubResult{
				ToolName: call.Tool,
				Success:  false,
				Error:    "batch calls cannot be nested",
			})
			continue
		}

		logger.Debug("batch: executing sub-call %d/%d: %s", i+1, len(calls), call.Tool)
		res := b.executor.Execute(ctx, call.Tool, projectKey, call.Parameters)
		sub := &SubResult{ToolName: call.Tool, Success: res.Success, Result: res}
		if !res.Success {
			sub.Error = res.Error
		}
		subResults = append(subResults, sub)
	}

	successCount := 0
	for _, sub := range subResults {
		if sub.Success {
			successCount++
		}
	}
	failedCount := len(subResults) - successCount

	toolNames := make([]string, 0, len(subResults))
	for _, sub := range subResults {
		toolNames = append(toolNames, sub.ToolName)
	}

	result := &Result{
		Success:        true,
		Output:         fmt.Sprintf("batch finished: %d/%d succeeded, %d failed", successCount, len(subResults), failedCount),
		DisplayTitle:   fmt.Sprintf("batch (%d/%d succeeded)", successCount, len(subResults)),
		DisplayContent: batchDisplayContent(subResults),
		SubResults:     subResults,
		DurationMs:     time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{
			"totalCalls": len(subResults),
			"successful": successCount,
			"failed":     failedCount,
			"tools":      toolNames,
		},
	}

	logger.Info("batch: %d calls, %d succeeded, %d failed in %dms",
		len(subResults), successCount, failedCount, result.DurationMs)

	return result
}

// batchDisplayContent builds the compact one-line summary: the primary file
// name when one sub-call touched a file, plus the call count.
func batchDisplayContent(results []*SubResult) string {
	fileName := ""
	for _, sub := range results {
		if sub.Result != nil && sub.Result.RelativePath != "" {
			fileName = path.Base(strings.ReplaceAll(sub.Result.RelativePath, "\\", "/"))
			break
		}
	}

	if fileName != "" {
		return fmt.Sprintf("%s, %d calls", fileName, len(results))
	}
	return fmt.Sprintf("%d calls", len(results))
}
