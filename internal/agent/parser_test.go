package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom-ai/codeloom/internal/logger"
	"github.com/codeloom-ai/codeloom/internal/session"
)

func testLogger() *logger.Logger {
	return logger.Global()
}

func TestParseResponsePlainText(t *testing.T) {
	parts := parseResponse("I could not find anything relevant.", "m", "s", testLogger())

	require.Len(t, parts, 1)
	text, ok := parts[0].(*session.TextPart)
	require.True(t, ok)
	assert.Equal(t, "I could not find anything relevant.", text.Text)
}

func TestParseResponseToolPart(t *testing.T) {
	raw := `{"parts": [
		{"type": "text", "text": "let me check"},
		{"type": "tool", "toolName": "read_file", "parameters": {"path": "a.go", "limit": 100}}
	]}`
	parts := parseResponse(raw, "m", "s", testLogger())

	require.Len(t, parts, 2)
	assert.IsType(t, &session.TextPart{}, parts[0])

	tool, ok := parts[1].(*session.ToolPart)
	require.True(t, ok)
	assert.Equal(t, "read_file", tool.ToolName)
	assert.Equal(t, "a.go", tool.Parameters["path"])
	assert.Equal(t, float64(100), tool.Parameters["limit"])
	assert.Equal(t, session.StatePending, tool.State)
}

func TestParseResponseToolNameAsType(t *testing.T) {
	raw := `{"parts": [{"type": "grep_file", "query": "evict", "path": "cache.go", "summary": "prior result summary"}]}`
	parts := parseResponse(raw, "m", "s", testLogger())

	require.Len(t, parts, 1)
	tool, ok := parts[0].(*session.ToolPart)
	require.True(t, ok)
	assert.Equal(t, "grep_file", tool.ToolName)
	assert.Equal(t, "evict", tool.Parameters["query"])
	assert.Equal(t, "cache.go", tool.Parameters["path"])
	assert.Equal(t, "prior result summary", tool.Summary)
	_, hasType := tool.Parameters["type"]
	assert.False(t, hasType)
	_, hasSummary := tool.Parameters["summary"]
	assert.False(t, hasSummary)
}

func TestParseResponseReasoningBecomesText(t *testing.T) {
	raw := `{"parts": [{"type": "reasoning", "text": "thinking about the cache"}]}`
	parts := parseResponse(raw, "m", "s", testLogger())

	require.Len(t, parts, 1)
	text, ok := parts[0].(*session.TextPart)
	require.True(t, ok)
	assert.Equal(t, "thinking about the cache", text.Text)
}

func TestParseResponseTextField(t *testing.T) {
	parts := parseResponse(`{"text": "short answer"}`, "m", "s", testLogger())
	require.Len(t, parts, 1)
	assert.Equal(t, "short answer", parts[0].(*session.TextPart).Text)
}

func TestParseResponseUnknownTypesDropped(t *testing.T) {
	raw := `{"parts": [
		{"type": "hologram", "text": "??"},
		{"type": "text", "text": "kept"}
	]}`
	parts := parseResponse(raw, "m", "s", testLogger())

	require.Len(t, parts, 1)
	assert.Equal(t, "kept", parts[0].(*session.TextPart).Text)
}

func TestParseResponseToolWithoutName(t *testing.T) {
	raw := `{"parts": [{"type": "tool", "parameters": {"path": "a.go"}}]}`
	parts := parseResponse(raw, "m", "s", testLogger())

	// nothing usable: the raw reply is preserved as text
	require.Len(t, parts, 1)
	assert.IsType(t, &session.TextPart{}, parts[0])
}

func TestParamsEqual(t *testing.T) {
	assert.True(t, paramsEqual(
		map[string]interface{}{"a": float64(1), "b": "x"},
		map[string]interface{}{"b": "x", "a": float64(1)},
	))
	assert.False(t, paramsEqual(
		map[string]interface{}{"a": float64(1)},
		map[string]interface{}{"a": float64(2)},
	))
	assert.False(t, paramsEqual(
		map[string]interface{}{"a": float64(1)},
		map[string]interface{}{"a": float64(1), "b": "x"},
	))
	assert.True(t, paramsEqual(nil, map[string]interface{}{}))
}
