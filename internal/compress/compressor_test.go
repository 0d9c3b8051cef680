package compress

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom-ai/codeloom/internal/llm"
	"github.com/codeloom-ai/codeloom/internal/tools"
)

// fakeClient returns a fixed response or error for every request
type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) CompleteWithRequest(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.response}, nil
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeClient) GetModelName() string { return "fake" }

func TestSmallResultPassesThrough(t *testing.T) {
	c := New(nil)

	result := tools.Ok("three matches in internal/config")
	got := c.Compress(context.Background(), "grep_file", result, "where is config loaded")
	assert.Equal(t, "three matches in internal/config", got)
}

func TestSmallResultGetsPathPrefix(t *testing.T) {
	c := New(nil)

	result := tools.Ok("package config")
	result.RelativePath = "internal/config/config.go"
	got := c.Compress(context.Background(), "read_file", result, "")
	assert.Equal(t, "[internal/config/config.go] package config", got)

	// no double prefix when the path is already mentioned
	result2 := tools.Ok("see internal/config/config.go line 10")
	result2.RelativePath = "internal/config/config.go"
	got2 := c.Compress(context.Background(), "read_file", result2, "")
	assert.Equal(t, "see internal/config/config.go line 10", got2)
}

func TestMediumResultNeverGrows(t *testing.T) {
	c := New(nil)

	for _, toolName := range []string{"grep_file", "search", "read_file", "call_chain", "unknown_tool"} {
		output := strings.Repeat("x", 480) + "\n" + strings.Repeat("y", 480)
		result := tools.Ok(output)
		result.RelativePath = "some/very/long/path/deep/in/the/tree/file.go"
		got := c.Compress(context.Background(), toolName, result, "")
		assert.LessOrEqual(t, len(got), len(output), "tool %s", toolName)
	}
}

func TestGrepHeuristicKeepsFirstLines(t *testing.T) {
	c := New(nil)

	var lines []string
	for i := 0; i < 60; i++ {
		lines = append(lines, fmt.Sprintf("internal/app/file%d.go:12: match number %d with some padding", i, i))
		lines = append(lines, "")
	}
	output := strings.Join(lines, "\n")
	require.Greater(t, len(output), 500)
	require.Less(t, len(output), 5000)

	got := c.Compress(context.Background(), "grep_file", tools.Ok(output), "")
	kept := strings.Split(got, "\n")
	assert.Len(t, kept, maxGrepLines)
	assert.Equal(t, "internal/app/file0.go:12: match number 0 with some padding", kept[0])
	for _, line := range kept {
		assert.NotEmpty(t, strings.TrimSpace(line))
	}
}

func TestSearchHeuristicKeepsPathAndScoreLines(t *testing.T) {
	c := New(nil)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "filePath: internal/pkg%d/file.go\nscore: 0.%02d\nsnippet: some longer snippet text that should be dropped entirely\n", i, i)
	}
	got := c.Compress(context.Background(), "search", tools.Ok(b.String()), "")

	lines := strings.Split(got, "\n")
	assert.Len(t, lines, maxSearchLines)
	for _, line := range lines {
		ok := strings.HasPrefix(line, "filePath:") || strings.HasPrefix(line, "score:")
		assert.True(t, ok, "unexpected line %q", line)
	}
}

func TestReadFileHeuristicKeepsSignatures(t *testing.T) {
	c := New(nil)

	var b strings.Builder
	b.WriteString("package app\n\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "func Handler%d(w http.ResponseWriter, r *http.Request) {\n\t// body body body body body body\n\treturn\n}\n", i)
	}
	result := tools.Ok(b.String())
	result.RelativePath = "internal/app/handlers.go"

	got := c.Compress(context.Background(), "read_file", result, "")
	assert.Contains(t, got, "file: internal/app/handlers.go")
	assert.Contains(t, got, "func Handler0(w http.ResponseWriter, r *http.Request) {")
	assert.NotContains(t, got, "body body")
}

func TestCallChainHeuristic(t *testing.T) {
	c := New(nil)

	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Service%d.process -> Repo%d.load (call depth %d, with extra annotation text)\n", i, i, i)
	}
	got := c.Compress(context.Background(), "call_chain", tools.Ok(b.String()), "")
	assert.Len(t, strings.Split(got, "\n"), maxCallChainLines)
}

func TestApplyChangeHeuristic(t *testing.T) {
	c := New(nil)

	okResult := tools.Ok(strings.Repeat("diff ", 200))
	okResult.RelativePath = "internal/app/main.go"
	got := c.Compress(context.Background(), "apply_change", okResult, "")
	assert.Equal(t, "change applied: internal/app/main.go", got)

	failed := tools.Failure("patch did not apply")
	failed.Output = strings.Repeat("context ", 100)
	got = c.Compress(context.Background(), "apply_change", failed, "")
	assert.Contains(t, got, "change failed: patch did not apply")
}

func TestLargeResultUsesModelSummary(t *testing.T) {
	client := &fakeClient{response: `{"summary": "The file defines the config loader in internal/config/config.go."}`}
	c := New(client)

	output := strings.Repeat("line of output\n", 500)
	require.Greater(t, len(output), 5000)

	got := c.Compress(context.Background(), "read_file", tools.Ok(output), "where is config loaded")
	assert.Equal(t, "The file defines the config loader in internal/config/config.go.", got)
	assert.Equal(t, 1, client.calls)
}

func TestLargeResultFallsBackOnModelFailure(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("model unavailable")}
	c := New(client)

	output := strings.Repeat("some output line\n", 400)
	require.Greater(t, len(output), 5000)

	got := c.Compress(context.Background(), "unknown_tool", tools.Ok(output), "")
	assert.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), len(output))
}

func TestLargeResultFallsBackOnBadJSON(t *testing.T) {
	client := &fakeClient{response: "I cannot summarize this."}
	c := New(client)

	output := strings.Repeat("x", 6000)
	got := c.Compress(context.Background(), "grep_file", tools.Ok(output), "")
	assert.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), len(output))
}

func TestFailedResultUsesErrorText(t *testing.T) {
	c := New(nil)
	result := tools.Failure("file not found: missing.go")
	got := c.Compress(context.Background(), "read_file", result, "")
	assert.Equal(t, "file not found: missing.go", got)
}

func TestNilResult(t *testing.T) {
	c := New(nil)
	assert.Equal(t, "", c.Compress(context.Background(), "read_file", nil, ""))
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	wide := strings.Repeat("世", 400)
	got := truncate(wide, defaultTruncateAt)

	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), defaultTruncateAt+3)
}

func TestCapToInputKeepsRuneBoundaries(t *testing.T) {
	original := strings.Repeat("x", 500)
	compressed := strings.Repeat("世", 200)

	got := capToInput(compressed, original)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), len(original))
}

func TestCompressMultibyteOutputStaysValid(t *testing.T) {
	c := New(nil)
	result := &tools.Result{Success: true, Output: strings.Repeat("界", 700)}

	out := c.Compress(context.Background(), "unknown_tool", result, "")
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), len(result.Output))
}
