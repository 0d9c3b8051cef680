// Package compress shrinks tool output before it enters the conversation
// history. Small results pass through, medium results go through per-tool
// heuristics, and large results are summarized by the model with a heuristic
// fallback. Compression never fails: on any error the heuristic path wins.
package compress

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codeloom-ai/codeloom/internal/llm"
	"github.com/codeloom-ai/codeloom/internal/logger"
	"github.com/codeloom-ai/codeloom/internal/tools"
)

const (
	// Results under this size are passed through untouched
	verbatimLimit = 500
	// Results under this size are compressed heuristically; larger ones go
	// to the model
	heuristicLimit = 5000

	maxSearchLines    = 20
	maxGrepLines      = 30
	maxCallChainLines = 10
	defaultTruncateAt = 1000
)

// Compressor reduces tool results to summaries suitable for prompt history
type Compressor struct {
	client llm.Client
	log    *logger.Logger
}

// New creates a compressor. A nil client disables the model tier; oversized
// results then fall back to heuristic compression.
func New(client llm.Client) *Compressor {
	return &Compressor{
		client: client,
		log:    logger.Global().WithPrefix("compress"),
	}
}

// Compress returns a compact rendering of a tool result. The question is the
// latest user request and steers model-based summaries toward what the user
// actually asked. For inputs of 500 characters or more the output is never
// longer than the input.
func (c *Compressor) Compress(ctx context.Context, toolName string, result *tools.Result, question string) string {
	if result == nil {
		return ""
	}
	output := result.Output
	if !result.Success && output == "" {
		output = result.Error
	}

	if len(output) < verbatimLimit {
		return enrichWithPath(output, result)
	}

	if len(output) < heuristicLimit {
		return capToInput(c.heuristic(toolName, output, result), output)
	}

	summary, err := c.llmSummary(ctx, toolName, output, question)
	if err != nil || summary == "" {
		if err != nil {
			c.log.Warn("model summary for %s failed, using heuristic: %v", toolName, err)
		}
		return capToInput(c.heuristic(toolName, output, result), output)
	}
	return capToInput(enrichWithPath(summary, result), output)
}

// capToInput enforces the no-growth guarantee for compressible inputs
func capToInput(compressed, original string) string {
	if len(compressed) > len(original) {
		limit := len(original)
		for limit > 0 && !utf8.RuneStart(compressed[limit]) {
			limit--
		}
		return compressed[:limit]
	}
	return compressed
}

func (c *Compressor) heuristic(toolName, output string, result *tools.Result) string {
	var compressed string
	switch toolName {
	case "semantic_search", "search":
		compressed = compressSearch(output)
	case "grep_file", "grep":
		compressed = compressGrep(output)
	case "read_file":
		compressed = compressRead(output, result)
	case "call_chain":
		compressed = compressCallChain(output)
	case "apply_change":
		compressed = compressApplyChange(result)
	default:
		compressed = truncate(output, defaultTruncateAt)
	}
	return enrichWithPath(compressed, result)
}

// compressSearch keeps only path and score lines from search output
func compressSearch(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "filePath:") || strings.HasPrefix(trimmed, "path:") ||
			strings.HasPrefix(trimmed, "score:") {
			kept = append(kept, trimmed)
			if len(kept) >= maxSearchLines {
				break
			}
		}
	}
	if len(kept) == 0 {
		return truncate(output, defaultTruncateAt)
	}
	return strings.Join(kept, "\n")
}

// compressGrep keeps the first non-blank match lines
func compressGrep(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) >= maxGrepLines {
			break
		}
	}
	return strings.Join(kept, "\n")
}

// compressRead keeps the file path and declaration lines so the model can
// still navigate the file.
func compressRead(output string, result *tools.Result) string {
	var kept []string
	if result.RelativePath != "" {
		kept = append(kept, "file: "+result.RelativePath)
	}
	for _, line := range strings.Split(output, "\n") {
		if isSignatureLine(line) {
			kept = append(kept, strings.TrimRight(line, " \t"))
		}
	}
	if len(kept) <= 1 {
		return truncate(output, defaultTruncateAt)
	}
	return strings.Join(kept, "\n")
}

func isSignatureLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{
		"func ", "type ", "class ", "def ", "interface ", "struct ",
		"public ", "private ", "protected ", "static ",
	} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// compressCallChain keeps the arrow lines that form the chain itself
func compressCallChain(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "->") || strings.Contains(line, "→") {
			kept = append(kept, strings.TrimSpace(line))
			if len(kept) >= maxCallChainLines {
				break
			}
		}
	}
	if len(kept) == 0 {
		return truncate(output, defaultTruncateAt)
	}
	return strings.Join(kept, "\n")
}

// compressApplyChange reduces an edit result to its status
func compressApplyChange(result *tools.Result) string {
	if result.Success {
		if result.RelativePath != "" {
			return "change applied: " + result.RelativePath
		}
		return "change applied"
	}
	reason := result.Error
	if reason == "" {
		reason = "unknown error"
	}
	return "change failed: " + truncate(reason, 200)
}

// enrichWithPath prefixes the result's file path when it is not already
// mentioned in the text.
func enrichWithPath(text string, result *tools.Result) string {
	if result == nil || result.RelativePath == "" {
		return text
	}
	if strings.Contains(text, result.RelativePath) {
		return text
	}
	return "[" + result.RelativePath + "] " + text
}

// truncate cuts s to at most limit bytes without splitting a rune
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}

const summarySystemPrompt = `You summarize tool output for a coding agent.
Reply with JSON: {"summary": "..."}. The summary is 1-5 sentences, keeps file
paths and identifiers verbatim, and focuses on what matters for the user's
question.`

func (c *Compressor) llmSummary(ctx context.Context, toolName, output, question string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("no summary client configured")
	}

	prompt := fmt.Sprintf("User question: %s\n\nOutput of tool %q:\n%s\n\nSummarize the output in 1-5 sentences.",
		question, toolName, truncate(output, 20000))

	resp, err := c.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:     []*llm.Message{{Role: "user", Content: prompt}},
		SystemPrompt: summarySystemPrompt,
		Temperature:  0.2,
	})
	if err != nil {
		return "", fmt.Errorf("summary request: %w", err)
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := llm.ExtractJSON(resp.Content, &parsed); err != nil {
		return "", fmt.Errorf("summary response: %w", err)
	}
	return strings.TrimSpace(parsed.Summary), nil
}
