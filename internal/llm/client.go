package llm

import (
	"context"
)

// Message represents a chat message sent to or received from a model
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	Messages     []*Message `json:"messages"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Temperature  float64    `json:"temperature"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
}

// CompletionResponse represents a completion response
type CompletionResponse struct {
	Content    string                 `json:"content"`
	StopReason string                 `json:"stop_reason,omitempty"`
	Usage      map[string]interface{} `json:"usage,omitempty"`
}

// Client is the interface for LLM clients. The HTTP transport behind it is
// supplied by the embedding application; this runtime only drives the calls.
type Client interface {
	// CompleteWithRequest sends a completion request and returns the response
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Complete is a simplified version for a single prompt
	Complete(ctx context.Context, prompt string) (string, error)
	// GetModelName returns the model name
	GetModelName() string
}
