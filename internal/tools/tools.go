package tools

import (
	"context"
	"fmt"
	"sync"
)

// Result represents the outcome of a tool execution. Output is what the LLM
// sees; DisplayTitle/DisplayContent feed the client UI and may be shorter.
type Result struct {
	Success        bool                   `json:"success"`
	Output         string                 `json:"output,omitempty"`
	Error          string                 `json:"error,omitempty"`
	DisplayTitle   string                 `json:"display_title,omitempty"`
	DisplayContent string                 `json:"display_content,omitempty"`
	RelativePath   string                 `json:"relative_path,omitempty"`
	RelatedFiles   []string               `json:"related_files,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	DurationMs     int64                  `json:"duration_ms,omitempty"`
	SubResults     []*SubResult           `json:"sub_results,omitempty"`
}

// SubResult is one entry of a batch execution
type SubResult struct {
	ToolName string  `json:"tool_name"`
	Success  bool    `json:"success"`
	Error    string  `json:"error,omitempty"`
	Result   *Result `json:"result,omitempty"`
}

// Ok builds a successful result carrying output
func Ok(output string) *Result {
	return &Result{Success: true, Output: output}
}

// Failure builds a failed result. The turn keeps going; the LLM sees the
// error text and can adapt.
func Failure(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

const prunedMarkerPrefix = "[Pruned:"

// Prune replaces the payload with a short opaque marker, keeping message
// structure intact while dropping the bulk of the tokens.
func (r *Result) Prune() {
	if r == nil || r.IsPruned() {
		return
	}
	r.Output = fmt.Sprintf("%s %d chars]", prunedMarkerPrefix, len(r.Output))
	r.DisplayContent = "[COMPACTED]"
}

// IsPruned reports whether the payload was already replaced by the marker
func (r *Result) IsPruned() bool {
	if r == nil {
		return true
	}
	return len(r.Output) >= len(prunedMarkerPrefix) && r.Output[:len(prunedMarkerPrefix)] == prunedMarkerPrefix
}

// Tool represents an executable tool
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, projectKey string, params map[string]interface{}) *Result
}

// Executor dispatches a tool call by name. Implementations run tools in the
// backend process or forward them elsewhere.
type Executor interface {
	Execute(ctx context.Context, toolName, projectKey string, params map[string]interface{}) *Result
}

// TransportExecutor additionally forwards execution to a remote (IDE-side)
// executor identified by transportID, for tools that must run outside the
// backend process.
type TransportExecutor interface {
	Executor
	ExecuteWithTransport(ctx context.Context, toolName, projectKey string, params map[string]interface{}, transportID string) *Result
}

// Registry manages available tools
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// RegistryExecutor executes tools straight out of a registry
type RegistryExecutor struct {
	registry *Registry
}

// NewRegistryExecutor wraps a registry as an Executor
func NewRegistryExecutor(registry *Registry) *RegistryExecutor {
	return &RegistryExecutor{registry: registry}
}

// Execute looks the tool up and runs it. Unknown tools yield a failed result
// rather than an error so the turn continues.
func (e *RegistryExecutor) Execute(ctx context.Context, toolName, projectKey string, params map[string]interface{}) *Result {
	tool, ok := e.registry.Get(toolName)
	if !ok {
		return Failure("tool %q is not registered", toolName)
	}
	return tool.Execute(ctx, projectKey, params)
}
