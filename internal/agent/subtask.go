package agent

import (
	"context"
	"fmt"

	"github.com/codeloom-ai/codeloom/internal/session"
	"github.com/codeloom-ai/codeloom/internal/tools"
)

// runToolIsolated executes a single tool call in a child session so that
// whatever context the execution produces never leaks into the parent's
// message stream. The full output is compressed before it is attached to
// the part; the child session is cleaned up regardless of the result.
func (l *Loop) runToolIsolated(ctx context.Context, parent *session.Session, part *session.ToolPart, onPart func(session.Part)) {
	child, err := l.store.CreateChildSession(parent.ID)
	if err != nil {
		_ = part.MarkError(fmt.Sprintf("create child session: %v", err))
		onPart(part)
		return
	}
	defer l.store.CleanupChild(child.ID)

	if err := part.MarkRunning(); err != nil {
		_ = part.MarkError(err.Error())
		onPart(part)
		return
	}

	fullResult := l.dispatch(ctx, child, part)
	if fullResult == nil {
		fullResult = tools.Failure("tool %q returned no result", part.ToolName)
	}

	question := ""
	if latest := parent.LatestUserMessage(); latest != nil {
		question = latest.FirstText()
	}
	compressed := l.compressor.Compress(ctx, part.ToolName, fullResult, question)

	// The part keeps the compressed payload; the raw output is dropped with
	// the child session.
	stored := &tools.Result{
		Success:        fullResult.Success,
		Output:         compressed,
		Error:          fullResult.Error,
		DisplayTitle:   fullResult.DisplayTitle,
		DisplayContent: fullResult.DisplayContent,
		RelativePath:   fullResult.RelativePath,
		RelatedFiles:   fullResult.RelatedFiles,
		Metadata:       fullResult.Metadata,
		DurationMs:     fullResult.DurationMs,
		SubResults:     fullResult.SubResults,
	}

	if fullResult.Success {
		_ = part.MarkCompleted(stored)
		l.guard.RecordToolCall(parent.ProjectKey, part.ToolName, part.Parameters, stored)
		l.guard.RecordSuccess(parent.ProjectKey)
	} else {
		part.Result = stored
		_ = part.MarkError(fullResult.Error)
		l.guard.RecordError(parent.ProjectKey)
	}
	onPart(part)
}

// dispatch routes a tool call to the batch runner or the plain executor.
// Tools that must run on the client side go through the transport executor
// when one is configured.
func (l *Loop) dispatch(ctx context.Context, child *session.Session, part *session.ToolPart) *tools.Result {
	if part.ToolName == tools.BatchToolName {
		calls, err := tools.ParseBatchCalls(part.Parameters["tool_calls"])
		if err != nil {
			return tools.Failure("invalid batch payload: %v", err)
		}
		return l.batch.Run(ctx, child.ProjectKey, calls)
	}

	if te, ok := l.executor.(tools.TransportExecutor); ok && child.TransportID != "" {
		return te.ExecuteWithTransport(ctx, part.ToolName, child.ProjectKey, part.Parameters, child.TransportID)
	}
	return l.executor.Execute(ctx, part.ToolName, child.ProjectKey, part.Parameters)
}
