// Package agent drives the reason-and-act loop: the model decides, tools
// execute in isolated child sessions, results feed the next round, and the
// loop ends when the model answers in plain text or the step cap is hit.
package agent

import (
	"context"
	"fmt"

	"github.com/codeloom-ai/codeloom/internal/budget"
	"github.com/codeloom-ai/codeloom/internal/compress"
	"github.com/codeloom-ai/codeloom/internal/config"
	"github.com/codeloom-ai/codeloom/internal/guard"
	"github.com/codeloom-ai/codeloom/internal/llm"
	"github.com/codeloom-ai/codeloom/internal/logger"
	"github.com/codeloom-ai/codeloom/internal/session"
	"github.com/codeloom-ai/codeloom/internal/tools"
)

const (
	busyText      = "Still working on the previous request, please wait..."
	stoppedText   = "Stopped at your request."
	doomLoopText  = "Detected a repeated identical tool call, stopping to avoid an infinite loop."
	doomThreshold = 3
)

// Loop is the agent runtime for one backend process. It is safe for
// concurrent use across sessions; per-session exclusivity is enforced by
// the session's own busy flag.
type Loop struct {
	cfg          *config.Config
	store        *session.Store
	client       llm.Client
	guard        *guard.Guard
	compressor   *compress.Compressor
	budget       *budget.Manager
	registry     *tools.Registry
	executor     tools.Executor
	batch        *tools.BatchRunner
	systemPrompt string
	log          *logger.Logger
}

// Options wires the loop's collaborators. Client is the main conversation
// model; AuxClient (optional) serves compression and compaction and is
// wrapped with the configured timeout so a slow auxiliary call cannot stall
// a turn. A nil AuxClient falls back to Client. Estimator selects the token
// counting strategy for the context budget; nil uses the heuristic one.
type Options struct {
	Config       *config.Config
	Store        *session.Store
	Client       llm.Client
	AuxClient    llm.Client
	Registry     *tools.Registry
	Executor     tools.Executor
	Estimator    budget.TokenEstimator
	SystemPrompt string
}

// New builds an agent loop
func New(opts Options) *Loop {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	store := opts.Store
	if store == nil {
		store = session.NewStore()
	}
	executor := opts.Executor
	if executor == nil && opts.Registry != nil {
		executor = tools.NewRegistryExecutor(opts.Registry)
	}

	aux := opts.AuxClient
	if aux == nil {
		aux = opts.Client
	}
	aux = llm.NewBoundedClient(aux, cfg.AuxLLMTimeout())

	estimator := opts.Estimator
	if estimator == nil {
		estimator = budget.NewHeuristicEstimator()
	}

	return &Loop{
		cfg:          cfg,
		store:        store,
		client:       opts.Client,
		guard:        guard.New(cfg.Guard),
		compressor:   compress.New(aux),
		budget:       budget.NewManager(cfg.Budget, estimator, aux),
		registry:     opts.Registry,
		executor:     executor,
		batch:        tools.NewBatchRunner(executor, cfg.MaxBatchSize),
		systemPrompt: opts.SystemPrompt,
		log:          logger.Global().WithPrefix("agent"),
	}
}

// Store exposes the session store
func (l *Loop) Store() *session.Store { return l.store }

// Guard exposes the loop guard
func (l *Loop) Guard() *guard.Guard { return l.guard }

// Budget exposes the context budget manager
func (l *Loop) Budget() *budget.Manager { return l.budget }

// Process runs one full turn for the session. A busy session short-circuits
// with a deterministic wait message and no state change; otherwise the turn
// holds the session's busy flag for its whole duration and releases it on
// every exit path. Parts are streamed to onPart as they are produced; the
// returned message is the final assistant message of the turn.
func (l *Loop) Process(ctx context.Context, sess *session.Session, userInput string, onPart func(session.Part)) *session.Message {
	if onPart == nil {
		onPart = func(session.Part) {}
	}
	l.log.Info("processing turn: session=%s input_len=%d", sess.ID, len(userInput))

	if !sess.TryAcquire() {
		l.log.Info("session %s is busy, short-circuiting", sess.ID)
		return l.textMessage(sess.ID, busyText, onPart)
	}
	defer sess.Release()
	sess.ClearStop()

	if userInput != "" {
		userMsg := session.NewMessage(sess.ID, session.RoleUser)
		userMsg.AddPart(session.NewTextPart(userMsg.ID, sess.ID, userInput))
		sess.AddMessage(userMsg)
	}

	l.enforceBudget(ctx, sess, onPart)

	assistantMessage := l.runReact(ctx, sess, onPart)
	sess.AddMessage(assistantMessage)
	return assistantMessage
}

// enforceBudget brings the session back under the context window before the
// turn starts: prune first, compact only when pruning was not enough. The
// compaction summary is appended as its own assistant message so later
// rounds can see it.
func (l *Loop) enforceBudget(ctx context.Context, sess *session.Session, onPart func(session.Part)) {
	if !l.budget.NeedsCompaction(sess) {
		return
	}
	l.log.Info("session %s over budget, pruning", sess.ID)
	l.budget.Prune(sess)

	if !l.budget.NeedsCompaction(sess) {
		return
	}
	l.log.Info("session %s still over budget, compacting", sess.ID)
	summary := l.budget.Compact(ctx, sess)
	if summary == "" {
		return
	}
	msg := session.NewMessage(sess.ID, session.RoleAssistant)
	msg.AddPart(session.NewTextPart(msg.ID, sess.ID, "Conversation summary so far:\n"+summary))
	sess.AddMessage(msg)
	onPart(msg.Parts[0])
}

// runReact is the reason-and-act loop. Each round asks the model for parts;
// tool parts are executed and fed back through the next prompt, text-only
// rounds end the turn. The final round disables tools via the prompt.
func (l *Loop) runReact(ctx context.Context, sess *session.Session, onPart func(session.Part)) *session.Message {
	assistantMessage := session.NewMessage(sess.ID, session.RoleAssistant)

	for step := 1; step <= l.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			l.log.Warn("turn cancelled at step %d: %v", step, err)
			return l.appendText(assistantMessage, stoppedText, onPart)
		}
		if sess.StopRequested() {
			l.log.Info("stop requested, ending turn at step %d", step)
			return l.appendText(assistantMessage, stoppedText, onPart)
		}

		isLastStep := step == l.cfg.MaxSteps
		l.log.Debug("react step %d/%d (last=%v)", step, l.cfg.MaxSteps, isLastStep)

		resp, err := l.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
			Messages:     []*llm.Message{{Role: "user", Content: l.buildUserPrompt(sess, isLastStep)}},
			SystemPrompt: l.buildSystemPrompt(),
		})
		if err != nil {
			l.log.Error("model call failed at step %d: %v", step, err)
			return l.appendText(assistantMessage, fmt.Sprintf("Processing failed: %v", err), onPart)
		}

		parts := parseResponse(resp.Content, assistantMessage.ID, sess.ID, l.log)
		l.backfillSummary(sess, parts)

		toolParts := 0
		for _, part := range parts {
			if _, ok := part.(*session.ToolPart); ok {
				toolParts++
			}
		}

		if toolParts == 0 || isLastStep {
			for _, part := range parts {
				if tp, ok := part.(*session.ToolPart); ok {
					// Tools are disabled on the final step
					_ = tp.MarkError("step limit reached, tool call not executed")
				}
				assistantMessage.AddPart(part)
				onPart(part)
			}
			return assistantMessage
		}

		for _, part := range parts {
			toolPart, ok := part.(*session.ToolPart)
			if !ok {
				assistantMessage.AddPart(part)
				onPart(part)
				continue
			}

			if l.detectDoomLoop(sess, toolPart) {
				l.log.Warn("doom loop detected for %s, ending turn", toolPart.ToolName)
				return l.appendText(assistantMessage, doomLoopText, onPart)
			}

			l.executeGuarded(ctx, sess, toolPart, onPart)
			assistantMessage.AddPart(toolPart)
		}

		// Commit this round so the next prompt sees the tool results
		if len(assistantMessage.Parts) > 0 {
			sess.AddMessage(assistantMessage)
		}
		assistantMessage = session.NewMessage(sess.ID, session.RoleAssistant)
	}

	return assistantMessage
}

// executeGuarded consults the guard before running a tool. Backoff and
// quota skips fail the part with the skip reason; a duplicate call replays
// the cached result without executing anything.
func (l *Loop) executeGuarded(ctx context.Context, sess *session.Session, part *session.ToolPart, onPart func(session.Part)) {
	decision := l.guard.ShouldSkipToolCall(sess.ProjectKey, part.ToolName, part.Parameters)
	if !decision.Skip {
		l.runToolIsolated(ctx, sess, part, onPart)
		return
	}

	switch decision.Reason {
	case guard.ReasonDuplicate:
		l.log.Info("replaying cached result for %s", part.ToolName)
		if err := part.MarkRunning(); err == nil {
			_ = part.MarkCompleted(decision.CachedResult)
		}
	default:
		l.log.Info("skipping %s: %s", part.ToolName, decision.Detail)
		_ = part.MarkError(decision.Detail)
	}
	onPart(part)
}

// backfillSummary moves a model-written summary from the newest tool parts
// onto the most recent historical tool that still lacks one. The model is
// asked to summarize the previous round's result while requesting the next
// tool; the summary therefore arrives attached to the wrong part.
func (l *Loop) backfillSummary(sess *session.Session, parts []session.Part) {
	var carrier *session.ToolPart
	for _, part := range parts {
		if tp, ok := part.(*session.ToolPart); ok && tp.Summary != "" {
			carrier = tp
			break
		}
	}
	if carrier == nil {
		return
	}

	target := findLastToolWithoutSummary(sess)
	if target == nil {
		l.log.Debug("model produced a summary but no tool needs one")
		return
	}
	target.Summary = carrier.Summary
	carrier.Summary = ""
	l.log.Debug("backfilled summary onto %s", target.ToolName)
}

// findLastToolWithoutSummary scans newest to oldest for a completed tool
// part that has output but no summary yet.
func findLastToolWithoutSummary(sess *session.Session) *session.ToolPart {
	messages := sess.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].IsAssistant() {
			continue
		}
		parts := messages[i].Parts
		for j := len(parts) - 1; j >= 0; j-- {
			if tp, ok := parts[j].(*session.ToolPart); ok && tp.Summary == "" {
				return tp
			}
		}
	}
	return nil
}

// detectDoomLoop reports whether the same tool with the same parameters
// already completed in each of the recent messages. Three identical calls
// mean the model is stuck.
func (l *Loop) detectDoomLoop(sess *session.Session, current *session.ToolPart) bool {
	messages := sess.Messages()
	if len(messages) < 2 {
		return false
	}

	count := 0
	start := len(messages) - doomThreshold
	if start < 0 {
		start = 0
	}
	for i := len(messages) - 1; i >= start; i-- {
		if !messages[i].IsAssistant() {
			continue
		}
		for _, tp := range messages[i].ToolParts() {
			if tp.ToolName == current.ToolName &&
				tp.State == session.StateCompleted &&
				paramsEqual(tp.Parameters, current.Parameters) {
				count++
			}
		}
	}
	return count >= doomThreshold
}

// textMessage builds and pushes a one-part assistant message without
// touching the session stream.
func (l *Loop) textMessage(sessionID, text string, onPart func(session.Part)) *session.Message {
	msg := session.NewMessage(sessionID, session.RoleAssistant)
	part := session.NewTextPart(msg.ID, sessionID, text)
	msg.AddPart(part)
	onPart(part)
	return msg
}

// appendText adds a text part to the message and pushes it
func (l *Loop) appendText(msg *session.Message, text string, onPart func(session.Part)) *session.Message {
	part := session.NewTextPart(msg.ID, msg.SessionID, text)
	msg.AddPart(part)
	onPart(part)
	return msg
}
