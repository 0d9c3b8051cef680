package budget

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codeloom-ai/codeloom/internal/config"
	"github.com/codeloom-ai/codeloom/internal/llm"
	"github.com/codeloom-ai/codeloom/internal/logger"
	"github.com/codeloom-ai/codeloom/internal/session"
)

// Manager tracks a session's token footprint against the context window and
// applies the two recovery mechanisms: pruning (cheap, lossy per tool result)
// and compaction (expensive, summarizes history through the model).
type Manager struct {
	cfg       config.BudgetConfig
	estimator TokenEstimator
	client    llm.Client
	log       *logger.Logger
}

// NewManager creates a budget manager. The client is used only for
// compaction summaries; a nil client makes Compact a no-op that returns an
// empty summary.
func NewManager(cfg config.BudgetConfig, estimator TokenEstimator, client llm.Client) *Manager {
	if estimator == nil {
		estimator = NewHeuristicEstimator()
	}
	return &Manager{
		cfg:       cfg,
		estimator: estimator,
		client:    client,
		log:       logger.Global().WithPrefix("budget"),
	}
}

// EstimateSession returns the estimated token footprint of all messages
func (m *Manager) EstimateSession(sess *session.Session) int {
	total := 0
	for _, msg := range sess.Messages() {
		for _, part := range msg.Parts {
			total += m.estimator.EstimatePart(part)
		}
	}
	return total
}

// NeedsCompaction reports whether the session exceeds the context budget
func (m *Manager) NeedsCompaction(sess *session.Session) bool {
	return m.EstimateSession(sess) > m.cfg.MaxContextTokens
}

// Prune replaces old completed tool output with short markers. Walking
// newest to oldest, it skips the most recent assistant turns entirely,
// protects a token allowance of recent results beyond those, and collects
// the rest as candidates. Candidates are only committed when they free more
// than the minimum worth pruning, so small sessions are left alone. The walk
// stops at a compaction boundary. Already pruned results are never counted
// again, which makes repeated calls settle to a no-op.
//
// Returns the number of tokens pruned (zero when below the minimum).
func (m *Manager) Prune(sess *session.Session) int {
	messages := sess.Messages()

	rounds := 0
	protected := 0
	candidateTokens := 0
	var candidates []*session.ToolPart

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if !msg.IsAssistant() {
			continue
		}
		rounds++
		if rounds <= m.cfg.PruneProtectTurns {
			continue
		}
		if msg.Compacted {
			break
		}
		for _, part := range msg.ToolParts() {
			if part.State != session.StateCompleted || part.Result == nil || part.Result.IsPruned() {
				continue
			}
			tokens := m.estimator.EstimatePart(part)
			protected += tokens
			if protected > m.cfg.PruneProtectTokens {
				candidates = append(candidates, part)
				candidateTokens += tokens
			}
		}
	}

	if candidateTokens <= m.cfg.PruneMinimumTokens {
		m.log.Debug("prune skipped for %s: %d tokens below minimum %d",
			sess.ID, candidateTokens, m.cfg.PruneMinimumTokens)
		return 0
	}

	for _, part := range candidates {
		part.Result.Prune()
	}
	m.log.Info("pruned %d tool results (%d tokens) in session %s",
		len(candidates), candidateTokens, sess.ID)
	return candidateTokens
}

// Compact asks the model for a structured summary of the conversation so far
// and stamps the earliest assistant message as the compaction boundary.
// History rendering and pruning stop their backward scans at that boundary.
// On any failure the session is left untouched and the summary is empty.
func (m *Manager) Compact(ctx context.Context, sess *session.Session) string {
	if m.client == nil {
		m.log.Warn("compaction requested for %s but no summary client configured", sess.ID)
		return ""
	}

	prompt := m.buildCompactionPrompt(sess)
	resp, err := m.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:    []*llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		m.log.Error("compaction for %s failed: %v", sess.ID, err)
		return ""
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := llm.ExtractJSON(resp.Content, &parsed); err != nil {
		m.log.Error("compaction summary for %s unparseable: %v", sess.ID, err)
		return ""
	}
	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		m.log.Error("compaction for %s produced an empty summary", sess.ID)
		return ""
	}

	m.markCompactionBoundary(sess)
	m.log.Info("compacted session %s, summary length %d", sess.ID, len(summary))
	return summary
}

// markCompactionBoundary flags the earliest assistant message
func (m *Manager) markCompactionBoundary(sess *session.Session) {
	for _, msg := range sess.Messages() {
		if msg.IsAssistant() {
			msg.Compacted = true
			return
		}
	}
}

func (m *Manager) buildCompactionPrompt(sess *session.Session) string {
	var b strings.Builder

	b.WriteString("You are a code analysis assistant. Compress the conversation below into a concise summary.\n\n")

	b.WriteString("## Original user question\n")
	if first := sess.FirstUserMessage(); first != nil {
		b.WriteString(first.FirstText())
	}
	b.WriteString("\n\n## Conversation history\n")
	b.WriteString(m.formatHistory(sess))

	b.WriteString("\n\n## Requirements\n")
	b.WriteString("Produce a detailed summary covering:\n")
	b.WriteString("1. What was done (tools executed and findings)\n")
	b.WriteString("2. What is in progress (current state)\n")
	b.WriteString("3. What comes next (planned steps)\n")
	b.WriteString("4. Key user requests, constraints or preferences\n")
	b.WriteString("5. Important technical decisions and their reasons\n\n")
	b.WriteString("Reply in JSON:\n{\n  \"summary\": \"your detailed summary\"\n}")

	return b.String()
}

// formatHistory renders the message stream for the compaction prompt. Tool
// output is clipped and pruned results are dropped entirely.
// clipRunes cuts s to at most limit bytes on a rune boundary
func clipRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func (m *Manager) formatHistory(sess *session.Session) string {
	var b strings.Builder

	for _, msg := range sess.Messages() {
		if msg.IsUser() {
			b.WriteString("### User\n")
			for _, part := range msg.Parts {
				if tp, ok := part.(*session.TextPart); ok {
					b.WriteString(tp.Text)
					b.WriteString("\n")
				}
			}
		} else {
			b.WriteString("### Assistant\n")
			for _, part := range msg.Parts {
				switch p := part.(type) {
				case *session.TextPart:
					b.WriteString(p.Text)
					b.WriteString("\n")
				case *session.ToolPart:
					fmt.Fprintf(&b, "Tool call: %s", p.ToolName)
					if p.Result != nil && p.Result.Output != "" && !p.Result.IsPruned() {
						fmt.Fprintf(&b, "\nResult: %s", clipRunes(p.Result.Output, 200))
					}
					b.WriteString("\n")
				}
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}
