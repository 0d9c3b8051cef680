package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codeloom-ai/codeloom/internal/session"
)

const responseFormatGuide = `## Response format

Reply with JSON. To call tools:
{"parts": [{"type": "tool", "toolName": "...", "parameters": {...}}]}
To answer directly:
{"parts": [{"type": "text", "text": "your answer"}]}
You may mix text and tool parts in one reply.`

const reactGuide = `## Next step analysis

Based on the tool history above, analyze progress and decide the next move:
1. Analyze: what key information did the tools return?
2. Summarize (important): if a tool result above is tagged as needing a
   summary and you are calling another tool, add a "summary" field to the
   NEW tool part that summarizes the PREVIOUS tool's result. The summary
   must preserve file paths. If you are answering directly instead, no
   summary is needed.
3. Assess: is the information sufficient to answer the user?
4. Act: answer directly when sufficient; call another tool when not,
   explaining why; after a failure try a different approach, never repeat
   the failed call.`

const lastStepWarning = `## CRITICAL: MAXIMUM STEPS REACHED

This is the final model call. Tools are disabled after this call.
Do NOT emit any tool parts. You MUST reply with a text part that states
the step limit was reached, summarizes what was accomplished, lists any
remaining tasks, and recommends what to do next.`

const needsSummaryTag = "[this tool result has no summary yet, generate one]"

// buildSystemPrompt combines the configured base prompt with the tool
// catalogue and the response format contract.
func (l *Loop) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(l.systemPrompt)
	if l.registry != nil {
		names := l.registry.Names()
		if len(names) > 0 {
			b.WriteString("\n\n## Available tools\n")
			for _, name := range names {
				tool, ok := l.registry.Get(name)
				if !ok {
					continue
				}
				fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), tool.Description())
			}
		}
	}
	b.WriteString("\n\n")
	b.WriteString(responseFormatGuide)
	return b.String()
}

// buildUserPrompt renders the conversation for one model round: a reminder
// block for user messages that arrived mid-turn, the recent history window
// (stopping at a compaction boundary), the decision guide, and on the final
// permitted step a hard no-tools warning.
func (l *Loop) buildUserPrompt(sess *session.Session, isLastStep bool) string {
	var b strings.Builder

	l.writeInterruptReminder(&b, sess)

	messages := historyWindow(sess, l.cfg.HistoryWindow)
	if len(messages) > 0 {
		b.WriteString("\n\n## Conversation history\n\n")
	}
	for _, msg := range messages {
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
					writeToolHistory(&b, p)
				}
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("\n\n")
	b.WriteString(reactGuide)

	if isLastStep {
		b.WriteString("\n\n")
		b.WriteString(lastStepWarning)
	}

	return b.String()
}

// writeInterruptReminder surfaces user messages that arrived after the last
// assistant message, so the model reacts to them instead of finishing a
// stale plan.
func (l *Loop) writeInterruptReminder(b *strings.Builder, sess *session.Session) {
	lastAssistant := sess.LatestAssistantMessage()
	if lastAssistant == nil || !sess.HasNewUserMessageAfter(lastAssistant.ID) {
		return
	}

	b.WriteString("\n\n<system-reminder>\nThe user sent the following while you were working:\n\n")
	for _, msg := range sess.UserMessagesAfter(lastAssistant.ID) {
		for _, part := range msg.Parts {
			if tp, ok := part.(*session.TextPart); ok {
				b.WriteString(tp.Text)
				b.WriteString("\n")
			}
		}
	}
	b.WriteString("\nRespond to this immediately and adjust your plan.\n</system-reminder>\n")
}

// writeToolHistory renders one tool call for the prompt. Calls that already
// carry a summary show only the summary; fresh calls show the full result
// and are tagged so the model generates a summary next round.
func writeToolHistory(b *strings.Builder, part *session.ToolPart) {
	fmt.Fprintf(b, "Tool call: %s\n", part.ToolName)
	if brief := formatParamsBrief(part.Parameters); brief != "" {
		fmt.Fprintf(b, "Parameters: %s\n", brief)
	}

	result := part.Result
	if result == nil {
		if part.Error != "" {
			fmt.Fprintf(b, "Failed: %s\n", part.Error)
		}
		return
	}

	if !result.Success {
		errText := result.Error
		if errText == "" {
			errText = "unknown error"
		}
		fmt.Fprintf(b, "Failed: %s\n", errText)
		return
	}

	if part.Summary != "" {
		fmt.Fprintf(b, "Result:\n%s\n", part.Summary)
		return
	}

	if result.RelativePath != "" {
		fmt.Fprintf(b, "File: %s\n", result.RelativePath)
	}
	switch {
	case result.Output != "":
		fmt.Fprintf(b, "Result:\n%s\n%s\n", result.Output, needsSummaryTag)
	case result.DisplayContent != "":
		fmt.Fprintf(b, "Result:\n%s\n", result.DisplayContent)
	default:
		b.WriteString("Result: (success, no output)\n")
	}

	if desc, ok := result.Metadata["description"].(string); ok && desc != "" {
		fmt.Fprintf(b, "Change description: %s\n", desc)
	}
	if changes, ok := result.Metadata["changeSummary"].(string); ok && changes != "" {
		fmt.Fprintf(b, "Change details:\n%s\n", changes)
	}
}

// historyWindow returns the most recent messages, never crossing a
// compaction boundary: the scan walks backwards and stops once it includes
// the boundary message.
func historyWindow(sess *session.Session, window int) []*session.Message {
	messages := sess.Messages()

	var recent []*session.Message
	for i := len(messages) - 1; i >= 0; i-- {
		recent = append(recent, messages[i])
		if messages[i].IsAssistant() && messages[i].Compacted {
			break
		}
	}
	// restore chronological order
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	if window > 0 && len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	return recent
}

// formatParamsBrief renders parameters as stable key=value pairs
func formatParamsBrief(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(pairs, " ")
}
