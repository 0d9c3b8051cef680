package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/codeloom-ai/codeloom/internal/tools"
)

// PartKind discriminates the closed set of part types. Consumers switch on
// it exhaustively; there is no open subtyping.
type PartKind string

const (
	KindText PartKind = "text"
	KindTool PartKind = "tool"
)

// Part is one unit of assistant or user output. The concrete types are
// TextPart and ToolPart only.
type Part interface {
	PartID() string
	Kind() PartKind
}

// TextPart is a plain text fragment
type TextPart struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTextPart creates a text part bound to a message
func NewTextPart(messageID, sessionID, text string) *TextPart {
	return &TextPart{
		ID:        uuid.NewString(),
		MessageID: messageID,
		SessionID: sessionID,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func (p *TextPart) PartID() string { return p.ID }
func (p *TextPart) Kind() PartKind { return KindText }

// ToolState is the lifecycle state of a tool call
type ToolState string

const (
	StatePending   ToolState = "pending"
	StateRunning   ToolState = "running"
	StateCompleted ToolState = "completed"
	StateError     ToolState = "error"
)

// ErrInvalidTransition is returned when a tool part is asked to leave a
// terminal state or skip a lifecycle step. Callers treat it as a contract
// violation, not a recoverable condition.
var ErrInvalidTransition = errors.New("invalid tool state transition")

// canTransition is the single source of truth for the tool call lifecycle:
// pending -> running -> completed|error, with error also reachable straight
// from pending (dispatch failures). Terminal states admit nothing.
func canTransition(from, to ToolState) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateError
	case StateRunning:
		return to == StateCompleted || to == StateError
	case StateCompleted, StateError:
		return false
	default:
		return false
	}
}

// ToolPart records a single tool invocation: its parameters, lifecycle state
// and (once finished) the result. Summary, when set, is the LLM-written digest
// used in place of the raw output when rendering history.
type ToolPart struct {
	ID         string                 `json:"id"`
	MessageID  string                 `json:"message_id"`
	SessionID  string                 `json:"session_id"`
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	State      ToolState              `json:"state"`
	Result     *tools.Result          `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Summary    string                 `json:"summary,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  time.Time              `json:"started_at,omitempty"`
	FinishedAt time.Time              `json:"finished_at,omitempty"`
}

// NewToolPart creates a pending tool part
func NewToolPart(messageID, sessionID, toolName string, params map[string]interface{}) *ToolPart {
	return &ToolPart{
		ID:         uuid.NewString(),
		MessageID:  messageID,
		SessionID:  sessionID,
		ToolName:   toolName,
		Parameters: params,
		State:      StatePending,
		CreatedAt:  time.Now(),
	}
}

func (p *ToolPart) PartID() string { return p.ID }
func (p *ToolPart) Kind() PartKind { return KindTool }

func (p *ToolPart) transition(to ToolState) error {
	if !canTransition(p.State, to) {
		return ErrInvalidTransition
	}
	p.State = to
	return nil
}

// MarkRunning moves the part from pending to running
func (p *ToolPart) MarkRunning() error {
	if err := p.transition(StateRunning); err != nil {
		return err
	}
	p.StartedAt = time.Now()
	return nil
}

// MarkCompleted records the result and moves the part to its terminal
// completed state
func (p *ToolPart) MarkCompleted(result *tools.Result) error {
	if err := p.transition(StateCompleted); err != nil {
		return err
	}
	p.Result = result
	p.FinishedAt = time.Now()
	return nil
}

// MarkError records the failure and moves the part to its terminal error
// state. Valid from both pending (dispatch refused) and running.
func (p *ToolPart) MarkError(errMsg string) error {
	if err := p.transition(StateError); err != nil {
		return err
	}
	p.Error = errMsg
	p.FinishedAt = time.Now()
	return nil
}

// IsTerminal reports whether the part reached completed or error
func (p *ToolPart) IsTerminal() bool {
	return p.State == StateCompleted || p.State == StateError
}
