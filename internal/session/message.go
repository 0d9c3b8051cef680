package session

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a session's linear message stream. Compacted marks
// the boundary message of a history compaction: rendering and pruning stop
// scanning backwards once they reach it.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Compacted bool      `json:"compacted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates an empty message for a session
func NewMessage(sessionID string, role Role) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		CreatedAt: time.Now(),
	}
}

// AddPart appends a part to the message
func (m *Message) AddPart(part Part) {
	m.Parts = append(m.Parts, part)
}

// IsUser reports whether this is a user message
func (m *Message) IsUser() bool { return m.Role == RoleUser }

// IsAssistant reports whether this is an assistant message
func (m *Message) IsAssistant() bool { return m.Role == RoleAssistant }

// FirstText returns the text of the first text part, or ""
func (m *Message) FirstText() string {
	for _, part := range m.Parts {
		if tp, ok := part.(*TextPart); ok {
			return tp.Text
		}
	}
	return ""
}

// ToolParts returns the tool parts of the message in order
func (m *Message) ToolParts() []*ToolPart {
	var parts []*ToolPart
	for _, part := range m.Parts {
		if tp, ok := part.(*ToolPart); ok {
			parts = append(parts, tp)
		}
	}
	return parts
}
