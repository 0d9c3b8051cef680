package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Status is the session execution state. Exactly one turn may run per
// session; the BUSY flag is the mutual exclusion.
type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// Session is a conversation: an ordered message stream plus the project it
// belongs to. Child sessions (tool-call isolation) share the project key and
// transport identity of their parent but start with an empty stream.
type Session struct {
	ID          string
	ProjectKey  string
	TransportID string

	mu            sync.RWMutex
	status        Status
	messages      []*Message
	stopRequested bool
	createdAt     time.Time
	updatedAt     time.Time
}

// New creates an idle session
func New(id, projectKey string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		ProjectKey: projectKey,
		status:     StatusIdle,
		messages:   make([]*Message, 0),
		createdAt:  now,
		updatedAt:  now,
	}
}

// GenerateID creates a random session ID (hex, 12 chars).
func GenerateID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}

// TryAcquire atomically moves the session from IDLE to BUSY. It returns
// false when the session is already busy; callers must then short-circuit
// instead of queueing.
func (s *Session) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusBusy {
		return false
	}
	s.status = StatusBusy
	s.updatedAt = time.Now()
	return true
}

// Release returns the session to IDLE
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.updatedAt = time.Now()
}

// Status returns the current status
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsBusy reports whether a turn is currently running
func (s *Session) IsBusy() bool {
	return s.Status() == StatusBusy
}

// RequestStop sets the cooperative cancellation flag. The loop checks it
// before each LLM round; in-flight tool execution is not interrupted.
func (s *Session) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
	s.updatedAt = time.Now()
}

// StopRequested reports whether a stop was requested
func (s *Session) StopRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopRequested
}

// ClearStop resets the cancellation flag at the start of a new turn
func (s *Session) ClearStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = false
}

// AddMessage appends a message to the stream
func (s *Session) AddMessage(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.updatedAt = time.Now()
}

// Messages returns a copy of the message stream. The Message pointers are
// shared; the slice is not.
func (s *Session) Messages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]*Message, len(s.messages))
	copy(messages, s.messages)
	return messages
}

// MessageCount returns the number of messages
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// LatestAssistantMessage returns the newest assistant message, or nil
func (s *Session) LatestAssistantMessage() *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsAssistant() {
			return s.messages[i]
		}
	}
	return nil
}

// LatestUserMessage returns the newest user message, or nil
func (s *Session) LatestUserMessage() *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsUser() {
			return s.messages[i]
		}
	}
	return nil
}

// FirstUserMessage returns the oldest user message, or nil
func (s *Session) FirstUserMessage() *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.IsUser() {
			return msg
		}
	}
	return nil
}

// HasNewUserMessageAfter reports whether a user message arrived after the
// message with the given ID. The loop uses it to notice mid-turn input.
func (s *Session) HasNewUserMessageAfter(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if messageID == "" {
		return len(s.messages) > 0 && s.messages[len(s.messages)-1].IsUser()
	}

	idx := -1
	for i, msg := range s.messages {
		if msg.ID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	for i := idx + 1; i < len(s.messages); i++ {
		if s.messages[i].IsUser() {
			return true
		}
	}
	return false
}

// UserMessagesAfter returns the user messages that arrived after the message
// with the given ID, in order.
func (s *Session) UserMessagesAfter(messageID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Message
	found := messageID == ""
	for _, msg := range s.messages {
		if found && msg.IsUser() {
			result = append(result, msg)
		}
		if msg.ID == messageID {
			found = true
		}
	}
	return result
}
