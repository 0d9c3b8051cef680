package session

import (
	"fmt"
	"sync"

	"github.com/codeloom-ai/codeloom/internal/logger"
)

// ErrParentNotFound is returned when a child session is requested under an
// unknown parent.
type ErrParentNotFound struct {
	ParentID string
}

func (e *ErrParentNotFound) Error() string {
	return fmt.Sprintf("parent session %q does not exist", e.ParentID)
}

// Store keeps the live sessions and their parent/child relationships.
// It is an explicitly constructed handle, safe for concurrent use from many
// in-flight turns; nothing here is a package-level singleton.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	parent   map[string]string              // child id -> parent id
	children map[string]map[string]struct{} // parent id -> child ids
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		parent:   make(map[string]string),
		children: make(map[string]map[string]struct{}),
	}
}

// Register adds an externally constructed session. An existing session with
// the same ID is kept; the existing one is returned.
func (st *Store) Register(s *Session) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if existing, ok := st.sessions[s.ID]; ok {
		return existing
	}
	st.sessions[s.ID] = s
	return s
}

// CreateRootSession creates a new top-level session for a project
func (st *Store) CreateRootSession(projectKey string) *Session {
	s := New(GenerateID(), projectKey)

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	logger.Info("created root session %s for project %s", s.ID, projectKey)
	return s
}

// CreateChildSession creates an isolated child session under parentID. The
// child inherits the project key and transport identity but starts with an
// empty message stream.
func (st *Store) CreateChildSession(parentID string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	parent, ok := st.sessions[parentID]
	if !ok {
		return nil, &ErrParentNotFound{ParentID: parentID}
	}

	child := New(GenerateID(), parent.ProjectKey)
	child.TransportID = parent.TransportID

	st.sessions[child.ID] = child
	st.parent[child.ID] = parentID
	if st.children[parentID] == nil {
		st.children[parentID] = make(map[string]struct{})
	}
	st.children[parentID][child.ID] = struct{}{}

	logger.Debug("created child session %s under %s", child.ID, parentID)
	return child, nil
}

// Get returns the session with the given ID
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// GetOrCreate returns the session with the given ID, creating a root session
// when the ID is unknown or empty.
func (st *Store) GetOrCreate(id, projectKey string) *Session {
	if id != "" {
		if s, ok := st.Get(id); ok {
			return s
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if id == "" {
		id = GenerateID()
	}
	if s, ok := st.sessions[id]; ok {
		return s
	}

	s := New(id, projectKey)
	st.sessions[id] = s
	return s
}

// End marks the session idle. Unknown IDs are a no-op.
func (st *Store) End(id string) {
	if s, ok := st.Get(id); ok {
		s.Release()
	}
}

// ParentID returns the parent session ID of a child, or "" for roots
func (st *Store) ParentID(id string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.parent[id]
}

// RootID walks the parent chain to the top. Sessions form a tree by
// construction, but a visited set guards against a corrupted cyclic chain.
func (st *Store) RootID(id string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	visited := make(map[string]struct{})
	current := id
	for {
		if _, seen := visited[current]; seen {
			logger.Warn("cycle in session parent chain at %s; treating as root", current)
			return current
		}
		visited[current] = struct{}{}

		parent, ok := st.parent[current]
		if !ok {
			return current
		}
		current = parent
	}
}

// CleanupChild removes a single child session after its tool call finishes
func (st *Store) CleanupChild(childID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.removeLocked(childID)
	logger.Debug("cleaned up child session %s", childID)
}

// Cleanup removes a session and all of its descendants
func (st *Store) Cleanup(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	visited := make(map[string]struct{})
	st.cleanupLocked(id, visited)
	logger.Info("cleaned up session %s and %d descendants", id, len(visited)-1)
}

func (st *Store) cleanupLocked(id string, visited map[string]struct{}) {
	if _, seen := visited[id]; seen {
		return
	}
	visited[id] = struct{}{}

	for childID := range st.children[id] {
		st.cleanupLocked(childID, visited)
	}
	st.removeLocked(id)
}

func (st *Store) removeLocked(id string) {
	delete(st.sessions, id)
	if parentID, ok := st.parent[id]; ok {
		delete(st.parent, id)
		if set := st.children[parentID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(st.children, parentID)
			}
		}
	}
	delete(st.children, id)
}

// Stats summarizes the store contents
type Stats struct {
	Total int `json:"total"`
	Root  int `json:"root"`
	Child int `json:"child"`
}

// Stats returns root/child/total session counts
func (st *Store) Stats() Stats {
	st.mu.RLock()
	defer st.mu.RUnlock()

	child := len(st.parent)
	total := len(st.sessions)
	return Stats{
		Total: total,
		Root:  total - child,
		Child: child,
	}
}
