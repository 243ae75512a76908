// Package websocket implements the hot-reload notifier: the set of open
// preview sessions and the broadcast of rebuild events to them, plus the
// WebSocket transport that preview pages connect through.
package websocket

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AllResources marks an event that concerns every resource.
const AllResources = "*"

// EventReload is the only event type sent to preview sessions.
const EventReload = "reload"

// Event is one notification pushed to preview sessions after a rebuild.
type Event struct {
	Type          string    `json:"type"`
	Resource      string    `json:"resource"`
	ResourceType  string    `json:"resourceType,omitempty"`
	ConfigChanged bool      `json:"configChanged"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Matches reports whether a session scoped to scope should receive e.
func (e Event) Matches(scope string) bool {
	return scope == "" || scope == AllResources ||
		e.Resource == AllResources || e.Resource == scope
}

var (
	// ErrSessionClosed is returned by Send on a session that has gone away.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionBackpressure is returned when a session's queue is full.
	ErrSessionBackpressure = errors.New("session send queue full")
)

// Session is one connected preview. Send must not block on the network.
type Session interface {
	ID() string
	// Scope is a resource name, or "" / AllResources for every resource.
	Scope() string
	Send(ctx context.Context, event Event) error
	Close()
}

// SessionSet stores live sessions. Implementations must tolerate Remove
// racing with ForEach.
type SessionSet interface {
	Insert(s Session)
	Remove(id string) (Session, bool)
	// ForEach visits a snapshot of the set in insertion order until fn
	// returns false.
	ForEach(fn func(Session) bool)
	Len() int
}

// MemorySessionSet is the in-process SessionSet.
type MemorySessionSet struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
}

// NewMemorySessionSet creates an empty set.
func NewMemorySessionSet() *MemorySessionSet {
	return &MemorySessionSet{sessions: make(map[string]Session)}
}

func (m *MemorySessionSet) Insert(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID()]; !exists {
		m.order = append(m.order, s.ID())
	}
	m.sessions[s.ID()] = s
}

func (m *MemorySessionSet) Remove(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	delete(m.sessions, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return s, true
}

func (m *MemorySessionSet) ForEach(fn func(Session) bool) {
	m.mu.RLock()
	snapshot := make([]Session, 0, len(m.order))
	for _, id := range m.order {
		snapshot = append(snapshot, m.sessions[id])
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

func (m *MemorySessionSet) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
