package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/blockforge/internal/logging"
)

// Notifier owns the preview session set. Broadcasts are serialized, so every
// session sees events in the order Broadcast was called.
type Notifier struct {
	sessions SessionSet
	logger   logging.Logger

	broadcastMu sync.Mutex

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isShutdown   bool
}

// NewNotifier creates a notifier over sessions. A nil set gets an
// in-memory one.
func NewNotifier(sessions SessionSet, logger logging.Logger) *Notifier {
	if sessions == nil {
		sessions = NewMemorySessionSet()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Notifier{
		sessions: sessions,
		logger:   logger.WithComponent("notifier"),
	}
}

// Subscribe adds a session. It reports false after Shutdown.
func (n *Notifier) Subscribe(s Session) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.isShutdown {
		return false
	}
	n.sessions.Insert(s)
	n.logger.Debug(context.Background(), "Session subscribed",
		"session", s.ID(), "scope", s.Scope(), "sessions", n.sessions.Len())
	return true
}

// Unsubscribe removes and closes a session. Unknown ids are ignored.
func (n *Notifier) Unsubscribe(id string) {
	s, ok := n.sessions.Remove(id)
	if !ok {
		return
	}
	s.Close()
	n.logger.Debug(context.Background(), "Session unsubscribed",
		"session", id, "sessions", n.sessions.Len())
}

// Broadcast delivers event to every matching session and returns how many
// accepted it. Sessions that fail to accept are dropped; delivery to the
// rest continues.
func (n *Notifier) Broadcast(ctx context.Context, event Event) int {
	if event.Type == "" {
		event.Type = EventReload
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	n.broadcastMu.Lock()
	defer n.broadcastMu.Unlock()

	var delivered int
	var failed []string
	n.sessions.ForEach(func(s Session) bool {
		if !event.Matches(s.Scope()) {
			return true
		}
		if err := s.Send(ctx, event); err != nil {
			n.logger.Debug(ctx, "Dropping session", "session", s.ID(), "error", err.Error())
			failed = append(failed, s.ID())
			return true
		}
		delivered++
		return true
	})

	for _, id := range failed {
		n.Unsubscribe(id)
	}

	n.logger.Debug(ctx, "Broadcast",
		"resource", event.Resource,
		"config_changed", event.ConfigChanged,
		"delivered", delivered,
		"dropped", len(failed))

	return delivered
}

// Count returns the number of live sessions.
func (n *Notifier) Count() int {
	return n.sessions.Len()
}

// Shutdown closes every session and rejects new subscriptions.
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.shutdownOnce.Do(func() {
		n.mu.Lock()
		n.isShutdown = true
		n.mu.Unlock()

		var ids []string
		n.sessions.ForEach(func(s Session) bool {
			ids = append(ids, s.ID())
			return true
		})
		for _, id := range ids {
			n.Unsubscribe(id)
		}
		n.logger.Info(ctx, "Notifier shut down", "closed_sessions", len(ids))
	})
	return nil
}

// IsShutdown reports whether Shutdown has been called.
func (n *Notifier) IsShutdown() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isShutdown
}
