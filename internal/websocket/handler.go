package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/conneroisu/blockforge/internal/validation"
)

const (
	sendQueueSize = 32
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// OriginValidator decides whether a browser origin may open a session.
type OriginValidator interface {
	IsAllowedOrigin(origin, host string) bool
}

// AllowedOrigins accepts same-host origins plus an explicit list.
type AllowedOrigins []string

// IsAllowedOrigin implements OriginValidator.
func (a AllowedOrigins) IsAllowedOrigin(origin, host string) bool {
	if origin == "" {
		return true
	}
	allowed := append([]string{host}, a...)
	return validation.ValidateOrigin(origin, allowed) == nil
}

// HandleWebSocket upgrades the request and subscribes a session scoped to
// the optional ?resource= query parameter. It returns when the peer goes
// away.
func (n *Notifier) HandleWebSocket(origins OriginValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if n.IsShutdown() {
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}

		origin := r.Header.Get("Origin")
		if origins != nil && !origins.IsAllowedOrigin(origin, r.Host) {
			n.logger.Warn(r.Context(), nil, "WebSocket connection rejected", "origin", origin, "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		scope := r.URL.Query().Get("resource")
		if scope != "" && scope != AllResources {
			if err := validation.ValidateResourceName(scope); err != nil {
				http.Error(w, "invalid resource", http.StatusBadRequest)
				return
			}
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Origin is validated above.
			OriginPatterns:  []string{"*"},
			CompressionMode: websocket.CompressionDisabled,
		})
		if err != nil {
			n.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
			return
		}

		session := newConnSession(conn, scope)
		if !n.Subscribe(session) {
			conn.Close(websocket.StatusServiceRestart, "server shutting down")
			return
		}
		defer n.Unsubscribe(session.ID())

		// The client never sends data; CloseRead reads control frames and
		// cancels ctx once the peer disconnects.
		ctx := conn.CloseRead(context.Background())
		session.writeLoop(ctx)
	}
}

// connSession is a Session backed by a WebSocket connection. Send enqueues;
// writeLoop drains the queue and pings the peer.
type connSession struct {
	id    string
	scope string
	conn  *websocket.Conn
	send  chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnSession(conn *websocket.Conn, scope string) *connSession {
	return &connSession{
		id:     uuid.NewString(),
		scope:  scope,
		conn:   conn,
		send:   make(chan Event, sendQueueSize),
		closed: make(chan struct{}),
	}
}

func (s *connSession) ID() string    { return s.id }
func (s *connSession) Scope() string { return s.scope }

func (s *connSession) Send(ctx context.Context, event Event) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- event:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		return ErrSessionBackpressure
	}
}

func (s *connSession) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close(websocket.StatusNormalClosure, "")
	})
}

func (s *connSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-s.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, s.conn, event)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}

		case <-s.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
