// Package server is the HTTP surface of the dev server: the resource API,
// artifact and preview routes, the live-reload socket and the publish
// endpoints. It validates requests and delegates everything else.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/conneroisu/blockforge/internal/build"
	"github.com/conneroisu/blockforge/internal/config"
	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/publish"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/validation"
	"github.com/conneroisu/blockforge/internal/websocket"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Deps are the components the server routes to.
type Deps struct {
	Registry  *registry.Registry
	Artifacts *build.ArtifactStore
	Notifier  *websocket.Notifier
	Tracker   *publish.Tracker
	Logger    logging.Logger
}

// Server serves previews and the JSON API.
type Server struct {
	config    *config.Config
	registry  *registry.Registry
	artifacts *build.ArtifactStore
	notifier  *websocket.Notifier
	tracker   *publish.Tracker
	limiter   *RateLimiter
	logger    logging.Logger
	started   time.Time

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// New creates a server. Nothing listens until Start.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")

	return &Server{
		config:    cfg,
		registry:  deps.Registry,
		artifacts: deps.Artifacts,
		notifier:  deps.Notifier,
		tracker:   deps.Tracker,
		limiter:   NewRateLimiter(RateLimitConfig{}, logger),
		logger:    logger,
		started:   time.Now(),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/resources", s.handleListResources)
	mux.HandleFunc("GET /api/resources/{type}/{name}", s.handleGetResource)
	mux.HandleFunc("GET /api/resources/{type}/{name}/preview-state", s.handleGetPreviewState)
	mux.HandleFunc("PUT /api/resources/{type}/{name}/preview-state", s.handlePutPreviewState)
	mux.HandleFunc("GET /api/resources/{type}/{name}/defaults", s.handleDefaults)

	mux.HandleFunc("GET /artifacts/{type}/{name}/{file}", s.handleArtifact)
	mux.HandleFunc("GET /preview/{type}/{name}", s.handlePreview)

	mux.Handle("GET /ws", s.notifier.HandleWebSocket(websocket.AllowedOrigins(s.config.Server.AllowedOrigins)))

	limited := RateLimitMiddleware(s.limiter)
	mux.Handle("POST /api/publish", limited(http.HandlerFunc(s.handleCreatePublish)))
	mux.HandleFunc("GET /api/publish", s.handleListPublish)
	mux.HandleFunc("GET /api/publish/{id}", s.handleGetPublish)
	mux.HandleFunc("GET /api/publish/{id}/stream", s.handleStreamPublish)

	mux.HandleFunc("/", s.handleNotFound)

	return chain(mux,
		LoggingMiddleware(s.logger),
		CORSMiddleware(s.config.Server.AllowedOrigins),
		SecurityMiddleware(s.config.Server.AllowedOrigins, s.logger),
	)
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, fmt.Sprintf("%d", s.config.Server.Port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return errors.WrapIO(err, "LISTEN", fmt.Sprintf("cannot listen on %s", s.Addr()))
	}
	return s.Serve(ctx, listener)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.serverMutex.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	url := "http://" + listener.Addr().String()
	s.logger.Info(ctx, "Preview server listening", "url", url)

	if s.config.Server.Open {
		go s.openBrowser(url)
	}

	if err := server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// URL returns the base URL once serving, or "".
func (s *Server) URL() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Shutdown closes preview sessions, stops accepting requests and waits for
// in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		if err := s.notifier.Shutdown(ctx); err != nil {
			shutdownErr = err
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

func (s *Server) openBrowser(url string) {
	time.Sleep(100 * time.Millisecond)

	if err := validation.ValidateURL(url); err != nil {
		s.logger.Warn(context.Background(), err, "Browser open failed due to invalid URL")
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to open browser")
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeForgeError maps an error onto a status code by its error code.
func (s *Server) writeForgeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error(), Code: errors.GetCode(err)}

	var fe *errors.ForgeError
	if stderrors.As(err, &fe) {
		body.Error = fe.Message
		body.Details = fe.Context
	}

	switch {
	case errors.HasErrorCode(err, errors.CodeResourceNotFound):
		status = http.StatusNotFound
	case errors.HasErrorCode(err, errors.CodeInvalidRequest):
		status = http.StatusBadRequest
	case errors.HasErrorCode(err, errors.CodeInvalidConfig):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		if errors.IsRecoverable(err) {
			s.logger.Warn(r.Context(), err, "Request failed", "path", r.URL.Path)
		} else {
			s.logger.Error(r.Context(), err, "Request failed", "path", r.URL.Path)
		}
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.ErrInvalidRequest("malformed JSON body: " + err.Error())
	}
	return nil
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "no route for "+r.Method+" "+r.URL.Path)
}
