package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/publish"
)

// sseKeepAlive is how often an idle progress stream sends a comment line.
const sseKeepAlive = 15 * time.Second

func (s *Server) handleCreatePublish(w http.ResponseWriter, r *http.Request) {
	var req publish.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeForgeError(w, r, err)
		return
	}

	id, err := s.tracker.Create(r.Context(), req)
	if err != nil {
		s.writeForgeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/publish/"+id)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     id,
		"status": publish.StatusPending,
		"stream": "/api/publish/" + id + "/stream",
	})
}

func (s *Server) handleListPublish(w http.ResponseWriter, r *http.Request) {
	tasks := s.tracker.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleGetPublish(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tracker.Get(r.PathValue("id"))
	if !ok {
		s.writeForgeError(w, r, errors.NewValidationError(errors.CodeResourceNotFound, "publish task not found"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleStreamPublish sends task snapshots as server-sent events until the
// task is terminal or the client goes away. Each snapshot is a "task"
// event; the last one is followed by a "done" event.
func (s *Server) handleStreamPublish(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.CodeInternal, "streaming unsupported")
		return
	}

	updates, err := s.tracker.Watch(r.Context(), id)
	if err != nil {
		s.writeForgeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	var last *publish.Task
	for {
		select {
		case task, open := <-updates:
			if !open {
				if last != nil && last.Status.Terminal() {
					fmt.Fprintf(w, "event: done\ndata: {\"status\":%q}\n\n", last.Status)
					flusher.Flush()
				}
				return
			}
			last = task

			data, err := json.Marshal(task)
			if err != nil {
				s.logger.Error(r.Context(), err, "Encoding task snapshot failed", "task", id)
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: task\ndata: %s\n\n", len(task.Steps), data)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
