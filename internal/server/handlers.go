package server

import (
	"net/http"
	"time"

	"github.com/conneroisu/blockforge/internal/build"
	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/schema"
	"github.com/conneroisu/blockforge/internal/version"
)

// BuildStatus summarizes the artifacts of one resource.
type BuildStatus struct {
	Status      build.Status       `json:"status"`
	Code        string             `json:"code,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Diagnostics []build.Diagnostic `json:"diagnostics,omitempty"`
	BuiltAt     time.Time          `json:"builtAt"`
	// Stale is set when the last build failed but an older good
	// artifact is still served.
	Stale       bool `json:"stale"`
	HasArtifact bool `json:"hasArtifact"`
}

// ResourceView is a resource as returned by the API.
type ResourceView struct {
	*registry.Resource
	Build *BuildStatus `json:"build,omitempty"`
}

// ResourceSummary is one entry of the resource listing.
type ResourceSummary struct {
	Type        string       `json:"type"`
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Version     string       `json:"version"`
	Fields      []string     `json:"fields"`
	Build       *BuildStatus `json:"build,omitempty"`
}

func (s *Server) buildStatus(key registry.Key) *BuildStatus {
	latest, ok := s.artifacts.Latest(key)
	if !ok {
		return nil
	}
	_, good := s.artifacts.LastGood(key)
	return &BuildStatus{
		Status:      latest.Status,
		Code:        latest.Code,
		Reason:      latest.Reason,
		Diagnostics: latest.Diagnostics,
		BuiltAt:     latest.BuiltAt,
		Stale:       !latest.OK() && good,
		HasArtifact: good,
	}
}

// lookup resolves the {type}/{name} path values. It writes the error
// response itself and reports whether the caller should continue.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*registry.Resource, bool) {
	key := registry.Key{Type: r.PathValue("type"), Name: r.PathValue("name")}
	if err := key.Validate(); err != nil {
		s.writeForgeError(w, r, errors.ErrInvalidRequest(err.Error()))
		return nil, false
	}

	res, ok := s.registry.Get(key)
	if !ok {
		s.writeForgeError(w, r, errors.ErrResourceNotFound(key.String()))
		return nil, false
	}
	return res, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.artifacts.Metrics().Snapshot()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"checks": map[string]interface{}{
			"registry": map[string]interface{}{"resources": s.registry.Count()},
			"sessions": map[string]interface{}{"open": s.notifier.Count()},
			"publish":  map[string]interface{}{"tasks": len(s.tracker.List())},
			"build": map[string]interface{}{
				"attempts":     stats.Attempts,
				"failures":     stats.Failures,
				"failing":      stats.Failing,
				"success_rate": stats.SuccessRate(),
				"average":      stats.Average.String(),
			},
		},
	})
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	typeFilter := r.URL.Query().Get("type")

	summaries := make([]ResourceSummary, 0, s.registry.Count())
	for _, res := range s.registry.List() {
		if typeFilter != "" && res.Type != typeFilter {
			continue
		}
		summaries = append(summaries, ResourceSummary{
			Type:        res.Type,
			Name:        res.Name,
			DisplayName: res.DisplayName,
			Description: res.Description,
			Category:    res.Category,
			Tags:        res.Tags,
			Version:     res.Package.Version,
			Fields:      res.Schema.Keys(),
			Build:       s.buildStatus(res.Key()),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resources": summaries,
		"count":     len(summaries),
	})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ResourceView{Resource: res, Build: s.buildStatus(res.Key())})
}

func (s *Server) handleGetPreviewState(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.PreviewState)
}

// handlePutPreviewState replaces the preview state wholesale. The write
// goes straight to the registry and never triggers a rebuild.
func (s *Server) handlePutPreviewState(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var state map[string]interface{}
	if err := decodeJSON(w, r, &state); err != nil {
		s.writeForgeError(w, r, err)
		return
	}
	if state == nil {
		s.writeForgeError(w, r, errors.ErrInvalidRequest("preview state must be a JSON object"))
		return
	}

	updated, err := s.registry.SetPreviewState(res.Key(), state)
	if err != nil {
		s.writeForgeError(w, r, err)
		return
	}

	s.logger.Debug(r.Context(), "Preview state updated", "resource", res.Key().String())
	writeJSON(w, http.StatusOK, updated.PreviewState)
}

func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schema.DefaultContent(res.Schema))
}

// handleArtifact serves the last good build output. A resource that never
// built successfully gets a 404 carrying the latest failure.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}

	file := r.PathValue("file")
	switch file {
	case build.ScriptFile, build.SourceMapFile, build.StyleFile:
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown artifact "+file)
		return
	}

	artifact, ok := s.artifacts.LastGood(res.Key())
	if !ok {
		body := errorBody{Error: "no successful build", Code: "NO_ARTIFACT"}
		if latest, failed := s.artifacts.Latest(res.Key()); failed {
			body.Details = map[string]interface{}{"code": latest.Code, "reason": latest.Reason}
		}
		writeJSON(w, http.StatusNotFound, body)
		return
	}

	if status := s.buildStatus(res.Key()); status != nil && status.Stale {
		w.Header().Set("X-Blockforge-Build", "stale")
	}

	var content []byte
	var contentType string
	switch file {
	case build.ScriptFile:
		content, contentType = artifact.Script, "text/javascript; charset=utf-8"
	case build.SourceMapFile:
		content, contentType = artifact.SourceMap, "application/json"
	case build.StyleFile:
		if !artifact.HasStylesheet {
			writeError(w, http.StatusNotFound, "NOT_FOUND", res.Name+" has no stylesheet")
			return
		}
		content, contentType = artifact.Stylesheet, "text/css; charset=utf-8"
	}
	if content == nil && file == build.SourceMapFile {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "source maps are disabled")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
