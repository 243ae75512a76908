package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/blockforge/internal/build"
	"github.com/conneroisu/blockforge/internal/catalog"
	"github.com/conneroisu/blockforge/internal/config"
	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/publish"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/scanner"
	"github.com/conneroisu/blockforge/internal/testutils"
	"github.com/conneroisu/blockforge/internal/websocket"
)

type stubCompiler struct{}

func (stubCompiler) Compile(ctx context.Context, res *registry.Resource, target build.OutputTarget, opts build.Options) *build.Artifact {
	return &build.Artifact{Resource: res.Key(), Status: build.StatusOK, Script: []byte("export {}"), Version: res.Package.Version}
}

type stubPublisher struct {
	mu    sync.Mutex
	err   error
	block chan struct{}
}

func (p *stubPublisher) Publish(ctx context.Context, payload catalog.Payload) (*catalog.Result, error) {
	p.mu.Lock()
	block, err := p.block, p.err
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &catalog.Result{ID: "r1", Version: payload.Version, URL: "https://catalog.example.com/" + payload.Name}, nil
}

type fixture struct {
	project   string
	hero      string
	cfg       *config.Config
	registry  *registry.Registry
	artifacts *build.ArtifactStore
	notifier  *websocket.Notifier
	tracker   *publish.Tracker
	publisher *stubPublisher
	server    *Server
	ts        *httptest.Server
}

var (
	heroKey    = registry.Key{Type: "block", Name: "hero"}
	landingKey = registry.Key{Type: "template", Name: "landing"}
)

// newFixture serves a project with a built hero block and a landing
// template whose only build failed.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	project := testutils.CreateTempProject(t)
	hero := testutils.WriteHero(t, project)
	testutils.WriteResource(t, project, testutils.Resource{
		Type:    "template",
		Name:    "landing",
		Config:  "displayName: Landing\nfields:\n  title:\n    type: text\n",
		Version: "0.1.0",
		Files:   map[string]string{"src/index.tsx": "export default 1;\n"},
	})

	cfg := testutils.CreateTestConfig(project)

	result, err := scanner.New(nil).Scan(context.Background(), []scanner.Root{
		{Dir: cfg.BlocksPath(), Type: "block"},
		{Dir: cfg.TemplatesPath(), Type: "template"},
	}, scanner.Options{})
	require.NoError(t, err)
	reg, err := result.Registry()
	require.NoError(t, err)

	artifacts := build.NewArtifactStore()
	artifacts.Record(&build.Artifact{
		Resource:      heroKey,
		Status:        build.StatusOK,
		Script:        []byte("export default function Hero(){}"),
		SourceMap:     []byte(`{"version":3}`),
		Stylesheet:    []byte(".hero{color:red}"),
		HasStylesheet: true,
		Version:       "1.2.0",
		BuiltAt:       time.Now(),
	})
	artifacts.Record(&build.Artifact{
		Resource: landingKey,
		Status:   build.StatusFailed,
		Code:     errors.CodeCompileError,
		Reason:   "Unexpected \"}\"",
		Diagnostics: []build.Diagnostic{
			{Severity: build.SeverityError, Text: "Unexpected \"}\"", File: "src/index.tsx", Line: 3, Column: 1},
		},
		BuiltAt: time.Now(),
	})

	publisher := &stubPublisher{}
	tracker := publish.NewTracker(reg, stubCompiler{}, publisher, nil, publish.Config{
		Timeout:   cfg.Publish.Timeout,
		MaxTasks:  cfg.Publish.MaxTasks,
		Retention: cfg.Publish.Retention,
		OutputDir: t.TempDir(),
	}, nil)

	notifier := websocket.NewNotifier(websocket.NewMemorySessionSet(), nil)
	srv := New(cfg, Deps{
		Registry:  reg,
		Artifacts: artifacts,
		Notifier:  notifier,
		Tracker:   tracker,
	})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
		_ = tracker.Shutdown(context.Background())
	})

	return &fixture{
		project:   project,
		hero:      hero,
		cfg:       cfg,
		registry:  reg,
		artifacts: artifacts,
		notifier:  notifier,
		tracker:   tracker,
		publisher: publisher,
		server:    srv,
		ts:        ts,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, float64(2), checks["registry"].(map[string]interface{})["resources"])
	assert.Equal(t, float64(2), checks["build"].(map[string]interface{})["attempts"])
}

func TestListResources(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/resources", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Resources []ResourceSummary `json:"resources"`
		Count     int               `json:"count"`
	}
	decode(t, resp, &body)
	require.Equal(t, 2, body.Count)

	byName := map[string]ResourceSummary{}
	for _, r := range body.Resources {
		byName[r.Name] = r
	}
	assert.Equal(t, []string{"heading", "theme"}, byName["hero"].Fields)
	assert.Equal(t, "1.2.0", byName["hero"].Version)
	require.NotNil(t, byName["hero"].Build)
	assert.Equal(t, build.StatusOK, byName["hero"].Build.Status)

	// A failed resource still appears in the listing.
	require.NotNil(t, byName["landing"].Build)
	assert.Equal(t, build.StatusFailed, byName["landing"].Build.Status)
	assert.False(t, byName["landing"].Build.HasArtifact)

	resp = f.do(t, http.MethodGet, "/api/resources?type=template", "")
	decode(t, resp, &body)
	assert.Equal(t, 1, body.Count)
}

func TestGetResource(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/api/resources/block/hero", http.StatusOK, ""},
		{"/api/resources/block/missing", http.StatusNotFound, errors.CodeResourceNotFound},
		{"/api/resources/widget/hero", http.StatusBadRequest, errors.CodeInvalidRequest},
		{"/api/resources/block/Hero", http.StatusBadRequest, errors.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]interface{}
			decode(t, resp, &body)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
				return
			}
			assert.Equal(t, "hero", body["name"])
			assert.Equal(t, "Hero", body["displayName"])
			assert.Contains(t, body, "schema")
			assert.Contains(t, body, "build")
		})
	}
}

func TestPreviewStateRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/resources/block/hero/preview-state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty map[string]interface{}
	decode(t, resp, &empty)
	assert.Empty(t, empty)

	resp = f.do(t, http.MethodPut, "/api/resources/block/hero/preview-state", `{"heading":"Welcome","theme":"dark"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, readBody(t, resp))

	stored, err := registry.ReadPreviewState(f.hero)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", stored["heading"])

	res, ok := f.registry.Get(heroKey)
	require.True(t, ok)
	assert.Equal(t, "dark", res.PreviewState["theme"])

	resp = f.do(t, http.MethodGet, "/api/resources/block/hero/preview-state", "")
	var state map[string]interface{}
	decode(t, resp, &state)
	assert.Equal(t, "Welcome", state["heading"])
}

func TestPreviewStateRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"schema mismatch", "/api/resources/block/hero/preview-state", `{"theme":"neon"}`, http.StatusBadRequest},
		{"malformed json", "/api/resources/block/hero/preview-state", `{"heading":`, http.StatusBadRequest},
		{"not an object", "/api/resources/block/hero/preview-state", `null`, http.StatusBadRequest},
		{"unknown resource", "/api/resources/block/footer/preview-state", `{}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	_, err := os.Stat(filepath.Join(f.hero, registry.PreviewStateFile))
	assert.True(t, os.IsNotExist(err), "rejected writes must not touch the preview file")
}

func TestDefaults(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/resources/block/hero/defaults", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var defaults map[string]interface{}
	decode(t, resp, &defaults)
	assert.Contains(t, defaults, "heading")
	assert.Contains(t, defaults, "theme")
}

func TestArtifacts(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/artifacts/block/hero/index.js", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Equal(t, "export default function Hero(){}", readBody(t, resp))

	resp = f.do(t, http.MethodGet, "/artifacts/block/hero/index.css", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")

	resp = f.do(t, http.MethodGet, "/artifacts/block/hero/index.js.map", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/artifacts/block/hero/secret.txt", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Never built successfully: 404 with the failure attached.
	resp = f.do(t, http.MethodGet, "/artifacts/template/landing/index.js", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body errorBody
	decode(t, resp, &body)
	assert.Equal(t, "NO_ARTIFACT", body.Code)
	assert.Equal(t, errors.CodeCompileError, body.Details["code"])
}

func TestArtifactsServeLastGoodAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.artifacts.Record(&build.Artifact{Resource: heroKey, Status: build.StatusFailed, Code: errors.CodeCompileError, Reason: "broken"})

	resp := f.do(t, http.MethodGet, "/artifacts/block/hero/index.js", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stale", resp.Header.Get("X-Blockforge-Build"))
	assert.Equal(t, "export default function Hero(){}", readBody(t, resp))
}

func TestPreviewDefaultShell(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/preview/block/hero", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := readBody(t, resp)

	assert.Contains(t, page, `<script type="module" src="/artifacts/block/hero/index.js">`)
	assert.Contains(t, page, `href="/artifacts/block/hero/index.css"`)
	assert.Contains(t, page, `data-resource="hero"`)
	assert.Contains(t, page, "window.__BLOCKFORGE__")
	assert.NotContains(t, page, `id="blockforge-overlay"`)
}

func TestPreviewErrorOverlay(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/preview/template/landing", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", resp.Header.Get("X-Blockforge-Build"))

	page := readBody(t, resp)
	assert.Contains(t, page, `id="blockforge-overlay"`)
	assert.Contains(t, page, "COMPILE_ERROR")
	assert.Contains(t, page, "src/index.tsx:3:1")
	assert.NotContains(t, page, "index.js\"></script>")
}

func TestPreviewProjectTemplate(t *testing.T) {
	f := newFixture(t)
	testutils.WriteFile(t, filepath.Join(f.project, DefaultPreviewTemplate),
		`<!DOCTYPE html><html><head><title>Site</title><link rel="stylesheet" href="/site.css"></head><body><main id="root"></main></body></html>`)

	resp := f.do(t, http.MethodGet, "/preview/block/hero", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := readBody(t, resp)

	assert.Contains(t, page, "<title>Site</title>")
	assert.Contains(t, page, `href="/site.css"`)
	assert.Contains(t, page, `href="/artifacts/block/hero/index.css"`)
	assert.Contains(t, page, `src="/artifacts/block/hero/index.js"`)
	assert.Equal(t, 1, strings.Count(page, `id="root"`), "existing mount point is reused")
}

func TestPreviewMissingConfiguredTemplate(t *testing.T) {
	f := newFixture(t)
	f.cfg.Server.PreviewTemplate = "missing.html"

	resp := f.do(t, http.MethodGet, "/preview/block/hero", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := readBody(t, resp)
	assert.Contains(t, page, `href="/preview/block/hero"`)
	assert.Contains(t, page, "failed: ")

	resp = f.do(t, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSecurityHeadersAndOrigin(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))

	req, err := http.NewRequest(http.MethodPut, f.ts.URL+"/api/resources/block/hero/preview-state", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	foreign, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer foreign.Body.Close()
	assert.Equal(t, http.StatusForbidden, foreign.StatusCode)
}

func TestPublishEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/publish", `{"resourceType":"block","resourceName":"hero","target":"public"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created map[string]interface{}
	decode(t, resp, &created)
	id := created["id"].(string)
	require.NotEmpty(t, id)

	f.tracker.Wait()

	resp = f.do(t, http.MethodGet, "/api/publish/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var task publish.Task
	decode(t, resp, &task)
	assert.Equal(t, publish.StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)

	resp = f.do(t, http.MethodGet, "/api/publish", "")
	var list struct {
		Count int `json:"count"`
	}
	decode(t, resp, &list)
	assert.Equal(t, 1, list.Count)

	resp = f.do(t, http.MethodGet, "/api/publish/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown resource", `{"resourceType":"block","resourceName":"footer","target":"public"}`, http.StatusNotFound},
		{"bad target", `{"resourceType":"block","resourceName":"hero","target":"everywhere"}`, http.StatusBadRequest},
		{"workspace without id", `{"resourceType":"block","resourceName":"hero","target":"workspace"}`, http.StatusBadRequest},
		{"malformed body", `{"resourceType":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/publish", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Empty(t, f.tracker.List())
}

func TestPublishStream(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.publisher.mu.Lock()
	f.publisher.block = release
	f.publisher.mu.Unlock()

	id, err := f.tracker.Create(context.Background(), publish.Request{ResourceType: "block", ResourceName: "hero", Target: "public"})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/publish/"+id+"/stream", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	close(release)

	var statuses []publish.Status
	var sawDone bool
	scanner := bufio.NewScanner(resp.Body)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "task":
			var task publish.Task
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &task))
			statuses = append(statuses, task.Status)
		case strings.HasPrefix(line, "data: ") && event == "done":
			sawDone = true
		}
	}

	require.NotEmpty(t, statuses)
	assert.Equal(t, publish.StatusCompleted, statuses[len(statuses)-1])
	assert.True(t, sawDone)
}

func TestPublishRateLimit(t *testing.T) {
	f := newFixture(t)

	var limited bool
	for i := 0; i < 20; i++ {
		resp := f.do(t, http.MethodPost, "/api/publish", `{"resourceType":"block","resourceName":"missing","target":"public"}`)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
			break
		}
	}
	assert.True(t, limited)
}

func TestWebSocketRouteRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestShutdownIsIdempotent(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))
	require.NoError(t, f.server.Shutdown(ctx))
	assert.True(t, f.notifier.IsShutdown())
}

func TestWriteForgeErrorStatus(t *testing.T) {
	s := &Server{logger: logging.NewNopLogger()}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", errors.ErrResourceNotFound("block/hero"), http.StatusNotFound, errors.CodeResourceNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", errors.ErrResourceNotFound("block/hero")), http.StatusNotFound, errors.CodeResourceNotFound},
		{"bad request", errors.ErrInvalidRequest("bad target"), http.StatusBadRequest, errors.CodeInvalidRequest},
		{"no catalog", errors.NewConfigError(errors.CodeInvalidConfig, "no endpoint"), http.StatusServiceUnavailable, errors.CodeInvalidConfig},
		{"plain", fmt.Errorf("disk full"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.writeForgeError(rec, httptest.NewRequest(http.MethodGet, "/api/resources", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}
