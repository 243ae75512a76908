package watcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/blockforge/internal/build"
	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/scanner"
	"github.com/conneroisu/blockforge/internal/websocket"
)

// Rebuilder compiles one resource. *build.Builder implements it.
type Rebuilder interface {
	Rebuild(ctx context.Context, res *registry.Resource) *build.Artifact
}

// Broadcaster delivers reload events. *websocket.Notifier implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, event websocket.Event) int
}

// Coordinator routes classified changes through one debouncer per watched
// root and, for each coalesced burst, reloads configs, rebuilds the affected
// resources and notifies preview sessions.
type Coordinator struct {
	registry   *registry.Registry
	classifier *Classifier
	builder    Rebuilder
	notifier   Broadcaster
	delay      time.Duration
	workers    int
	logger     logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	debouncers map[string]*rootDebouncer
	closed     bool
}

// NewCoordinator creates a coordinator. delay is the per-root quiet period.
func NewCoordinator(
	reg *registry.Registry,
	classifier *Classifier,
	builder Rebuilder,
	notifier Broadcaster,
	delay time.Duration,
	logger logging.Logger,
) *Coordinator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		registry:   reg,
		classifier: classifier,
		builder:    builder,
		notifier:   notifier,
		delay:      delay,
		workers:    build.MaxParallel(),
		logger:     logger.WithComponent("coordinator"),
		ctx:        ctx,
		cancel:     cancel,
		debouncers: make(map[string]*rootDebouncer),
	}
}

// Attach forwards the file watcher's events to the coordinator.
func (c *Coordinator) Attach(fw *FileWatcher) {
	fw.AddHandler(func(event ChangeEvent) {
		c.HandleEvent(event.Path, event.Type)
	})
}

// HandleEvent classifies one filesystem event and schedules its work. Only
// add and change events trigger anything.
func (c *Coordinator) HandleEvent(path string, kind EventType) {
	if kind != EventTypeCreated && kind != EventTypeModified {
		return
	}

	action := c.classifier.Classify(path)
	if action.Kind == ActionIgnore {
		return
	}

	c.logger.Debug(c.ctx, "Change detected",
		"path", path,
		"event", kind.String(),
		"action", action.Kind.String(),
		"resource", action.Resource.String())

	d := c.debouncer(action.Root)
	if d == nil {
		return
	}
	d.add(action)
}

func (c *Coordinator) debouncer(root string) *rootDebouncer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	d, ok := c.debouncers[root]
	if !ok {
		d = newRootDebouncer(root, c.delay, c.process)
		c.debouncers[root] = d
	}
	return d
}

func (c *Coordinator) snapshot() []*rootDebouncer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*rootDebouncer, 0, len(c.debouncers))
	for _, d := range c.debouncers {
		out = append(out, d)
	}
	return out
}

// Flush runs all pending work now and waits until every root is idle.
func (c *Coordinator) Flush() {
	for _, d := range c.snapshot() {
		d.drain()
	}
}

// Idle reports whether no root is debouncing or rebuilding.
func (c *Coordinator) Idle() bool {
	for _, d := range c.snapshot() {
		if d.currentState() != stateIdle {
			return false
		}
	}
	return true
}

// Close stops all timers and cancels in-flight rebuild contexts.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	debouncers := c.debouncers
	c.mu.Unlock()

	for _, d := range debouncers {
		d.close()
	}
	c.cancel()
}

// process handles one coalesced burst: config reloads first, then the
// rebuilds, then the notifications.
func (c *Coordinator) process(b *batch) {
	ctx := c.ctx
	perf := logging.StartOperation(c.logger, "rebuild")
	defer perf.End(ctx)

	changed := make(map[registry.Key]bool, len(b.configs))
	for key := range b.configs {
		changed[key] = c.reloadConfig(ctx, key)
	}

	if b.global {
		artifacts := c.rebuild(ctx, c.registry.Keys())
		ok := true
		for _, a := range artifacts {
			ok = ok && a.OK()
		}
		anyConfig := false
		for _, v := range changed {
			anyConfig = anyConfig || v
		}
		c.notifier.Broadcast(ctx, websocket.Event{
			Type:          websocket.EventReload,
			Resource:      websocket.AllResources,
			ConfigChanged: anyConfig,
			Success:       ok,
		})
		return
	}

	keys := b.keys()
	artifacts := c.rebuild(ctx, keys)
	for i, key := range keys {
		event := websocket.Event{
			Type:          websocket.EventReload,
			Resource:      key.Name,
			ResourceType:  key.Type,
			ConfigChanged: changed[key],
		}
		if a := artifacts[i]; a != nil {
			event.Success = a.OK()
			event.Error = a.Reason
		} else {
			event.Error = "resource is no longer registered"
		}
		c.notifier.Broadcast(ctx, event)
	}
}

// rebuild compiles keys in parallel, at most c.workers at a time. Missing
// resources yield nil entries.
func (c *Coordinator) rebuild(ctx context.Context, keys []registry.Key) []*build.Artifact {
	artifacts := make([]*build.Artifact, len(keys))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, key := range keys {
		res, ok := c.registry.Get(key)
		if !ok {
			continue
		}
		g.Go(func() error {
			artifacts[i] = c.builder.Rebuild(ctx, res)
			return nil
		})
	}
	_ = g.Wait()

	return artifacts
}

// reloadConfig refreshes schema and metadata of key from disk. An invalid
// config keeps the previous schema; the manifest is refreshed either way.
// It reports whether the config was reloaded.
func (c *Coordinator) reloadConfig(ctx context.Context, key registry.Key) bool {
	res, ok := c.registry.Get(key)
	if !ok {
		return false
	}

	cfg, issues, err := scanner.LoadConfig(res.RootPath)
	valid := err == nil && len(issues) == 0
	if err != nil {
		c.logger.Warn(ctx, err, "Config reload failed; keeping previous schema", "resource", key.String())
	}
	for _, issue := range issues {
		c.logger.Warn(ctx, nil, "Invalid schema; keeping previous schema",
			"resource", key.String(), "issue", issue.String())
	}

	manifest, mErr := scanner.LoadManifest(res.RootPath)
	if mErr != nil {
		c.logger.Warn(ctx, mErr, "Manifest problem", "resource", key.String())
	}

	updated, err := c.registry.Update(key, func(r *registry.Resource) error {
		r.Package = manifest
		if !valid {
			return nil
		}
		r.DisplayName = cfg.DisplayName
		if r.DisplayName == "" {
			r.DisplayName = scanner.DisplayName(r.Name)
		}
		r.Description = cfg.Description
		r.Category = cfg.Category
		r.Tags = cfg.Tags
		r.Entry = cfg.Entry
		r.ConfigFile = cfg.File
		r.Schema = cfg.Schema
		return nil
	})
	if err != nil {
		c.logger.Error(ctx, err, "Registry update failed", "resource", key.String())
		return false
	}

	if !valid {
		return false
	}

	if _, err := build.GenerateTypes(updated); err != nil {
		c.logger.Warn(ctx, err, "Type generation failed", "resource", key.String())
	}
	c.logger.Info(ctx, "Config reloaded", "resource", key.String(), "fields", len(updated.Schema))
	return true
}
