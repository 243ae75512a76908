// Package di wires the blockforge components together. Commands build a
// ServiceContainer from the resolved configuration and pull the services
// they need; everything is created lazily and at most once.
package di

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/conneroisu/blockforge/internal/build"
	"github.com/conneroisu/blockforge/internal/catalog"
	"github.com/conneroisu/blockforge/internal/config"
	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/publish"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/scanner"
	"github.com/conneroisu/blockforge/internal/server"
	"github.com/conneroisu/blockforge/internal/validation"
	"github.com/conneroisu/blockforge/internal/watcher"
	"github.com/conneroisu/blockforge/internal/websocket"
)

// Service names.
const (
	ServiceLogger      = "logger"
	ServiceScan        = "scan"
	ServiceRegistry    = "registry"
	ServiceArtifacts   = "artifacts"
	ServiceCompiler    = "compiler"
	ServiceBuild       = "builder"
	ServiceNotifier    = "notifier"
	ServiceCatalog     = "catalog"
	ServiceTracker     = "tracker"
	ServiceClassifier  = "classifier"
	ServiceCoordinator = "coordinator"
	ServiceWatcher     = "watcher"
	ServiceServer      = "server"
)

// ReleaseDir is the subdirectory of the output dir that receives
// production artifacts.
const ReleaseDir = "release"

// FactoryFunc creates a service instance. Dependencies are pulled from the
// resolver so that cycles are detected.
type FactoryFunc func(resolver DependencyResolver) (interface{}, error)

// DependencyResolver is what factories see of the container.
type DependencyResolver interface {
	Get(name string) (interface{}, error)
}

// ServiceDefinition describes one registered service.
type ServiceDefinition struct {
	Name         string
	Factory      FactoryFunc
	Singleton    bool
	Dependencies []string
	Tags         []string
}

// ServiceBuilder adjusts a definition after registration.
type ServiceBuilder struct {
	name      string
	container *ServiceContainer
}

// dependencyResolver carries the in-progress resolution chain.
type dependencyResolver struct {
	container *ServiceContainer
	resolving map[string]bool
}

func (dr *dependencyResolver) Get(name string) (interface{}, error) {
	return dr.container.getWithResolver(name, dr.resolving)
}

// ServiceContainer manages service construction for the application.
type ServiceContainer struct {
	mu         sync.Mutex
	services   map[string]ServiceDefinition
	singletons map[string]interface{}
	// created records singleton creation order; Shutdown walks it backwards.
	created     []string
	config      *config.Config
	initialized bool
}

// NewServiceContainer creates a container bound to cfg. logger is
// registered as an instance; nil gets a no-op logger.
func NewServiceContainer(cfg *config.Config, logger logging.Logger) *ServiceContainer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &ServiceContainer{
		services:   make(map[string]ServiceDefinition),
		singletons: make(map[string]interface{}),
		config:     cfg,
	}
	c.RegisterInstance(ServiceLogger, logger)
	return c
}

// Register registers a transient service: every Get creates a new instance.
func (c *ServiceContainer) Register(name string, factory FactoryFunc) *ServiceBuilder {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services[name] = ServiceDefinition{Name: name, Factory: factory}
	delete(c.singletons, name)
	return &ServiceBuilder{name: name, container: c}
}

// RegisterSingleton registers a service created once on first use.
func (c *ServiceContainer) RegisterSingleton(name string, factory FactoryFunc) *ServiceBuilder {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services[name] = ServiceDefinition{Name: name, Factory: factory, Singleton: true}
	delete(c.singletons, name)
	return &ServiceBuilder{name: name, container: c}
}

// RegisterInstance registers an existing value as a singleton.
func (c *ServiceContainer) RegisterInstance(name string, instance interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services[name] = ServiceDefinition{Name: name, Singleton: true}
	c.singletons[name] = instance
}

// Get retrieves a service, creating it if needed.
func (c *ServiceContainer) Get(name string) (interface{}, error) {
	return c.getWithResolver(name, make(map[string]bool))
}

// getWithResolver resolves name while tracking the chain for cycles.
// Factories run under the container lock, so resolution is serialized.
func (c *ServiceContainer) getWithResolver(name string, resolving map[string]bool) (interface{}, error) {
	if resolving[name] {
		return nil, fmt.Errorf("circular dependency detected for service '%s'", name)
	}

	if len(resolving) == 0 {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	definition, exists := c.services[name]
	if !exists {
		return nil, fmt.Errorf("service '%s' not registered", name)
	}

	if definition.Singleton {
		if instance, ok := c.singletons[name]; ok {
			return instance, nil
		}
	}

	if definition.Factory == nil {
		return nil, fmt.Errorf("service '%s' has no factory", name)
	}

	resolving[name] = true
	instance, err := definition.Factory(&dependencyResolver{container: c, resolving: resolving})
	delete(resolving, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create service '%s': %w", name, err)
	}

	if definition.Singleton {
		c.singletons[name] = instance
		c.created = append(c.created, name)
	}
	return instance, nil
}

// MustGet retrieves a service and panics if it cannot be created.
func (c *ServiceContainer) MustGet(name string) interface{} {
	instance, err := c.Get(name)
	if err != nil {
		panic(fmt.Sprintf("failed to get service '%s': %v", name, err))
	}
	return instance
}

// Has reports whether name is registered.
func (c *ServiceContainer) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.services[name]
	return exists
}

// ListServices returns the registered service names, sorted.
func (c *ServiceContainer) ListServices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetServiceDefinition returns the definition registered under name.
func (c *ServiceContainer) GetServiceDefinition(name string) (ServiceDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	definition, exists := c.services[name]
	return definition, exists
}

// DependsOn records the services this one pulls during creation.
func (sb *ServiceBuilder) DependsOn(dependencies ...string) *ServiceBuilder {
	sb.update(func(d *ServiceDefinition) {
		d.Dependencies = append(d.Dependencies, dependencies...)
	})
	return sb
}

// WithTag adds tags to the service.
func (sb *ServiceBuilder) WithTag(tags ...string) *ServiceBuilder {
	sb.update(func(d *ServiceDefinition) {
		d.Tags = append(d.Tags, tags...)
	})
	return sb
}

func (sb *ServiceBuilder) update(fn func(d *ServiceDefinition)) {
	sb.container.mu.Lock()
	defer sb.container.mu.Unlock()
	definition := sb.container.services[sb.name]
	fn(&definition)
	sb.container.services[sb.name] = definition
}

// Initialize registers the blockforge services. It is idempotent.
func (c *ServiceContainer) Initialize() error {
	c.mu.Lock()
	done := c.initialized
	c.initialized = true
	c.mu.Unlock()
	if done {
		return nil
	}
	if c.config == nil {
		return errors.NewConfigError(errors.CodeInvalidConfig, "container has no configuration")
	}

	c.registerCoreServices()
	return nil
}

func (c *ServiceContainer) registerCoreServices() {
	cfg := c.config

	c.RegisterSingleton(ServiceScan, func(r DependencyResolver) (interface{}, error) {
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		return scanner.New(logger).Scan(context.Background(), ScanRoots(cfg), scanner.Options{
			Strict:          cfg.Resources.Strict,
			ExcludePatterns: cfg.Resources.ExcludePatterns,
		})
	}).DependsOn(ServiceLogger).WithTag("core")

	c.RegisterSingleton(ServiceRegistry, func(r DependencyResolver) (interface{}, error) {
		result, err := r.Get(ServiceScan)
		if err != nil {
			return nil, err
		}
		return result.(*scanner.Result).Registry()
	}).DependsOn(ServiceScan).WithTag("core")

	c.RegisterSingleton(ServiceArtifacts, func(r DependencyResolver) (interface{}, error) {
		return build.NewArtifactStore(), nil
	}).WithTag("build")

	c.RegisterSingleton(ServiceCompiler, func(r DependencyResolver) (interface{}, error) {
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		return build.NewCompiler(CompilerConfig(cfg), logger), nil
	}).DependsOn(ServiceLogger).WithTag("build")

	c.RegisterSingleton(ServiceBuild, func(r DependencyResolver) (interface{}, error) {
		compiler, err := r.Get(ServiceCompiler)
		if err != nil {
			return nil, err
		}
		store, err := r.Get(ServiceArtifacts)
		if err != nil {
			return nil, err
		}
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		return build.NewBuilder(
			compiler.(*build.Compiler),
			store.(*build.ArtifactStore),
			build.OutputTarget{Dir: cfg.OutputPath()},
			build.Options{SourceMaps: cfg.Build.SourceMaps, Minify: cfg.Build.Minify, Layout: build.LayoutDev},
			logger,
		), nil
	}).DependsOn(ServiceCompiler, ServiceArtifacts, ServiceLogger).WithTag("build")

	c.RegisterSingleton(ServiceNotifier, func(r DependencyResolver) (interface{}, error) {
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		return websocket.NewNotifier(websocket.NewMemorySessionSet(), logger), nil
	}).DependsOn(ServiceLogger).WithTag("serve")

	// The catalog client is optional: without an endpoint the service
	// resolves to nil and publish requests are rejected.
	c.RegisterSingleton(ServiceCatalog, func(r DependencyResolver) (interface{}, error) {
		if cfg.Publish.Endpoint == "" {
			return nil, nil
		}
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		return catalog.NewClient(cfg.Publish.Endpoint, cfg.Publish.Token, catalog.WithLogger(logger))
	}).DependsOn(ServiceLogger).WithTag("publish")

	c.RegisterSingleton(ServiceTracker, func(r DependencyResolver) (interface{}, error) {
		reg, err := r.Get(ServiceRegistry)
		if err != nil {
			return nil, err
		}
		compiler, err := r.Get(ServiceCompiler)
		if err != nil {
			return nil, err
		}
		client, err := r.Get(ServiceCatalog)
		if err != nil {
			return nil, err
		}
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		var publisher publish.Publisher
		if client != nil {
			publisher = client.(*catalog.Client)
		}
		return publish.NewTracker(reg.(*registry.Registry), compiler.(*build.Compiler), publisher, nil, publish.Config{
			Timeout:   cfg.Publish.Timeout,
			MaxTasks:  cfg.Publish.MaxTasks,
			Retention: cfg.Publish.Retention,
			OutputDir: filepath.Join(cfg.OutputPath(), ReleaseDir),
		}, logger), nil
	}).DependsOn(ServiceRegistry, ServiceCompiler, ServiceCatalog, ServiceLogger).WithTag("publish")

	c.RegisterSingleton(ServiceClassifier, func(r DependencyResolver) (interface{}, error) {
		reg, err := r.Get(ServiceRegistry)
		if err != nil {
			return nil, err
		}
		return watcher.NewClassifier(reg.(*registry.Registry), cfg.StylesPath(), cfg.Resources.ExcludePatterns)
	}).DependsOn(ServiceRegistry).WithTag("watch")

	c.RegisterSingleton(ServiceCoordinator, func(r DependencyResolver) (interface{}, error) {
		reg, err := r.Get(ServiceRegistry)
		if err != nil {
			return nil, err
		}
		classifier, err := r.Get(ServiceClassifier)
		if err != nil {
			return nil, err
		}
		builder, err := r.Get(ServiceBuild)
		if err != nil {
			return nil, err
		}
		notifier, err := r.Get(ServiceNotifier)
		if err != nil {
			return nil, err
		}
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		return watcher.NewCoordinator(
			reg.(*registry.Registry),
			classifier.(*watcher.Classifier),
			builder.(*build.Builder),
			notifier.(*websocket.Notifier),
			cfg.Watch.Debounce,
			logger,
		), nil
	}).DependsOn(ServiceRegistry, ServiceClassifier, ServiceBuild, ServiceNotifier, ServiceLogger).WithTag("watch")

	c.RegisterSingleton(ServiceWatcher, func(r DependencyResolver) (interface{}, error) {
		coordinator, err := r.Get(ServiceCoordinator)
		if err != nil {
			return nil, err
		}
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		fw, err := watcher.NewFileWatcher(logger)
		if err != nil {
			return nil, errors.WrapIO(err, "WATCHER", "cannot create file watcher")
		}
		if len(cfg.Resources.ExcludePatterns) > 0 {
			filter, err := watcher.ExcludeFilter(cfg.Resources.ExcludePatterns)
			if err != nil {
				_ = fw.Stop()
				return nil, errors.WrapConfig(err, errors.CodeInvalidConfig, "invalid exclude pattern")
			}
			fw.AddFilter(filter)
		}
		for _, root := range WatchRoots(cfg) {
			if err := fw.AddRecursive(root); err != nil {
				_ = fw.Stop()
				return nil, errors.WrapIO(err, "WATCHER", fmt.Sprintf("cannot watch %s", root))
			}
		}
		coordinator.(*watcher.Coordinator).Attach(fw)
		return fw, nil
	}).DependsOn(ServiceCoordinator, ServiceLogger).WithTag("watch")

	c.RegisterSingleton(ServiceServer, func(r DependencyResolver) (interface{}, error) {
		reg, err := r.Get(ServiceRegistry)
		if err != nil {
			return nil, err
		}
		store, err := r.Get(ServiceArtifacts)
		if err != nil {
			return nil, err
		}
		notifier, err := r.Get(ServiceNotifier)
		if err != nil {
			return nil, err
		}
		tracker, err := r.Get(ServiceTracker)
		if err != nil {
			return nil, err
		}
		logger, err := resolveLogger(r)
		if err != nil {
			return nil, err
		}
		return server.New(cfg, server.Deps{
			Registry:  reg.(*registry.Registry),
			Artifacts: store.(*build.ArtifactStore),
			Notifier:  notifier.(*websocket.Notifier),
			Tracker:   tracker.(*publish.Tracker),
			Logger:    logger,
		}), nil
	}).DependsOn(ServiceRegistry, ServiceArtifacts, ServiceNotifier, ServiceTracker, ServiceLogger).WithTag("serve")
}

func resolveLogger(r DependencyResolver) (logging.Logger, error) {
	logger, err := r.Get(ServiceLogger)
	if err != nil {
		return nil, err
	}
	return logger.(logging.Logger), nil
}

// ScanRoots returns the resource roots the configuration declares.
func ScanRoots(cfg *config.Config) []scanner.Root {
	return []scanner.Root{
		{Dir: cfg.BlocksPath(), Type: validation.ResourceTypeBlock},
		{Dir: cfg.TemplatesPath(), Type: validation.ResourceTypeTemplate},
	}
}

// WatchRoots returns every directory the dev server watches.
func WatchRoots(cfg *config.Config) []string {
	return []string{cfg.BlocksPath(), cfg.TemplatesPath(), cfg.StylesPath()}
}

// CompilerConfig maps the build settings onto the compiler.
func CompilerConfig(cfg *config.Config) build.CompilerConfig {
	return build.CompilerConfig{
		ProjectRoot:    cfg.Resources.ProjectRoot,
		StyleRoots:     []string{cfg.StylesPath()},
		External:       cfg.Build.External,
		CSSConfigFiles: cfg.Build.CSSConfigFiles,
		CSSCommand:     cfg.Build.CSSCommand,
		CSSArgs:        cfg.Build.CSSArgs,
	}
}

// Shutdown stops every created service in reverse creation order. Services
// exposing Shutdown(ctx), Stop or Close are stopped; others are dropped.
func (c *ServiceContainer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for i := len(c.created) - 1; i >= 0; i-- {
		name := c.created[i]
		if err := stopService(ctx, c.singletons[name]); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown %s: %w", name, err))
		}
		delete(c.singletons, name)
	}
	c.created = nil

	return errors.CombineErrors(errs...)
}

func stopService(ctx context.Context, instance interface{}) error {
	switch s := instance.(type) {
	case interface{ Shutdown(context.Context) error }:
		return s.Shutdown(ctx)
	case interface{ Stop() error }:
		return s.Stop()
	case interface{ Close() }:
		s.Close()
	}
	return nil
}

// Typed accessors.

// Logger returns the container's logger.
func (c *ServiceContainer) Logger() logging.Logger {
	return c.MustGet(ServiceLogger).(logging.Logger)
}

// ScanResult returns the startup scan.
func (c *ServiceContainer) ScanResult() (*scanner.Result, error) {
	return get[*scanner.Result](c, ServiceScan)
}

// GetRegistry returns the resource registry built from the scan.
func (c *ServiceContainer) GetRegistry() (*registry.Registry, error) {
	return get[*registry.Registry](c, ServiceRegistry)
}

// GetArtifacts returns the artifact store.
func (c *ServiceContainer) GetArtifacts() (*build.ArtifactStore, error) {
	return get[*build.ArtifactStore](c, ServiceArtifacts)
}

// GetCompiler returns the resource compiler.
func (c *ServiceContainer) GetCompiler() (*build.Compiler, error) {
	return get[*build.Compiler](c, ServiceCompiler)
}

// GetBuilder returns the dev builder.
func (c *ServiceContainer) GetBuilder() (*build.Builder, error) {
	return get[*build.Builder](c, ServiceBuild)
}

// GetTracker returns the publish tracker.
func (c *ServiceContainer) GetTracker() (*publish.Tracker, error) {
	return get[*publish.Tracker](c, ServiceTracker)
}

// GetFileWatcher returns the file watcher, already attached to the
// coordinator and watching every root.
func (c *ServiceContainer) GetFileWatcher() (*watcher.FileWatcher, error) {
	return get[*watcher.FileWatcher](c, ServiceWatcher)
}

// GetServer returns the preview server.
func (c *ServiceContainer) GetServer() (*server.Server, error) {
	return get[*server.Server](c, ServiceServer)
}

func get[T any](c *ServiceContainer, name string) (T, error) {
	var zero T
	instance, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("service '%s' has type %T, want %T", name, instance, zero)
	}
	return typed, nil
}
