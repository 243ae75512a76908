package di

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/testutils"
)

type namedService struct {
	name string
}

type stoppable struct {
	name  string
	order *[]string
	err   error
}

func (s *stoppable) Shutdown(ctx context.Context) error {
	*s.order = append(*s.order, s.name)
	return s.err
}

func TestServiceContainer_Registration(t *testing.T) {
	container := NewServiceContainer(nil, nil)

	container.Register("transient", func(r DependencyResolver) (interface{}, error) {
		return &namedService{name: "transient"}, nil
	})
	container.RegisterSingleton("singleton", func(r DependencyResolver) (interface{}, error) {
		return &namedService{name: "singleton"}, nil
	})

	a, err := container.Get("transient")
	require.NoError(t, err)
	b, err := container.Get("transient")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	s1, err := container.Get("singleton")
	require.NoError(t, err)
	s2, err := container.Get("singleton")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	assert.True(t, container.Has("singleton"))
	assert.True(t, container.Has(ServiceLogger))
	assert.False(t, container.Has("missing"))
	assert.Equal(t, []string{ServiceLogger, "singleton", "transient"}, container.ListServices())

	_, err = container.Get("missing")
	assert.ErrorContains(t, err, "not registered")
	assert.Panics(t, func() { container.MustGet("missing") })
}

func TestServiceContainer_DependencyInjection(t *testing.T) {
	container := NewServiceContainer(nil, nil)

	container.RegisterSingleton("base", func(r DependencyResolver) (interface{}, error) {
		return &namedService{name: "base"}, nil
	})
	container.RegisterSingleton("dependent", func(r DependencyResolver) (interface{}, error) {
		base, err := r.Get("base")
		if err != nil {
			return nil, err
		}
		return &namedService{name: "on-" + base.(*namedService).name}, nil
	}).DependsOn("base").WithTag("core")

	svc, err := container.Get("dependent")
	require.NoError(t, err)
	assert.Equal(t, "on-base", svc.(*namedService).name)

	def, ok := container.GetServiceDefinition("dependent")
	require.True(t, ok)
	assert.Equal(t, []string{"base"}, def.Dependencies)
	assert.Equal(t, []string{"core"}, def.Tags)
	assert.True(t, def.Singleton)
}

func TestServiceContainer_CircularDependency(t *testing.T) {
	container := NewServiceContainer(nil, nil)

	container.RegisterSingleton("a", func(r DependencyResolver) (interface{}, error) {
		return r.Get("b")
	})
	container.RegisterSingleton("b", func(r DependencyResolver) (interface{}, error) {
		return r.Get("a")
	})

	_, err := container.Get("a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")

	_, err = container.Get("b")
	assert.Error(t, err)
}

func TestServiceContainer_FactoryError(t *testing.T) {
	container := NewServiceContainer(nil, nil)
	calls := 0
	container.RegisterSingleton("flaky", func(r DependencyResolver) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("not yet")
		}
		return &namedService{name: "flaky"}, nil
	})

	_, err := container.Get("flaky")
	assert.ErrorContains(t, err, "failed to create service 'flaky': not yet")

	svc, err := container.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, "flaky", svc.(*namedService).name)
}

func TestServiceContainer_ConcurrentSingletonCreation(t *testing.T) {
	container := NewServiceContainer(nil, nil)

	var created int32
	container.RegisterSingleton("shared", func(r DependencyResolver) (interface{}, error) {
		atomic.AddInt32(&created, 1)
		return &namedService{name: "shared"}, nil
	})

	var wg sync.WaitGroup
	results := make([]interface{}, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = container.MustGet("shared")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestServiceContainer_ShutdownReverseOrder(t *testing.T) {
	container := NewServiceContainer(nil, nil)
	var order []string

	container.RegisterSingleton("first", func(r DependencyResolver) (interface{}, error) {
		return &stoppable{name: "first", order: &order}, nil
	})
	container.RegisterSingleton("second", func(r DependencyResolver) (interface{}, error) {
		if _, err := r.Get("first"); err != nil {
			return nil, err
		}
		return &stoppable{name: "second", order: &order, err: fmt.Errorf("stuck")}, nil
	})

	_, err := container.Get("second")
	require.NoError(t, err)

	err = container.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to shutdown second: stuck")
	assert.Equal(t, []string{"second", "first"}, order)

	// Nothing left to stop.
	order = nil
	require.NoError(t, container.Shutdown(context.Background()))
	assert.Empty(t, order)
}

func TestServiceContainer_InitializeRequiresConfig(t *testing.T) {
	container := NewServiceContainer(nil, nil)
	assert.Error(t, container.Initialize())
}

func TestServiceContainer_CoreServices(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	testutils.WriteHero(t, dir)
	cfg := testutils.CreateTestConfig(dir)

	container := NewServiceContainer(cfg, nil)
	require.NoError(t, container.Initialize())
	require.NoError(t, container.Initialize())
	t.Cleanup(func() { _ = container.Shutdown(context.Background()) })

	reg, err := container.GetRegistry()
	require.NoError(t, err)
	assert.True(t, reg.Has(registry.Key{Type: "block", Name: "hero"}))

	result, err := container.ScanResult()
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	srv, err := container.GetServer()
	require.NoError(t, err)
	assert.NotNil(t, srv.Handler())

	tracker, err := container.GetTracker()
	require.NoError(t, err)
	assert.Empty(t, tracker.List())

	// No endpoint configured: the catalog resolves to nil.
	client, err := container.Get(ServiceCatalog)
	require.NoError(t, err)
	assert.Nil(t, client)

	fw, err := container.GetFileWatcher()
	require.NoError(t, err)
	assert.NotEmpty(t, fw.WatchList())

	builder, err := container.GetBuilder()
	require.NoError(t, err)
	artifacts, err := container.GetArtifacts()
	require.NoError(t, err)
	assert.Same(t, artifacts, builder.Store())

	require.NoError(t, container.Shutdown(context.Background()))
}

func TestCompilerConfig(t *testing.T) {
	cfg := testutils.CreateTestConfig("/work/site")
	cfg.Build.CSSCommand = "tailwindcss"

	cc := CompilerConfig(cfg)
	assert.Equal(t, "/work/site", cc.ProjectRoot)
	assert.Equal(t, []string{cfg.StylesPath()}, cc.StyleRoots)
	assert.Equal(t, "tailwindcss", cc.CSSCommand)

	roots := ScanRoots(cfg)
	require.Len(t, roots, 2)
	assert.Equal(t, "block", roots[0].Type)
	assert.Equal(t, "template", roots[1].Type)
	assert.Len(t, WatchRoots(cfg), 3)
}
