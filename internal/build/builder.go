package build

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/registry"
)

// Builder ties a Compiler to an ArtifactStore for one output target. It is
// what the watcher, the server and the CLI call to (re)build resources.
type Builder struct {
	compiler *Compiler
	store    *ArtifactStore
	target   OutputTarget
	opts     Options
	logger   logging.Logger
	workers  int
}

// NewBuilder creates a builder. A nil store gets a fresh one.
func NewBuilder(compiler *Compiler, store *ArtifactStore, target OutputTarget, opts Options, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if store == nil {
		store = NewArtifactStore()
	}
	return &Builder{
		compiler: compiler,
		store:    store,
		target:   target,
		opts:     opts,
		logger:   logger.WithComponent("builder"),
		workers:  MaxParallel(),
	}
}

// MaxParallel is how many resources are compiled at once.
func MaxParallel() int {
	return min(runtime.NumCPU(), 8)
}

// Store returns the builder's artifact store.
func (b *Builder) Store() *ArtifactStore {
	return b.store
}

// Target returns the output target.
func (b *Builder) Target() OutputTarget {
	return b.target
}

// Rebuild compiles res under its per-resource lock. A failed build leaves
// the last good artifact in place.
func (b *Builder) Rebuild(ctx context.Context, res *registry.Resource) *Artifact {
	artifact := b.store.Build(ctx, res.Key(), func(ctx context.Context) *Artifact {
		return b.compiler.Compile(ctx, res, b.target, b.opts)
	})

	if !artifact.OK() {
		b.logger.Warn(ctx, artifact.Err(), "Build failed",
			"resource", res.Key().String(),
			"code", artifact.Code)
	} else {
		b.logger.Info(ctx, "Built resource",
			"resource", res.Key().String(),
			"duration_ms", artifact.Duration.Milliseconds())
	}
	return artifact
}

// BuildAll compiles every resource with bounded parallelism. The returned
// artifacts are in the same order as resources.
func (b *Builder) BuildAll(ctx context.Context, resources []*registry.Resource) []*Artifact {
	perf := logging.StartOperation(b.logger, "build_all")
	defer perf.End(ctx)

	artifacts := make([]*Artifact, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, res := range resources {
		g.Go(func() error {
			artifacts[i] = b.Rebuild(gctx, res)
			return nil
		})
	}
	_ = g.Wait()

	return artifacts
}
