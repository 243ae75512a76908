// Package build compiles blocks and templates into browser-ready artifacts.
//
// The Compiler resolves a resource's entry module, bundles it through a
// Bundler (esbuild by default), routes its stylesheet through an external
// CSS compiler when the project declares one, and writes the outputs under a
// development or production layout. Compile never panics or returns an
// error: every failure is reported as a failed Artifact.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/registry"
)

// Layout selects the output path shape.
type Layout string

const (
	// LayoutDev writes to <out>/<type>s/<name>/.
	LayoutDev Layout = "dev"
	// LayoutProduction writes to <out>/<name>/<version>/.
	LayoutProduction Layout = "production"
)

// Output file names inside an artifact directory.
const (
	ScriptFile    = "index.js"
	SourceMapFile = "index.js.map"
	StyleFile     = "index.css"
)

// EntryCandidates are tried in order when a resource declares no entry.
var EntryCandidates = []string{
	"src/index.tsx", "src/index.ts", "src/index.jsx", "src/index.js",
	"index.tsx", "index.ts", "index.jsx", "index.js",
}

// StyleCandidates are the stylesheet sources tried in order.
var StyleCandidates = []string{"src/styles.css", "src/index.css", "styles.css"}

// OutputTarget is the root directory that receives artifacts.
type OutputTarget struct {
	Dir string
}

// Options control one compilation.
type Options struct {
	Minify     bool
	SourceMaps bool
	Layout     Layout
}

// CompilerConfig wires the compiler's collaborators.
type CompilerConfig struct {
	ProjectRoot string
	StyleRoots  []string
	External    []string
	// CSSConfigFiles are the file names that declare a CSS compiler.
	CSSConfigFiles []string
	// CSSCommand overrides the command implied by a detected config file.
	CSSCommand string
	CSSArgs    []string
	Bundler    Bundler
	// CSS overrides the external CSS compiler; used by tests.
	CSS CSSCompiler
}

// Compiler builds one resource at a time and is safe for concurrent use.
type Compiler struct {
	cfg     CompilerConfig
	bundler Bundler
	logger  logging.Logger
}

// NewCompiler creates a compiler. A nil bundler selects esbuild.
func NewCompiler(cfg CompilerConfig, logger logging.Logger) *Compiler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	bundler := cfg.Bundler
	if bundler == nil {
		bundler = NewEsbuildBundler()
	}
	return &Compiler{
		cfg:     cfg,
		bundler: bundler,
		logger:  logger.WithComponent("compiler"),
	}
}

// OutputDir returns the artifact directory of res under target and layout.
func OutputDir(target OutputTarget, res *registry.Resource, layout Layout) string {
	if layout == LayoutProduction {
		return filepath.Join(target.Dir, res.Name, res.Package.Version)
	}
	return filepath.Join(target.Dir, res.Type+"s", res.Name)
}

// ResolveEntry returns the absolute entry module path of res.
func ResolveEntry(res *registry.Resource) (string, bool) {
	candidates := EntryCandidates
	if res.Entry != "" {
		candidates = []string{res.Entry}
	}
	for _, rel := range candidates {
		path := filepath.Join(res.RootPath, filepath.FromSlash(rel))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func findStylesheet(res *registry.Resource) (string, bool) {
	for _, rel := range StyleCandidates {
		path := filepath.Join(res.RootPath, filepath.FromSlash(rel))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Compile builds res and writes its outputs. The returned artifact is
// either ok with all payloads set or failed with a code and reason.
func (c *Compiler) Compile(ctx context.Context, res *registry.Resource, target OutputTarget, opts Options) (artifact *Artifact) {
	start := time.Now()
	key := res.Key()
	if opts.Layout == "" {
		opts.Layout = LayoutDev
	}

	artifact = &Artifact{
		Resource: key,
		Version:  res.Package.Version,
		Layout:   opts.Layout,
	}

	defer func() {
		if r := recover(); r != nil {
			artifact.fail(errors.CodeCompileError, fmt.Sprintf("compiler panic: %v", r), nil)
		}
		artifact.BuiltAt = time.Now()
		artifact.Duration = time.Since(start)
	}()

	entry, ok := ResolveEntry(res)
	if !ok {
		reason := "no entry module found"
		if res.Entry != "" {
			reason = fmt.Sprintf("entry %s does not exist", res.Entry)
		}
		artifact.fail(errors.CodeEntryMissing, reason, nil)
		c.logger.Warn(ctx, artifact.Err(), "Entry missing", "resource", key.String())
		return artifact
	}

	bundle, err := c.bundler.Bundle(ctx, BundleRequest{
		EntryPoint: entry,
		ResolveDir: res.RootPath,
		Minify:     opts.Minify,
		SourceMap:  opts.SourceMaps,
		External:   c.cfg.External,
	})
	if err != nil {
		artifact.fail(errors.CodeCompileError, "bundler failed: "+err.Error(), nil)
		return artifact
	}
	if bundle.Failed() {
		artifact.fail(errors.CodeCompileError, bundle.Diagnostics[0].Text, bundle.Diagnostics)
		return artifact
	}
	artifact.Diagnostics = bundle.Diagnostics
	artifact.Script = bundle.Code
	artifact.SourceMap = bundle.SourceMap

	if stylePath, ok := findStylesheet(res); ok {
		css, err := c.compileStylesheet(ctx, stylePath)
		if err != nil {
			artifact.fail(errors.CodeCompileError, "stylesheet: "+err.Error(), []Diagnostic{{
				Severity: SeverityError,
				Text:     err.Error(),
				File:     stylePath,
			}})
			return artifact
		}
		artifact.Stylesheet = css
		artifact.HasStylesheet = true
	}

	dir := OutputDir(target, res, opts.Layout)
	if err := artifact.write(dir); err != nil {
		artifact.fail(errors.CodeCompileError, "writing outputs: "+err.Error(), nil)
		return artifact
	}

	artifact.Status = StatusOK
	c.logger.Debug(ctx, "Compiled resource",
		"resource", key.String(),
		"layout", string(opts.Layout),
		"bytes", len(artifact.Script),
		"duration_ms", time.Since(start).Milliseconds())

	return artifact
}

// CSSConfig returns the declared CSS compiler config path, or "" if none.
func (c *Compiler) CSSConfig() string {
	return DetectCSSConfig(c.cfg.ProjectRoot, c.cfg.CSSConfigFiles)
}

// compileStylesheet routes the stylesheet through the CSS compiler when the
// project declares one and copies it byte for byte otherwise.
func (c *Compiler) compileStylesheet(ctx context.Context, path string) ([]byte, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	css, err := c.cssCompiler()
	if err != nil {
		return nil, err
	}
	if css == nil {
		return source, nil
	}

	return css.Transform(ctx, source, c.cfg.StyleRoots)
}

func (c *Compiler) cssCompiler() (CSSCompiler, error) {
	configPath := c.CSSConfig()
	if c.cfg.CSSCommand == "" && configPath == "" {
		return nil, nil
	}
	if c.cfg.CSS != nil {
		return c.cfg.CSS, nil
	}

	command, args := c.cfg.CSSCommand, c.cfg.CSSArgs
	if command == "" {
		command, args = DefaultCSSCommand(configPath)
		if command == "" {
			return nil, fmt.Errorf("no css compiler known for %s", filepath.Base(configPath))
		}
	}

	return NewExecCSSCompiler(command, args, c.cfg.ProjectRoot)
}
