package build

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Diagnostic is one message reported by the bundler or CSS compiler.
type Diagnostic struct {
	Severity string `json:"severity"`
	Text     string `json:"text"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	LineText string `json:"lineText,omitempty"`
}

// BundleRequest describes one bundling job.
type BundleRequest struct {
	EntryPoint string
	// ResolveDir is the working directory for relative imports.
	ResolveDir string
	Minify     bool
	SourceMap  bool
	External   []string
}

// BundleResult carries the bundled script. A result with any error-severity
// diagnostic is a failed bundle.
type BundleResult struct {
	Code        []byte
	SourceMap   []byte
	Diagnostics []Diagnostic
}

// Failed reports whether the result carries an error diagnostic.
func (r *BundleResult) Failed() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Bundler turns an entry module into a single browser script.
type Bundler interface {
	Bundle(ctx context.Context, req BundleRequest) (*BundleResult, error)
}

// EsbuildBundler bundles with esbuild as ES modules targeting ES2020. CSS
// imports are emptied; stylesheets go through the CSS pipeline instead.
type EsbuildBundler struct{}

// NewEsbuildBundler creates the default bundler.
func NewEsbuildBundler() *EsbuildBundler {
	return &EsbuildBundler{}
}

// Bundle runs esbuild in memory. Syntax errors and unresolved imports come
// back as diagnostics, not as an error.
func (b *EsbuildBundler) Bundle(ctx context.Context, req BundleRequest) (*BundleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sourcemap := api.SourceMapNone
	if req.SourceMap {
		sourcemap = api.SourceMapLinked
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{req.EntryPoint},
		Bundle:            true,
		Write:             false,
		Outfile:           "index.js",
		AbsWorkingDir:     req.ResolveDir,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            api.ES2020,
		MinifyWhitespace:  req.Minify,
		MinifyIdentifiers: req.Minify,
		MinifySyntax:      req.Minify,
		Sourcemap:         sourcemap,
		JSX:               api.JSXAutomatic,
		External:          req.External,
		Loader: map[string]api.Loader{
			".css": api.LoaderEmpty,
		},
		LogLevel: api.LogLevelSilent,
	})

	out := &BundleResult{}
	for _, msg := range result.Errors {
		out.Diagnostics = append(out.Diagnostics, toDiagnostic(SeverityError, msg))
	}
	for _, msg := range result.Warnings {
		out.Diagnostics = append(out.Diagnostics, toDiagnostic(SeverityWarning, msg))
	}
	if out.Failed() {
		return out, nil
	}

	for _, file := range result.OutputFiles {
		switch {
		case strings.HasSuffix(file.Path, ".map"):
			out.SourceMap = file.Contents
		case filepath.Ext(file.Path) == ".js":
			out.Code = file.Contents
		}
	}

	return out, nil
}

func toDiagnostic(severity string, msg api.Message) Diagnostic {
	d := Diagnostic{Severity: severity, Text: msg.Text}
	if msg.Location != nil {
		d.File = msg.Location.File
		d.Line = msg.Location.Line
		d.Column = msg.Location.Column
		d.LineText = msg.Location.LineText
	}
	return d
}
