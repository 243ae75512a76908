// Package scanner discovers blocks and templates in a project tree.
//
// Each immediate subdirectory of a configured root is a candidate resource.
// The scanner loads its config file (YAML, JSON or TOML), its package
// manifest and any saved preview state, validates the declared field schema
// and yields registry records. Problems with one directory exclude that
// directory only; the scan always runs to completion.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/moby/patternmatcher"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/validation"
)

// Root is one directory whose subdirectories are resources of Type.
type Root struct {
	Dir  string
	Type string
}

// Options control a scan.
type Options struct {
	// Strict reports missing or invalid configs as errors instead of warnings.
	Strict bool
	// ExcludePatterns are .dockerignore-style patterns matched against the
	// candidate directory name relative to its root.
	ExcludePatterns []string
	// Workers bounds concurrent directory loads; zero picks a default.
	Workers int
}

// Result is the outcome of one scan.
type Result struct {
	Resources []*registry.Resource
	Warnings  []*errors.ForgeError
	Errors    []*errors.ForgeError
}

// Registry builds a registry holding the scanned resources.
func (r *Result) Registry() (*registry.Registry, error) {
	reg := registry.New()
	for _, res := range r.Resources {
		if err := reg.Add(res); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Problems returns warnings followed by errors.
func (r *Result) Problems() []*errors.ForgeError {
	out := make([]*errors.ForgeError, 0, len(r.Warnings)+len(r.Errors))
	out = append(out, r.Warnings...)
	return append(out, r.Errors...)
}

// Scanner loads resources from disk.
type Scanner struct {
	logger logging.Logger
}

// New creates a scanner.
func New(logger logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scanner{logger: logger.WithComponent("scanner")}
}

type scanJob struct {
	root Root
	dir  string
}

type scanOutcome struct {
	resource *registry.Resource
	warnings []*errors.ForgeError
	errors   []*errors.ForgeError
}

// Scan walks every root and loads each candidate directory. The returned
// resources are sorted by type then name.
func (s *Scanner) Scan(ctx context.Context, roots []Root, opts Options) (*Result, error) {
	var matcher *patternmatcher.PatternMatcher
	if len(opts.ExcludePatterns) > 0 {
		pm, err := patternmatcher.New(opts.ExcludePatterns)
		if err != nil {
			return nil, errors.WrapConfig(err, errors.CodeInvalidConfig, "invalid exclude pattern")
		}
		matcher = pm
	}

	op := logging.StartOperation(s.logger, "scan")
	result := &Result{}

	var jobs []scanJob
	for _, root := range roots {
		if err := validation.ValidateResourceType(root.Type); err != nil {
			return nil, errors.WrapConfig(err, errors.CodeInvalidConfig, "invalid scan root")
		}

		entries, err := os.ReadDir(root.Dir)
		if os.IsNotExist(err) {
			s.logger.Debug(ctx, "Scan root does not exist", "dir", root.Dir, "type", root.Type)
			continue
		}
		if err != nil {
			return nil, errors.WrapIO(err, "SCAN_ROOT", fmt.Sprintf("failed to read %s", root.Dir))
		}

		for _, entry := range entries {
			name := entry.Name()
			if !entry.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			if matcher != nil {
				if excluded, _ := matcher.MatchesOrParentMatches(name); excluded {
					continue
				}
			}
			jobs = append(jobs, scanJob{root: root, dir: filepath.Join(root.Dir, name)})
		}
	}

	outcomes := s.run(ctx, jobs, opts)
	if err := ctx.Err(); err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	seen := make(map[registry.Key]string)
	for _, o := range outcomes {
		result.Warnings = append(result.Warnings, o.warnings...)
		result.Errors = append(result.Errors, o.errors...)
		if o.resource == nil {
			continue
		}

		key := o.resource.Key()
		if prev, dup := seen[key]; dup {
			result.Errors = append(result.Errors, errors.NewScanWarning(o.resource.RootPath,
				fmt.Sprintf("duplicate resource %s (already loaded from %s)", key, prev), nil).
				WithResource(key.String()))
			continue
		}
		seen[key] = o.resource.RootPath
		result.Resources = append(result.Resources, o.resource)
	}

	sort.Slice(result.Resources, func(i, j int) bool {
		a, b := result.Resources[i], result.Resources[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Name < b.Name
	})

	for _, w := range result.Warnings {
		s.logger.Warn(ctx, w, "Resource warning", "dir", w.FilePath)
	}
	for _, e := range result.Errors {
		s.logger.Error(ctx, e, "Resource excluded", "dir", e.FilePath)
	}

	s.logger.Info(ctx, "Scan complete",
		"resources", len(result.Resources),
		"warnings", len(result.Warnings),
		"errors", len(result.Errors))
	op.End(ctx)

	return result, nil
}

// run loads every job on a bounded pool of workers. Outcomes keep job order.
func (s *Scanner) run(ctx context.Context, jobs []scanJob, opts Options) []scanOutcome {
	outcomes := make([]scanOutcome, len(jobs))
	if len(jobs) == 0 {
		return outcomes
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 8 {
			workers = 8
		}
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				outcomes[i] = s.load(jobs[i], opts.Strict)
			}
		}()
	}

	for i := range jobs {
		select {
		case indexes <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(indexes)
	wg.Wait()

	return outcomes
}

// load builds one resource. Config problems exclude the directory, as a
// warning or, in strict mode, as an error. Manifest and preview problems are
// warnings only.
func (s *Scanner) load(job scanJob, strict bool) scanOutcome {
	var out scanOutcome
	name := filepath.Base(job.dir)
	key := registry.Key{Type: job.root.Type, Name: name}

	exclude := func(err *errors.ForgeError) scanOutcome {
		err.WithResource(key.String())
		if strict {
			err.Recoverable = false
			out.errors = append(out.errors, err)
		} else {
			out.warnings = append(out.warnings, err)
		}
		return out
	}

	if err := validation.ValidateResourceName(name); err != nil {
		return exclude(errors.NewScanWarning(job.dir, "invalid resource directory name", err))
	}

	absRoot, err := filepath.Abs(job.dir)
	if err != nil {
		return exclude(errors.NewScanWarning(job.dir, "failed to resolve directory", err))
	}

	cfg, issues, err := LoadConfig(absRoot)
	if err != nil {
		return exclude(asForgeError(job.dir, err))
	}
	if len(issues) > 0 {
		for _, issue := range issues {
			exclude(errors.NewScanWarning(job.dir, "schema: "+issue.String(), nil).
				WithLocation(cfg.File, 0, 0))
		}
		return out
	}

	manifest, err := LoadManifest(absRoot)
	if err != nil {
		out.warnings = append(out.warnings, asForgeError(job.dir, err).WithResource(key.String()))
	}

	state, err := registry.ReadPreviewState(absRoot)
	if err != nil {
		out.warnings = append(out.warnings, asForgeError(job.dir, err).WithResource(key.String()))
		state = map[string]interface{}{}
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = DisplayName(name)
	}

	out.resource = &registry.Resource{
		Type:         job.root.Type,
		Name:         name,
		RootPath:     absRoot,
		DisplayName:  displayName,
		Description:  cfg.Description,
		Category:     cfg.Category,
		Tags:         cfg.Tags,
		Entry:        cfg.Entry,
		ConfigFile:   cfg.File,
		Schema:       cfg.Schema,
		Package:      manifest,
		PreviewState: state,
	}

	return out
}

// DisplayName title-cases a directory name: "pricing-table" -> "Pricing Table".
func DisplayName(dirName string) string {
	words := strings.FieldsFunc(dirName, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	return cases.Title(language.English, cases.NoLower).String(strings.Join(words, " "))
}

func asForgeError(dir string, err error) *errors.ForgeError {
	var fe *errors.ForgeError
	if e, ok := err.(*errors.ForgeError); ok {
		fe = e
	} else {
		fe = errors.NewScanWarning(dir, "resource problem", err)
	}
	if fe.Code != errors.CodeScanWarning {
		fe = errors.Wrap(fe, errors.ErrorTypeScan, errors.CodeScanWarning, fe.Message)
	}
	return fe
}
