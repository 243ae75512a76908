package build

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/registry"
)

// Status of a build attempt.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Artifact is the outcome of compiling one resource. Artifacts are replaced
// wholesale per build and never mutated after Compile returns.
type Artifact struct {
	Resource      registry.Key  `json:"resource"`
	Status        Status        `json:"status"`
	Code          string        `json:"code,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Diagnostics   []Diagnostic  `json:"diagnostics,omitempty"`
	Script        []byte        `json:"-"`
	SourceMap     []byte        `json:"-"`
	Stylesheet    []byte        `json:"-"`
	HasStylesheet bool          `json:"hasStylesheet"`
	ScriptPath    string        `json:"scriptPath,omitempty"`
	SourceMapPath string        `json:"sourceMapPath,omitempty"`
	StylePath     string        `json:"stylePath,omitempty"`
	Version       string        `json:"version"`
	Layout        Layout        `json:"layout"`
	BuiltAt       time.Time     `json:"builtAt"`
	Duration      time.Duration `json:"duration"`
}

// OK reports whether the build succeeded.
func (a *Artifact) OK() bool {
	return a != nil && a.Status == StatusOK
}

// Err returns the failure as a ForgeError, or nil for a successful build.
func (a *Artifact) Err() error {
	if a == nil || a.Status != StatusFailed {
		return nil
	}
	err := errors.NewBuildError(a.Code, a.Reason, nil).WithResource(a.Resource.String())
	for _, d := range a.Diagnostics {
		if d.Severity == SeverityError && d.File != "" {
			err = err.WithLocation(d.File, d.Line, d.Column)
			break
		}
	}
	return err
}

func (a *Artifact) fail(code, reason string, diagnostics []Diagnostic) {
	a.Status = StatusFailed
	a.Code = code
	a.Reason = reason
	if diagnostics != nil {
		a.Diagnostics = diagnostics
	}
	a.Script = nil
	a.SourceMap = nil
	a.Stylesheet = nil
	a.HasStylesheet = false
	a.ScriptPath = ""
	a.SourceMapPath = ""
	a.StylePath = ""
}

// write places every output in dir. Files that a previous build produced but
// this one does not (a removed stylesheet) are deleted.
func (a *Artifact) write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	a.ScriptPath = filepath.Join(dir, ScriptFile)
	if err := writeFileAtomic(a.ScriptPath, a.Script); err != nil {
		return err
	}

	mapPath := filepath.Join(dir, SourceMapFile)
	if len(a.SourceMap) > 0 {
		a.SourceMapPath = mapPath
		if err := writeFileAtomic(mapPath, a.SourceMap); err != nil {
			return err
		}
	} else if err := removeIfExists(mapPath); err != nil {
		return err
	}

	stylePath := filepath.Join(dir, StyleFile)
	if a.HasStylesheet {
		a.StylePath = stylePath
		return writeFileAtomic(stylePath, a.Stylesheet)
	}
	return removeIfExists(stylePath)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
