package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/conneroisu/blockforge/internal/build"
	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/scanner"
)

// problem is one scan finding as printed or encoded by the CLI.
type problem struct {
	Severity string `json:"severity" yaml:"severity"`
	Code     string `json:"code" yaml:"code"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

func problemsOf(result *scanner.Result) []problem {
	problems := make([]problem, 0, len(result.Errors)+len(result.Warnings))
	add := func(severity string, errs []*errors.ForgeError) {
		for _, e := range errs {
			p := problem{
				Severity: severity,
				Code:     e.Code,
				Path:     e.FilePath,
				Resource: e.Resource,
				Message:  e.Message,
			}
			if e.Cause != nil {
				p.Message += ": " + e.Cause.Error()
			}
			problems = append(problems, p)
		}
	}
	add("error", result.Errors)
	add("warning", result.Warnings)
	return problems
}

func printProblems(w io.Writer, problems []problem) {
	for _, p := range problems {
		location := p.Path
		if location == "" {
			location = p.Resource
		}
		fmt.Fprintf(w, "%-7s %s: %s\n", p.Severity, location, p.Message)
	}
}

// checkScan prints scan problems and fails on scan errors. Warnings alone
// never stop serve or build.
func checkScan(w io.Writer, result *scanner.Result) error {
	printProblems(w, problemsOf(result))
	if n := len(result.Errors); n > 0 {
		return fmt.Errorf("scan found %d invalid resource(s)", n)
	}
	return nil
}

// generateTypes writes the props typings of every resource. Failures are
// logged; they never block a build.
func generateTypes(ctx context.Context, logger logging.Logger, resources []*registry.Resource) {
	for _, res := range resources {
		if _, err := build.GenerateTypes(res); err != nil {
			logger.Warn(ctx, err, "Cannot write props typings", "resource", res.Key().String())
		}
	}
}

// printArtifacts writes one line per build and the diagnostics of failed
// builds. It returns the number of failures.
func printArtifacts(w io.Writer, artifacts []*build.Artifact) int {
	failed := 0
	for _, a := range artifacts {
		if a.OK() {
			fmt.Fprintf(w, "ok      %-28s %s\n", a.Resource.String(), a.Duration.Round(time.Millisecond))
			continue
		}
		failed++
		fmt.Fprintf(w, "FAIL    %-28s %s: %s\n", a.Resource.String(), a.Code, a.Reason)
		for _, d := range a.Diagnostics {
			if d.File == "" {
				fmt.Fprintf(w, "        %s: %s\n", d.Severity, d.Text)
				continue
			}
			fmt.Fprintf(w, "        %s:%d:%d: %s: %s\n", d.File, d.Line, d.Column, d.Severity, d.Text)
		}
	}
	return failed
}
