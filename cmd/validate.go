package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/blockforge/internal/schema"
)

func newValidateCommand(app *App) *cobra.Command {
	var (
		format      string
		printSchema bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every resource configuration",
		Long: `Scan the project in strict mode. Missing or invalid configs, manifests
and preview states are reported, and the command exits non-zero if any
problem is found.

Examples:
  blockforge validate              # Human-readable report
  blockforge validate -o json      # Machine-readable report
  blockforge validate --print-schema > config.schema.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				data, err := schema.GenerateConfigSchema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := ValidateFormat(format, []string{FormatText, FormatJSON, FormatYAML}); err != nil {
				return err
			}
			return app.runValidate(cmd, strings.ToLower(format))
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", FormatText, "Output format (text|json|yaml)")
	cmd.Flags().BoolVar(&printSchema, "print-schema", false, "Print the JSON Schema of resource config files and exit")

	return cmd
}

// validateReport is the encoded form of a validate run.
type validateReport struct {
	Valid     bool      `json:"valid" yaml:"valid"`
	Resources int       `json:"resources" yaml:"resources"`
	Problems  []problem `json:"problems" yaml:"problems"`
}

func (a *App) runValidate(cmd *cobra.Command, format string) error {
	a.cfg.Resources.Strict = true

	container, err := a.newContainer()
	if err != nil {
		return err
	}
	defer a.shutdown(container)

	result, err := container.ScanResult()
	if err != nil {
		return err
	}

	report := validateReport{
		Resources: len(result.Resources),
		Problems:  problemsOf(result),
	}
	report.Valid = len(report.Problems) == 0

	w := cmd.OutOrStdout()
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return err
		}
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		if err := encoder.Encode(report); err != nil {
			return err
		}
		if err := encoder.Close(); err != nil {
			return err
		}
	default:
		printProblems(w, report.Problems)
		if report.Valid {
			fmt.Fprintf(w, "All %d resource(s) are valid.\n", report.Resources)
		}
	}

	if !report.Valid {
		return fmt.Errorf("validation found %d problem(s)", len(report.Problems))
	}
	return nil
}
