package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/blockforge/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		format   string
		short    bool
		detailed bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the blockforge version, commit, build time, Go version and
platform.

Examples:
  blockforge version               # Version line
  blockforge version --short       # Version only
  blockforge version --detailed    # All build information
  blockforge version -o json       # Machine-readable`,
		Args: cobra.NoArgs,
		// Version never needs the project configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			switch format {
			case FormatJSON, FormatYAML:
				return outputVersionStructured(w, format)
			case FormatText:
				switch {
				case short:
					_, err := fmt.Fprintln(w, version.GetShortVersion())
					return err
				case detailed:
					return outputVersionDetailed(w)
				default:
					return outputVersionDefault(w)
				}
			default:
				return ValidateFormat(format, []string{FormatText, FormatJSON, FormatYAML})
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", FormatText, "Output format (text|json|yaml)")
	cmd.Flags().BoolVar(&short, "short", false, "Show the version only")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show detailed build information")

	return cmd
}

func outputVersionDefault(w io.Writer) error {
	info := version.GetBuildInfo()

	line := "blockforge " + info.Version
	if len(info.GitCommit) >= 7 && info.GitCommit != "unknown" {
		line += " (" + info.GitCommit[:7] + ")"
	}
	if info.Modified {
		line += " (dirty)"
	}
	fmt.Fprintln(w, line)

	if !info.BuildTime.IsZero() {
		fmt.Fprintf(w, "Built: %s\n", info.BuildTime.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(w, "Go: %s\n", info.GoVersion)
	_, err := fmt.Fprintf(w, "Platform: %s\n", info.Platform)
	return err
}

func outputVersionDetailed(w io.Writer) error {
	fmt.Fprintln(w, version.GetDetailedVersion())

	buildType := "development"
	if version.IsRelease() {
		buildType = "release"
	}
	_, err := fmt.Fprintf(w, "Build type: %s\n", buildType)
	return err
}

type versionReport struct {
	version.BuildInfo `yaml:",inline"`
	IsRelease         bool `json:"is_release" yaml:"is_release"`
}

func outputVersionStructured(w io.Writer, format string) error {
	report := versionReport{BuildInfo: *version.GetBuildInfo(), IsRelease: version.IsRelease()}

	if format == FormatYAML {
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(report)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
