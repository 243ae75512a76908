package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Output formats understood by list, validate and version.
const (
	FormatTable = "table"
	FormatText  = "text"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Server flags
	Port    int
	Host    string
	Open    bool
	NoWatch bool

	// Build flags
	Production bool
	Minify     bool

	// Output flags
	OutputFormat string
	Quiet        bool
}

// AddStandardFlags adds the named flag groups to a command and binds the
// configuration-backed ones to app's viper instance.
func AddStandardFlags(app *App, cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "server":
			addServerFlags(app, cmd, flags)
		case "build":
			addBuildFlags(app, cmd, flags)
		case "output":
			addOutputFlags(cmd, flags)
		}
	}

	return flags
}

func addServerFlags(app *App, cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 7777, "Port to serve on (0 picks a free port)")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "Host to bind to")
	cmd.Flags().BoolVar(&flags.Open, "open", false, "Open the browser once serving")
	cmd.Flags().BoolVar(&flags.NoWatch, "no-watch", false, "Disable file watching and hot reload")

	app.bind("server.port", cmd.Flags().Lookup("port"))
	app.bind("server.host", cmd.Flags().Lookup("host"))
	app.bind("server.open", cmd.Flags().Lookup("open"))

	AddFlagValidation(cmd, "port", ValidatePort)
}

func addBuildFlags(app *App, cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().BoolVar(&flags.Production, "production", false, "Build release bundles under <output>/release/<name>/<version>")
	cmd.Flags().BoolVar(&flags.Minify, "minify", false, "Minify bundles")

	app.bind("build.minify", cmd.Flags().Lookup("minify"))
}

func addOutputFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "output", "o", FormatTable, "Output format (table|json|yaml)")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
}

// ValidateFormat checks the output format against the formats a command
// supports.
func (f *StandardFlags) ValidateFormat(supported ...string) error {
	return ValidateFormat(f.OutputFormat, supported)
}

// AddFlagValidation wraps a flag so that invalid values are rejected while
// the command line is parsed.
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if err := v.validator(val); err != nil {
		return err
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 (any free port) through 65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

// ValidateFormat reports an unsupported format with the accepted list.
func ValidateFormat(format string, supported []string) error {
	for _, s := range supported {
		if strings.EqualFold(format, s) {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %q, must be one of: %s", format, strings.Join(supported, ", "))
}
