package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/blockforge/internal/registry"
)

func newListCommand(app *App) *cobra.Command {
	var (
		flags      *StandardFlags
		withFields bool
		typeFilter string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l", "ls"},
		Short:   "List all discovered resources",
		Long: `List the blocks and templates found in the project with their metadata.

Examples:
  blockforge list                  # Table of all resources
  blockforge list -o json          # JSON output
  blockforge list --type block     # Only blocks
  blockforge list -f -o yaml       # Include field definitions, as YAML`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.ValidateFormat(FormatTable, FormatJSON, FormatYAML); err != nil {
				return err
			}
			return app.runList(cmd, flags, typeFilter, withFields)
		},
	}

	flags = AddStandardFlags(app, cmd, "output")
	cmd.Flags().BoolVarP(&withFields, "with-fields", "f", false, "Include field definitions")
	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "Only list resources of this type (block|template)")

	return cmd
}

// listEntry is one row of list output.
type listEntry struct {
	Type        string      `json:"type" yaml:"type"`
	Name        string      `json:"name" yaml:"name"`
	DisplayName string      `json:"displayName" yaml:"display_name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string      `json:"category,omitempty" yaml:"category,omitempty"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Version     string      `json:"version,omitempty" yaml:"version,omitempty"`
	Path        string      `json:"path" yaml:"path"`
	FieldCount  int         `json:"fieldCount" yaml:"field_count"`
	Fields      []listField `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type listField struct {
	Key      string `json:"key" yaml:"key"`
	Kind     string `json:"kind" yaml:"kind"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

func (a *App) runList(cmd *cobra.Command, flags *StandardFlags, typeFilter string, withFields bool) error {
	container, err := a.newContainer()
	if err != nil {
		return err
	}
	defer a.shutdown(container)

	result, err := container.ScanResult()
	if err != nil {
		return err
	}
	if !flags.Quiet {
		printProblems(cmd.ErrOrStderr(), problemsOf(result))
	}

	reg, err := container.GetRegistry()
	if err != nil {
		return err
	}

	var entries []listEntry
	for _, res := range reg.List() {
		if typeFilter != "" && res.Type != typeFilter {
			continue
		}
		entries = append(entries, toListEntry(res, withFields))
	}

	w := cmd.OutOrStdout()
	switch strings.ToLower(flags.OutputFormat) {
	case FormatJSON:
		if entries == nil {
			entries = []listEntry{}
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(entries)
	default:
		if len(entries) == 0 {
			fmt.Fprintln(w, "No resources found.")
			return nil
		}
		return outputTable(w, entries, withFields)
	}
}

func toListEntry(res *registry.Resource, withFields bool) listEntry {
	entry := listEntry{
		Type:        res.Type,
		Name:        res.Name,
		DisplayName: res.DisplayName,
		Description: res.Description,
		Category:    res.Category,
		Tags:        res.Tags,
		Version:     res.Package.Version,
		Path:        res.RootPath,
		FieldCount:  len(res.Schema),
	}
	if withFields {
		for _, e := range res.Schema {
			common := e.Field.Base()
			entry.Fields = append(entry.Fields, listField{
				Key:      e.Key,
				Kind:     string(e.Field.Kind()),
				Label:    common.Label,
				Required: common.Required,
			})
		}
	}
	return entry
}

func outputTable(out io.Writer, entries []listEntry, withFields bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	header := "TYPE\tNAME\tDISPLAY NAME\tVERSION\tFIELDS"
	if withFields {
		header += "\tDEFINITIONS"
	}
	fmt.Fprintln(w, header)

	for _, e := range entries {
		version := e.Version
		if version == "" {
			version = "-"
		}
		row := fmt.Sprintf("%s\t%s\t%s\t%s\t%d", e.Type, e.Name, e.DisplayName, version, e.FieldCount)
		if withFields {
			defs := make([]string, 0, len(e.Fields))
			for _, f := range e.Fields {
				def := f.Key + ":" + f.Kind
				if f.Required {
					def += "*"
				}
				defs = append(defs, def)
			}
			row += "\t" + strings.Join(defs, ", ")
		}
		fmt.Fprintln(w, row)
	}

	fmt.Fprintf(w, "\nTotal: %d resource(s)\n", len(entries))
	return w.Flush()
}
