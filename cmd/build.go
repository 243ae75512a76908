package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/blockforge/internal/build"
	"github.com/conneroisu/blockforge/internal/di"
)

func newBuildCommand(app *App) *cobra.Command {
	var flags *StandardFlags

	cmd := &cobra.Command{
		Use:     "build",
		Aliases: []string{"b"},
		Short:   "Compile every resource",
		Long: `Scan the project and compile every block and template.

Development builds go to <output>/<type>s/<name>/. Production builds are
minified and go to <output>/release/<name>/<version>/.

Examples:
  blockforge build                 # Development build
  blockforge build --minify        # Minified development build
  blockforge build --production    # Release bundles`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runBuild(cmd, flags)
		},
	}

	flags = AddStandardFlags(app, cmd, "build")
	return cmd
}

func (a *App) runBuild(cmd *cobra.Command, flags *StandardFlags) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	container, err := a.newContainer()
	if err != nil {
		return err
	}
	defer a.shutdown(container)

	result, err := container.ScanResult()
	if err != nil {
		return err
	}
	if err := checkScan(cmd.ErrOrStderr(), result); err != nil {
		return err
	}

	reg, err := container.GetRegistry()
	if err != nil {
		return err
	}
	resources := reg.List()
	if len(resources) == 0 {
		fmt.Fprintln(w, "No resources found.")
		return nil
	}

	generateTypes(ctx, a.logger, resources)

	var builder *build.Builder
	if flags.Production {
		compiler, err := container.GetCompiler()
		if err != nil {
			return err
		}
		builder = build.NewBuilder(compiler, nil,
			build.OutputTarget{Dir: filepath.Join(a.cfg.OutputPath(), di.ReleaseDir)},
			build.Options{Minify: true, SourceMaps: a.cfg.Build.SourceMaps, Layout: build.LayoutProduction},
			a.logger)
	} else {
		builder, err = container.GetBuilder()
		if err != nil {
			return err
		}
	}

	artifacts := builder.BuildAll(ctx, resources)
	failed := printArtifacts(w, artifacts)

	fmt.Fprintf(w, "\nBuilt %d resource(s) into %s", len(artifacts)-failed, builder.Target().Dir)
	if failed > 0 {
		fmt.Fprintf(w, ", %d failed\n", failed)
		return fmt.Errorf("%d resource(s) failed to build", failed)
	}
	fmt.Fprintln(w)
	return nil
}
