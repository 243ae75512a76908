package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/blockforge/internal/errors"
)

func newServeCommand(app *App) *cobra.Command {
	var flags *StandardFlags

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the preview server with hot reload",
		Long: `Scan the project, build every resource and serve live previews.
Changes under the blocks, templates and styles roots are rebuilt and pushed
to open previews.

Examples:
  blockforge serve                 # Serve on the configured port
  blockforge serve -p 0            # Serve on any free port
  blockforge serve --no-watch      # Serve without hot reload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runServe(cmd, flags)
		},
	}

	flags = AddStandardFlags(app, cmd, "server")
	return cmd
}

func (a *App) runServe(cmd *cobra.Command, flags *StandardFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.NoWatch {
		a.cfg.Watch.Enabled = false
	}

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
	generateTypes(ctx, a.logger, reg.List())

	builder, err := container.GetBuilder()
	if err != nil {
		return err
	}
	artifacts := builder.BuildAll(ctx, reg.List())
	if failed := printArtifacts(cmd.ErrOrStderr(), artifacts); failed > 0 {
		a.logger.Warn(ctx, nil, "Some resources failed to build; previews show the error overlay", "failed", failed)
	}

	if a.cfg.Watch.Enabled {
		fw, err := container.GetFileWatcher()
		if err != nil {
			return err
		}
		fw.Start(ctx)
		a.logger.Info(ctx, "Watching for changes", "directories", len(fw.WatchList()))
	}

	srv, err := container.GetServer()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return errors.WrapIO(err, "LISTEN", fmt.Sprintf("cannot listen on %s", srv.Addr()))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d resource(s) at http://%s\n", reg.Count(), listener.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info(context.Background(), "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
