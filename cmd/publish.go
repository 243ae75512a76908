package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/publish"
	"github.com/conneroisu/blockforge/internal/validation"
)

func newPublishCommand(app *App) *cobra.Command {
	var (
		target      string
		workspaceID string
		sourceMaps  bool
	)

	cmd := &cobra.Command{
		Use:     "publish <type>/<name>",
		Aliases: []string{"p"},
		Short:   "Publish one resource to the catalog",
		Long: `Build a production bundle of one resource, validate it and publish it to
the catalog configured by publish.endpoint. Progress is streamed until the
publish finishes.

Examples:
  blockforge publish block/hero
  blockforge publish template/landing --target workspace --workspace ws_123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceType, name, ok := strings.Cut(args[0], "/")
			if !ok || resourceType == "" || name == "" {
				return errors.ErrInvalidRequest(fmt.Sprintf("expected <type>/<name>, got %q", args[0]))
			}
			return app.runPublish(cmd, publish.Request{
				ResourceType: resourceType,
				ResourceName: name,
				Target:       target,
				WorkspaceID:  workspaceID,
				Options:      publish.Options{SourceMaps: sourceMaps},
			})
		},
	}

	cmd.Flags().StringVar(&target, "target", validation.TargetPublic, "Publish target (public|workspace)")
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace id, required for --target workspace")
	cmd.Flags().BoolVar(&sourceMaps, "source-maps", false, "Include source maps in the published bundle")

	return cmd
}

func (a *App) runPublish(cmd *cobra.Command, req publish.Request) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := a.newContainer()
	if err != nil {
		return err
	}
	defer a.shutdown(container)

	tracker, err := container.GetTracker()
	if err != nil {
		return err
	}

	id, err := tracker.Create(ctx, req)
	if err != nil {
		return err
	}

	updates, err := tracker.Watch(ctx, id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Publishing %s/%s to %s (task %s)\n", req.ResourceType, req.ResourceName, req.Target, id)

	printed := 0
	var last *publish.Task
	for task := range updates {
		printed = printSteps(w, task, printed)
		last = task
	}

	// Interrupted: cancel the publish and wait for its recorded outcome.
	if last == nil || !last.Status.Terminal() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracker.Shutdown(shutdownCtx); err != nil {
			return err
		}
		task, ok := tracker.Get(id)
		if !ok {
			return fmt.Errorf("publish task %s disappeared", id)
		}
		printSteps(w, task, printed)
		last = task
	}

	return reportPublish(w, last)
}

// printSteps prints the steps of task after the first n and returns the
// new count.
func printSteps(w io.Writer, task *publish.Task, n int) int {
	for _, step := range task.Steps[n:] {
		fmt.Fprintf(w, "[%3d%%] %-11s %-9s %s\n", task.Progress, step.Name, step.Status, step.Message)
	}
	return len(task.Steps)
}

func reportPublish(w io.Writer, task *publish.Task) error {
	if task.Status == publish.StatusCompleted {
		fmt.Fprintf(w, "\nPublished %s/%s@%s\n", task.ResourceType, task.ResourceName, task.Version)
		if task.Result != nil {
			fmt.Fprintf(w, "  id:  %s\n", task.Result.ID)
			if task.Result.URL != "" {
				fmt.Fprintf(w, "  url: %s\n", task.Result.URL)
			}
		}
		return nil
	}

	if task.Quota {
		fmt.Fprintf(w, "\nQUOTA EXCEEDED: %s\n", task.Error)
		fmt.Fprintln(w, "The catalog refused the publish because a quota or rate limit was reached. Try again later or raise the workspace quota.")
	}
	return fmt.Errorf("publish failed (%s): %s", task.ErrorCode, task.Error)
}
