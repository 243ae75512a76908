// Package cmd provides the blockforge command line.
//
// Configuration is resolved from several sources, highest priority first:
//
//  1. Command-line flags (--port, --minify, --project, ...)
//  2. Environment variables with the BLOCKFORGE_ prefix
//     (BLOCKFORGE_SERVER_PORT, BLOCKFORGE_PUBLISH_TOKEN, ...)
//  3. The configuration file: --config, else BLOCKFORGE_CONFIG_FILE, else
//     .blockforge.yml in the project root
//  4. Built-in defaults
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/blockforge/internal/config"
	"github.com/conneroisu/blockforge/internal/di"
	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
)

const (
	envPrefix      = "BLOCKFORGE"
	envConfigFile  = "BLOCKFORGE_CONFIG_FILE"
	configFileName = ".blockforge"

	shutdownTimeout = 10 * time.Second
)

// App is the state shared by one command tree.
type App struct {
	viper   *viper.Viper
	cfgFile string

	cfg    *config.Config
	logger logging.Logger
}

// NewRootCommand builds the full command tree with its own configuration
// state.
func NewRootCommand() *cobra.Command {
	app := &App{viper: viper.New()}

	root := &cobra.Command{
		Use:   "blockforge",
		Short: "Development server and toolchain for UI component packages",
		Long: `blockforge discovers blocks and page templates in a project, compiles
them, serves live previews with hot reload and publishes them to a catalog.

Quick Start:
  blockforge serve                 Start the preview server
  blockforge list                  List all resources
  blockforge build --production    Build release bundles
  blockforge validate              Check every resource config
  blockforge publish block/hero    Publish one resource`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.initConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.cfgFile, "config", "", "config file (default is .blockforge.yml, can also use "+envConfigFile+")")
	flags.StringP("project", "C", ".", "project root directory")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	app.bind("resources.project_root", flags.Lookup("project"))
	app.bind("log.level", flags.Lookup("log-level"))
	app.bind("log.format", flags.Lookup("log-format"))

	root.AddCommand(
		newServeCommand(app),
		newBuildCommand(app),
		newListCommand(app),
		newValidateCommand(app),
		newPublishCommand(app),
		newVersionCommand(),
	)

	return root
}

// Execute runs the command line and prints the error, if any.
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// bind ties a flag to a configuration key. Flags only override the key
// when they are set on the command line.
func (a *App) bind(key string, flag *pflag.Flag) {
	_ = a.viper.BindPFlag(key, flag)
}

// initConfig reads the config file and environment, then builds the
// logger. It runs before every command except version.
func (a *App) initConfig(cmd *cobra.Command) error {
	v := a.viper

	explicit := a.cfgFile
	if explicit == "" {
		explicit = os.Getenv(envConfigFile)
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.AddConfigPath(v.GetString("resources.project_root"))
		v.SetConfigType("yaml")
		v.SetConfigName(configFileName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Only the default .blockforge.yml is optional.
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !stderrors.As(err, &notFound) {
			return errors.WrapConfig(err, errors.CodeInvalidConfig, "cannot read config file")
		}
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		return errors.WrapConfig(err, errors.CodeInvalidConfig, "failed to load configuration")
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return errors.WrapConfig(err, errors.CodeInvalidConfig, "invalid log level")
	}

	a.cfg = cfg
	a.logger = logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	if used := v.ConfigFileUsed(); used != "" {
		a.logger.Debug(cmd.Context(), "Using config file", "path", used)
	}
	return nil
}

// newContainer wires the services for one command run.
func (a *App) newContainer() (*di.ServiceContainer, error) {
	container := di.NewServiceContainer(a.cfg, a.logger)
	if err := container.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize service container: %w", err)
	}
	return container, nil
}

// shutdown stops whatever the container created.
func (a *App) shutdown(container *di.ServiceContainer) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := container.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, err, "Error during shutdown")
	}
}
