// Package config provides configuration management for blockforge projects
// using Viper for flexible configuration loading from files, environment
// variables, and command-line flags.
//
// The configuration system supports YAML files (.blockforge.yml), environment
// variable overrides with the BLOCKFORGE_ prefix, defaults and validation. It
// covers the preview server, resource discovery roots, the build pipeline,
// the file watcher and the publish tracker.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved project configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Resources ResourcesConfig `mapstructure:"resources" yaml:"resources"`
	Build     BuildConfig     `mapstructure:"build" yaml:"build"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Publish   PublishConfig   `mapstructure:"publish" yaml:"publish"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// PreviewTemplate is an optional project HTML file used as the preview shell.
	PreviewTemplate string `mapstructure:"preview_template" yaml:"preview_template"`
}

type ResourcesConfig struct {
	ProjectRoot     string   `mapstructure:"project_root" yaml:"project_root"`
	BlocksDir       string   `mapstructure:"blocks_dir" yaml:"blocks_dir"`
	TemplatesDir    string   `mapstructure:"templates_dir" yaml:"templates_dir"`
	StylesDir       string   `mapstructure:"styles_dir" yaml:"styles_dir"`
	Strict          bool     `mapstructure:"strict" yaml:"strict"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"`
}

type BuildConfig struct {
	OutputDir      string   `mapstructure:"output_dir" yaml:"output_dir"`
	Minify         bool     `mapstructure:"minify" yaml:"minify"`
	SourceMaps     bool     `mapstructure:"source_maps" yaml:"source_maps"`
	External       []string `mapstructure:"external" yaml:"external"`
	CSSCommand     string   `mapstructure:"css_command" yaml:"css_command"`
	CSSArgs        []string `mapstructure:"css_args" yaml:"css_args"`
	CSSConfigFiles []string `mapstructure:"css_config_files" yaml:"css_config_files"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type PublishConfig struct {
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Token     string        `mapstructure:"token" yaml:"-"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTasks  int           `mapstructure:"max_tasks" yaml:"max_tasks"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 7777)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.open", false)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.preview_template", "")

	v.SetDefault("resources.project_root", ".")
	v.SetDefault("resources.blocks_dir", "blocks")
	v.SetDefault("resources.templates_dir", "templates")
	v.SetDefault("resources.styles_dir", "styles")
	v.SetDefault("resources.strict", false)
	v.SetDefault("resources.exclude_patterns", []string{"**/node_modules", "**/.git", "**/dist", "**/*.bak"})

	v.SetDefault("build.output_dir", ".blockforge/dist")
	v.SetDefault("build.minify", false)
	v.SetDefault("build.source_maps", true)
	v.SetDefault("build.css_command", "")
	v.SetDefault("build.css_args", []string{})
	v.SetDefault("build.external", []string{"react", "react-dom", "react/jsx-runtime"})
	v.SetDefault("build.css_config_files", []string{
		"tailwind.config.js", "tailwind.config.ts", "tailwind.config.cjs", "tailwind.config.mjs",
		"postcss.config.js", "postcss.config.cjs", "postcss.config.mjs",
	})

	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", 300*time.Millisecond)

	v.SetDefault("publish.endpoint", "")
	v.SetDefault("publish.token", "")
	v.SetDefault("publish.timeout", 3*time.Minute)
	v.SetDefault("publish.max_tasks", 100)
	v.SetDefault("publish.retention", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load resolves the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom resolves the configuration from a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// The CSS compiler is opt-in: no default command.
	if config.Build.CSSCommand == "" && len(config.Build.CSSArgs) > 0 {
		return nil, fmt.Errorf("invalid configuration: build.css_args set without build.css_command")
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the default configuration without consulting files or env.
func Default() *Config {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		// Defaults are static and always valid.
		panic(err)
	}
	return cfg
}

// BlocksPath returns the absolute-or-relative blocks root joined with the project root.
func (c *Config) BlocksPath() string {
	return filepath.Join(c.Resources.ProjectRoot, c.Resources.BlocksDir)
}

// TemplatesPath returns the templates root joined with the project root.
func (c *Config) TemplatesPath() string {
	return filepath.Join(c.Resources.ProjectRoot, c.Resources.TemplatesDir)
}

// StylesPath returns the shared styles root joined with the project root.
func (c *Config) StylesPath() string {
	return filepath.Join(c.Resources.ProjectRoot, c.Resources.StylesDir)
}

// OutputPath returns the build output directory joined with the project root.
func (c *Config) OutputPath() string {
	if filepath.IsAbs(c.Build.OutputDir) {
		return c.Build.OutputDir
	}
	return filepath.Join(c.Resources.ProjectRoot, c.Build.OutputDir)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateResourcesConfig(&config.Resources); err != nil {
		return fmt.Errorf("resources config: %w", err)
	}

	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	if config.Watch.Debounce <= 0 {
		return fmt.Errorf("watch config: debounce must be positive, got %s", config.Watch.Debounce)
	}

	if err := validatePublishConfig(&config.Publish); err != nil {
		return fmt.Errorf("publish config: %w", err)
	}

	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateResourcesConfig(config *ResourcesConfig) error {
	for name, dir := range map[string]string{
		"blocks_dir":    config.BlocksDir,
		"templates_dir": config.TemplatesDir,
		"styles_dir":    config.StylesDir,
	} {
		if err := validatePath(dir); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, dir, err)
		}
	}

	return nil
}

func validateBuildConfig(config *BuildConfig) error {
	if config.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}

	if strings.Contains(filepath.Clean(config.OutputDir), "..") {
		return fmt.Errorf("output_dir contains path traversal: %s", config.OutputDir)
	}

	return nil
}

func validatePublishConfig(config *PublishConfig) error {
	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}

	if config.MaxTasks <= 0 {
		return fmt.Errorf("max_tasks must be positive, got %d", config.MaxTasks)
	}

	if config.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", config.Retention)
	}

	return nil
}

// validatePath validates a relative directory setting
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
