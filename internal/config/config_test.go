package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "blocks", cfg.Resources.BlocksDir)
	assert.Equal(t, "templates", cfg.Resources.TemplatesDir)
	assert.Equal(t, "styles", cfg.Resources.StylesDir)
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 3*time.Minute, cfg.Publish.Timeout)
	assert.Equal(t, 100, cfg.Publish.MaxTasks)
	assert.Contains(t, cfg.Resources.ExcludePatterns, "**/node_modules")
	assert.Contains(t, cfg.Build.CSSConfigFiles, "tailwind.config.js")
	assert.True(t, cfg.Build.SourceMaps)
	assert.Empty(t, cfg.Build.CSSCommand)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "custom directories and durations",
			setup: func(v *viper.Viper) {
				v.Set("resources.blocks_dir", "src/blocks")
				v.Set("watch.debounce", "50ms")
				v.Set("publish.timeout", "10s")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "src/blocks", cfg.Resources.BlocksDir)
				assert.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce)
				assert.Equal(t, 10*time.Second, cfg.Publish.Timeout)
			},
		},
		{
			name: "invalid port",
			setup: func(v *viper.Viper) {
				v.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "non numeric port",
			setup: func(v *viper.Viper) {
				v.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "path traversal in blocks dir",
			setup: func(v *viper.Viper) {
				v.Set("resources.blocks_dir", "../outside")
			},
			expectError: true,
		},
		{
			name: "dangerous host",
			setup: func(v *viper.Viper) {
				v.Set("server.host", "localhost;rm")
			},
			expectError: true,
		},
		{
			name: "zero debounce",
			setup: func(v *viper.Viper) {
				v.Set("watch.debounce", "0s")
			},
			expectError: true,
		},
		{
			name: "negative publish timeout",
			setup: func(v *viper.Viper) {
				v.Set("publish.timeout", "-1s")
			},
			expectError: true,
		},
		{
			name: "css args without command",
			setup: func(v *viper.Viper) {
				v.Set("build.css_args", []string{"--minify"})
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".blockforge.yml")
	content := `
server:
  port: 9000
  allowed_origins: ["http://localhost:3000"]
resources:
  strict: true
build:
  css_command: tailwindcss
  css_args: ["--input", "-", "--output", "-"]
publish:
  endpoint: https://catalog.example.com/graphql
  max_tasks: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Resources.Strict)
	assert.Equal(t, "tailwindcss", cfg.Build.CSSCommand)
	assert.Equal(t, []string{"--input", "-", "--output", "-"}, cfg.Build.CSSArgs)
	assert.Equal(t, "https://catalog.example.com/graphql", cfg.Publish.Endpoint)
	assert.Equal(t, 5, cfg.Publish.MaxTasks)
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.Resources.ProjectRoot = "/work/site"

	assert.Equal(t, filepath.Join("/work/site", "blocks"), cfg.BlocksPath())
	assert.Equal(t, filepath.Join("/work/site", "templates"), cfg.TemplatesPath())
	assert.Equal(t, filepath.Join("/work/site", "styles"), cfg.StylesPath())
	assert.Equal(t, filepath.Join("/work/site", ".blockforge/dist"), cfg.OutputPath())

	cfg.Build.OutputDir = "/tmp/out"
	assert.Equal(t, "/tmp/out", cfg.OutputPath())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BLOCKFORGE_PUBLISH_ENDPOINT", "https://catalog.example.com/graphql")
	t.Setenv("BLOCKFORGE_SERVER_PORT", "8123")

	v := viper.New()
	v.SetEnvPrefix("BLOCKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "https://catalog.example.com/graphql", cfg.Publish.Endpoint)
	assert.Equal(t, 8123, cfg.Server.Port)
}
