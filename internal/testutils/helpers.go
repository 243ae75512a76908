// Package testutils holds fixtures shared by package tests: throwaway
// project trees with blocks, templates and shared styles, plus a matching
// configuration.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/blockforge/internal/config"
)

// HeroConfig is a minimal valid block config with one required text field.
const HeroConfig = `displayName: Hero
description: Large page header
category: marketing
fields:
  heading:
    type: singleLine
    label: Heading
    required: true
  theme:
    type: select
    options: [light, dark]
`

// HeroSource is a small entry module that imports a sibling file.
const HeroSource = `import { Title } from "./Hero";

export default function Hero(props: { heading: string }) {
  return Title(props.heading);
}
`

// HeroComponent is the sibling module imported by HeroSource.
const HeroComponent = `export function Title(text: string) {
  return "<h1>" + text + "</h1>";
}
`

// CreateTempProject creates a project tree with empty resource roots.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	for _, dir := range []string{"blocks", "templates", "styles"} {
		require.NoError(t, os.MkdirAll(filepath.Join(tempDir, dir), 0o755))
	}

	return tempDir
}

// Resource describes a fixture resource directory.
type Resource struct {
	Type       string // "block" or "template"
	Name       string
	Config     string // written to config.yaml when non-empty
	ConfigFile string // overrides the config file name
	Version    string // package.json version; empty skips the manifest
	Files      map[string]string
}

// WriteResource creates the resource directory and returns its path.
func WriteResource(t *testing.T, projectDir string, res Resource) string {
	t.Helper()

	root := filepath.Join(projectDir, res.Type+"s", res.Name)
	require.NoError(t, os.MkdirAll(root, 0o755))

	if res.Config != "" {
		name := res.ConfigFile
		if name == "" {
			name = "config.yaml"
		}
		WriteFile(t, filepath.Join(root, name), res.Config)
	}

	if res.Version != "" {
		WriteFile(t, filepath.Join(root, "package.json"),
			`{"name": "@site/`+res.Name+`", "version": "`+res.Version+`"}`)
	}

	for rel, content := range res.Files {
		WriteFile(t, filepath.Join(root, filepath.FromSlash(rel)), content)
	}

	return root
}

// WriteHero writes the standard hero block fixture.
func WriteHero(t *testing.T, projectDir string) string {
	t.Helper()
	return WriteResource(t, projectDir, Resource{
		Type:    "block",
		Name:    "hero",
		Config:  HeroConfig,
		Version: "1.2.0",
		Files: map[string]string{
			"src/index.tsx": HeroSource,
			"src/Hero.tsx":  HeroComponent,
			"src/index.css": ".hero { color: red; }\n",
		},
	})
}

// WriteFile writes content, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// CreateTestConfig returns the default configuration rooted at projectDir
// with a short debounce suitable for tests.
func CreateTestConfig(projectDir string) *config.Config {
	cfg := config.Default()
	cfg.Resources.ProjectRoot = projectDir
	cfg.Server.Port = 0
	cfg.Watch.Debounce = 20 * time.Millisecond
	cfg.Publish.Timeout = 2 * time.Second
	return cfg
}

// WaitForFileChange waits for a file to be modified (useful for testing file watchers)
func WaitForFileChange(
	t *testing.T,
	filePath string,
	originalModTime time.Time,
	timeout time.Duration,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		info, err := os.Stat(filePath)
		if err == nil && info.ModTime().After(originalModTime) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("File %s was not modified within %v", filePath, timeout)
}
