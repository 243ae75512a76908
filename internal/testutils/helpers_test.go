package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTempProject(t *testing.T) {
	dir := CreateTempProject(t)

	for _, sub := range []string{"blocks", "templates", "styles"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestWriteHero(t *testing.T) {
	dir := CreateTempProject(t)
	root := WriteHero(t, dir)

	assert.Equal(t, filepath.Join(dir, "blocks", "hero"), root)
	assert.FileExists(t, filepath.Join(root, "config.yaml"))
	assert.FileExists(t, filepath.Join(root, "package.json"))
	assert.FileExists(t, filepath.Join(root, "src", "index.tsx"))
}

func TestCreateTestConfig(t *testing.T) {
	cfg := CreateTestConfig("/tmp/project")

	assert.Equal(t, "/tmp/project", cfg.Resources.ProjectRoot)
	assert.Equal(t, 0, cfg.Server.Port)
	assert.Equal(t, 20*time.Millisecond, cfg.Watch.Debounce)
}

func TestWaitForFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	WriteFile(t, path, "one")

	info, err := os.Stat(path)
	require.NoError(t, err)
	original := info.ModTime()

	go func() {
		time.Sleep(20 * time.Millisecond)
		later := original.Add(time.Second)
		_ = os.Chtimes(path, later, later)
	}()

	WaitForFileChange(t, path, original, time.Second)
}
