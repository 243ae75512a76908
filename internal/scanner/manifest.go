package scanner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/registry"
)

// DefaultVersion is used when a resource has no usable manifest version.
const DefaultVersion = "0.0.0"

type packageJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// LoadManifest reads package.json in dir. When the manifest is missing or
// unusable it returns a fallback manifest named after the directory together
// with a SCAN_WARNING error; callers may keep the fallback.
func LoadManifest(dir string) (registry.Manifest, error) {
	fallback := registry.Manifest{Name: filepath.Base(dir), Version: DefaultVersion}
	path := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fallback, errors.NewScanWarning(dir, "no package.json, using "+fallback.Name+"@"+DefaultVersion, nil)
	}
	if err != nil {
		return fallback, errors.NewScanWarning(dir, "failed to read package.json", err).WithLocation(path, 0, 0)
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return fallback, errors.NewScanWarning(dir, "invalid package.json", err).WithLocation(path, 0, 0)
	}

	manifest := registry.Manifest{
		Name:    strings.TrimSpace(pkg.Name),
		Version: strings.TrimSpace(pkg.Version),
	}
	if manifest.Name == "" {
		manifest.Name = fallback.Name
	}
	if manifest.Version == "" {
		manifest.Version = DefaultVersion
		return manifest, errors.NewScanWarning(dir, "package.json has no version, using "+DefaultVersion, nil).WithLocation(path, 0, 0)
	}

	return manifest, nil
}
