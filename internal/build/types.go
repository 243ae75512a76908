package build

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/schema"
)

// GenerateTypes writes the TypeScript props interface of res next to its
// config. The file is rewritten only when its content changes so editors
// and the watcher see no spurious writes. It reports whether it wrote.
func GenerateTypes(res *registry.Resource) (bool, error) {
	path := filepath.Join(res.RootPath, schema.TypesFileName)
	content := []byte(schema.GenerateTypeScript(schema.InterfaceName(res.Name), res.Schema))

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}

	if err := writeFileAtomic(path, content); err != nil {
		return false, err
	}
	return true, nil
}
