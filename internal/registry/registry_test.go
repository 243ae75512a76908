package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/schema"
)

func newResource(typ, name, root string) *Resource {
	return &Resource{
		Type:        typ,
		Name:        name,
		RootPath:    root,
		DisplayName: name,
		Schema: schema.Schema{
			{Key: "heading", Field: &schema.TextField{Common: schema.Common{Required: true}}},
		},
		Package:      Manifest{Name: name, Version: "1.0.0"},
		PreviewState: map[string]interface{}{"heading": "Hello"},
	}
}

func TestRegistryAddAndGet(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(newResource("block", "hero", "/p/blocks/hero")))

	res, ok := reg.Get(Key{Type: "block", Name: "hero"})
	require.True(t, ok)
	assert.Equal(t, "hero", res.Name)
	assert.False(t, res.UpdatedAt.IsZero())
	assert.Equal(t, 1, reg.Count())

	_, ok = reg.Get(Key{Type: "template", Name: "hero"})
	assert.False(t, ok)
}

func TestRegistryNamesUniquePerType(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(newResource("block", "hero", "/p/blocks/hero")))
	require.NoError(t, reg.Add(newResource("template", "hero", "/p/templates/hero")))

	err := reg.Add(newResource("block", "hero", "/elsewhere/hero"))
	require.Error(t, err)
	assert.True(t, errors.HasErrorCode(err, errors.CodeInvalidRequest))
	assert.Equal(t, 2, reg.Count())
}

func TestRegistryAddRejectsInvalidKeys(t *testing.T) {
	reg := New()
	assert.Error(t, reg.Add(newResource("widget", "hero", "/p/hero")))
	assert.Error(t, reg.Add(newResource("block", "Bad Name", "/p/bad")))
	assert.Error(t, reg.Add(nil))
}

func TestRegistryGetReturnsSnapshot(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(newResource("block", "hero", "/p/blocks/hero")))
	key := Key{Type: "block", Name: "hero"}

	snap, _ := reg.Get(key)
	snap.DisplayName = "mutated"
	snap.PreviewState["heading"] = "mutated"

	again, _ := reg.Get(key)
	assert.Equal(t, "hero", again.DisplayName)
	assert.Equal(t, "Hello", again.PreviewState["heading"])
}

func TestRegistryListSorted(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(newResource("template", "landing", "/p/templates/landing")))
	require.NoError(t, reg.Add(newResource("block", "hero", "/p/blocks/hero")))
	require.NoError(t, reg.Add(newResource("block", "footer", "/p/blocks/footer")))

	var names []string
	for _, res := range reg.List() {
		names = append(names, res.Key().String())
	}
	assert.Equal(t, []string{"block/footer", "block/hero", "template/landing"}, names)

	keys := reg.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, Key{Type: "block", Name: "footer"}, keys[0])
}

func TestRegistryUpdate(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(newResource("block", "hero", "/p/blocks/hero")))
	key := Key{Type: "block", Name: "hero"}

	updated, err := reg.Update(key, func(res *Resource) error {
		res.DisplayName = "Hero Banner"
		res.Category = "marketing"
		res.Name = "renamed"
		res.RootPath = "/other"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hero Banner", updated.DisplayName)
	assert.Equal(t, "hero", updated.Name, "name is immutable")
	assert.Equal(t, "/p/blocks/hero", updated.RootPath, "root path is immutable")

	_, err = reg.Update(key, func(res *Resource) error {
		res.DisplayName = "discarded"
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	res, _ := reg.Get(key)
	assert.Equal(t, "Hero Banner", res.DisplayName, "failed update leaves the record untouched")

	_, err = reg.Update(Key{Type: "block", Name: "missing"}, func(*Resource) error { return nil })
	assert.True(t, errors.HasErrorCode(err, errors.CodeResourceNotFound))
}

func TestRegistryUpdateIsAtomicPerResource(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(newResource("block", "hero", "/p/blocks/hero")))
	key := Key{Type: "block", Name: "hero"}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Update(key, func(res *Resource) error {
				n, _ := res.PreviewState["count"].(int)
				res.PreviewState["count"] = n + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res, _ := reg.Get(key)
	assert.Equal(t, 100, res.PreviewState["count"])
}

func TestRegistryLookup(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(newResource("block", "hero", filepath.FromSlash("/p/blocks/hero"))))
	require.NoError(t, reg.Add(newResource("block", "hero-alt", filepath.FromSlash("/p/blocks/hero-alt"))))

	res, ok := reg.Lookup(filepath.FromSlash("/p/blocks/hero-alt/src/index.tsx"))
	require.True(t, ok)
	assert.Equal(t, "hero-alt", res.Name)

	res, ok = reg.Lookup(filepath.FromSlash("/p/blocks/hero"))
	require.True(t, ok)
	assert.Equal(t, "hero", res.Name)

	_, ok = reg.Lookup(filepath.FromSlash("/p/styles/global.css"))
	assert.False(t, ok)
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("block/hero")
	require.NoError(t, err)
	assert.Equal(t, Key{Type: "block", Name: "hero"}, key)
	assert.Equal(t, "block/hero", key.String())

	_, err = ParseKey("hero")
	assert.Error(t, err)
	_, err = ParseKey("widget/hero")
	assert.Error(t, err)
	_, err = ParseKey("block/../etc")
	assert.Error(t, err)
}

func TestSetPreviewState(t *testing.T) {
	dir := t.TempDir()
	reg := New()
	require.NoError(t, reg.Add(newResource("block", "hero", dir)))
	key := Key{Type: "block", Name: "hero"}

	res, err := reg.SetPreviewState(key, map[string]interface{}{"heading": "Welcome"})
	require.NoError(t, err)
	assert.Equal(t, "Welcome", res.PreviewState["heading"])

	onDisk, err := ReadPreviewState(dir)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", onDisk["heading"])

	_, err = reg.SetPreviewState(key, map[string]interface{}{"heading": 12})
	require.Error(t, err)
	assert.True(t, errors.HasErrorCode(err, errors.CodeInvalidRequest))

	current, _ := reg.Get(key)
	assert.Equal(t, "Welcome", current.PreviewState["heading"])

	_, err = reg.SetPreviewState(Key{Type: "block", Name: "nope"}, nil)
	assert.True(t, errors.HasErrorCode(err, errors.CodeResourceNotFound))
}

func TestReadPreviewState(t *testing.T) {
	dir := t.TempDir()

	state, err := ReadPreviewState(dir)
	require.NoError(t, err)
	assert.Empty(t, state)

	require.NoError(t, os.WriteFile(filepath.Join(dir, PreviewStateFile), []byte("[1,2]"), 0o644))
	_, err = ReadPreviewState(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, PreviewStateFile), []byte("null"), 0o644))
	state, err = ReadPreviewState(dir)
	require.NoError(t, err)
	assert.Empty(t, state)
}
