// Package registry holds the in-memory set of discovered resources. The
// registry is the only writer of a resource's mutable fields; every change
// goes through Update, which applies a read-modify-write atomically per
// resource without blocking other resources.
package registry

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/schema"
	"github.com/conneroisu/blockforge/internal/validation"
)

// Key identifies a resource within one running registry.
type Key struct {
	Type string `json:"type" yaml:"type"`
	Name string `json:"name" yaml:"name"`
}

func (k Key) String() string {
	return k.Type + "/" + k.Name
}

// ParseKey parses "type/name".
func ParseKey(s string) (Key, error) {
	typ, name, ok := strings.Cut(s, "/")
	if !ok {
		return Key{}, fmt.Errorf("invalid resource reference %q: expected <type>/<name>", s)
	}
	key := Key{Type: typ, Name: name}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}

// Validate checks both parts of the key.
func (k Key) Validate() error {
	if err := validation.ValidateResourceType(k.Type); err != nil {
		return err
	}
	return validation.ValidateResourceName(k.Name)
}

// Manifest is the package metadata read from package.json.
type Manifest struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// Resource is one block or template package.
type Resource struct {
	Type         string                 `json:"type" yaml:"type"`
	Name         string                 `json:"name" yaml:"name"`
	RootPath     string                 `json:"rootPath" yaml:"rootPath"`
	DisplayName  string                 `json:"displayName" yaml:"displayName"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Category     string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Tags         []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Entry        string                 `json:"entry,omitempty" yaml:"entry,omitempty"`
	ConfigFile   string                 `json:"configFile" yaml:"configFile"`
	Schema       schema.Schema          `json:"schema" yaml:"schema"`
	Package      Manifest               `json:"package" yaml:"package"`
	PreviewState map[string]interface{} `json:"previewState" yaml:"previewState"`
	UpdatedAt    time.Time              `json:"updatedAt" yaml:"updatedAt"`
}

// Key returns the registry key of the resource.
func (r *Resource) Key() Key {
	return Key{Type: r.Type, Name: r.Name}
}

// Clone returns a copy that shares no mutable state with r. Schema fields
// are treated as immutable values once parsed.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.Schema != nil {
		c.Schema = append(schema.Schema(nil), r.Schema...)
	}
	c.PreviewState = CloneState(r.PreviewState)
	return &c
}

// CloneState deep-copies a JSON-shaped state object.
func CloneState(state map[string]interface{}) map[string]interface{} {
	if state == nil {
		return map[string]interface{}{}
	}
	out, _ := cloneValue(state).(map[string]interface{})
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return val
	}
}

type entry struct {
	// mu serializes read-modify-write cycles on this resource only.
	mu       sync.Mutex
	resource atomic.Pointer[Resource]
}

// Registry manages all discovered resources.
type Registry struct {
	entries map[Key]*entry
	mutex   sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[Key]*entry),
	}
}

// Add registers a resource. Names are unique per type.
func (r *Registry) Add(res *Resource) error {
	if res == nil {
		return errors.ErrInvalidRequest("nil resource")
	}
	key := res.Key()
	if err := key.Validate(); err != nil {
		return errors.ErrInvalidRequest(err.Error()).WithResource(key.String())
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[key]; exists {
		return errors.ErrInvalidRequest("resource already registered").WithResource(key.String())
	}

	e := &entry{}
	stored := res.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	e.resource.Store(stored)
	r.entries[key] = e

	return nil
}

// Get returns a snapshot of the resource stored under key.
func (r *Registry) Get(key Key) (*Resource, bool) {
	r.mutex.RLock()
	e, ok := r.entries[key]
	r.mutex.RUnlock()
	if !ok {
		return nil, false
	}
	return e.resource.Load().Clone(), true
}

// Has reports whether key is registered.
func (r *Registry) Has(key Key) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, ok := r.entries[key]
	return ok
}

// List returns snapshots of all resources sorted by type then name.
func (r *Registry) List() []*Resource {
	r.mutex.RLock()
	result := make([]*Resource, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e.resource.Load().Clone())
	}
	r.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Type != result[j].Type {
			return result[i].Type < result[j].Type
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Keys returns every registered key sorted by type then name.
func (r *Registry) Keys() []Key {
	r.mutex.RLock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mutex.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

// Count returns the number of registered resources
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.entries)
}

// Update applies fn to a copy of the resource and stores the result. Calls
// for the same key are serialized; calls for different keys run in parallel.
// Type, Name and RootPath are immutable and restored if fn changes them.
func (r *Registry) Update(key Key, fn func(res *Resource) error) (*Resource, error) {
	r.mutex.RLock()
	e, ok := r.entries[key]
	r.mutex.RUnlock()
	if !ok {
		return nil, errors.ErrResourceNotFound(key.String())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.resource.Load()
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	next.Type = current.Type
	next.Name = current.Name
	next.RootPath = current.RootPath
	next.UpdatedAt = time.Now()

	e.resource.Store(next)
	return next.Clone(), nil
}

// Lookup returns the resource whose root directory contains path.
func (r *Registry) Lookup(path string) (*Resource, bool) {
	clean := filepath.Clean(path)

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var (
		best    *Resource
		bestLen int
	)
	for _, e := range r.entries {
		res := e.resource.Load()
		root := filepath.Clean(res.RootPath)
		if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
			continue
		}
		if len(root) > bestLen {
			best, bestLen = res, len(root)
		}
	}

	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}
