package build

import (
	"context"
	"sync"

	"github.com/conneroisu/blockforge/internal/registry"
)

// ArtifactStore keeps the latest attempt and the last successful artifact
// of every resource. Builds of the same resource are serialized; builds of
// different resources never wait on each other.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[registry.Key]*storeEntry
	metrics *BuildMetrics
}

type storeEntry struct {
	build    sync.Mutex
	latest   *Artifact
	lastGood *Artifact
}

// NewArtifactStore creates an empty store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		entries: make(map[registry.Key]*storeEntry),
		metrics: newBuildMetrics(),
	}
}

func (s *ArtifactStore) entry(key registry.Key) *storeEntry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; !ok {
		e = &storeEntry{}
		s.entries[key] = e
	}
	return e
}

// Record stores an artifact as the latest attempt, and as the last good
// artifact when it succeeded.
func (s *ArtifactStore) Record(artifact *Artifact) {
	e := s.entry(artifact.Resource)

	s.mu.Lock()
	e.latest = artifact
	if artifact.OK() {
		e.lastGood = artifact
	}
	s.mu.Unlock()

	s.metrics.record(artifact)
}

// Latest returns the most recent attempt for key.
func (s *ArtifactStore) Latest(key registry.Key) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.latest == nil {
		return nil, false
	}
	return e.latest, true
}

// LastGood returns the most recent successful artifact for key.
func (s *ArtifactStore) LastGood(key registry.Key) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.lastGood == nil {
		return nil, false
	}
	return e.lastGood, true
}

// Build runs fn while holding the per-resource build lock and records its
// result.
func (s *ArtifactStore) Build(ctx context.Context, key registry.Key, fn func(ctx context.Context) *Artifact) *Artifact {
	e := s.entry(key)
	e.build.Lock()
	defer e.build.Unlock()

	artifact := fn(ctx)
	s.Record(artifact)
	return artifact
}

// Metrics returns the store's build metrics.
func (s *ArtifactStore) Metrics() *BuildMetrics {
	return s.metrics
}
