package build

import (
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/blockforge/internal/registry"
)

// BuildStats is a point-in-time view of BuildMetrics.
type BuildStats struct {
	Attempts  int64            `json:"attempts"`
	Failures  int64            `json:"failures"`
	ByCode    map[string]int64 `json:"by_code,omitempty"`
	Failing   []string         `json:"failing,omitempty"`
	Average   time.Duration    `json:"average"`
	Slowest   time.Duration    `json:"slowest"`
	LastBuild time.Time        `json:"last_build"`
}

// SuccessRate is the share of successful attempts, in percent.
func (s BuildStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Attempts-s.Failures) / float64(s.Attempts) * 100
}

// BuildMetrics aggregates build attempts across resources. A resource counts
// as failing while its most recent attempt failed.
type BuildMetrics struct {
	mu      sync.Mutex
	total   time.Duration
	stats   BuildStats
	failing map[registry.Key]struct{}
}

func newBuildMetrics() *BuildMetrics {
	return &BuildMetrics{
		stats:   BuildStats{ByCode: make(map[string]int64)},
		failing: make(map[registry.Key]struct{}),
	}
}

func (m *BuildMetrics) record(a *Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Attempts++
	m.total += a.Duration
	m.stats.Average = m.total / time.Duration(m.stats.Attempts)
	if a.Duration > m.stats.Slowest {
		m.stats.Slowest = a.Duration
	}
	if a.BuiltAt.After(m.stats.LastBuild) {
		m.stats.LastBuild = a.BuiltAt
	}

	if a.OK() {
		delete(m.failing, a.Resource)
		return
	}
	m.stats.Failures++
	m.stats.ByCode[a.Code]++
	m.failing[a.Resource] = struct{}{}
}

// Snapshot copies the current figures. Failing is sorted.
func (m *BuildMetrics) Snapshot() BuildStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.stats
	out.ByCode = make(map[string]int64, len(m.stats.ByCode))
	for code, n := range m.stats.ByCode {
		out.ByCode[code] = n
	}
	out.Failing = make([]string, 0, len(m.failing))
	for key := range m.failing {
		out.Failing = append(out.Failing, key.String())
	}
	sort.Strings(out.Failing)
	return out
}
