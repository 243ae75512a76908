package watcher

import (
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/blockforge/internal/registry"
)

type debounceState int

const (
	stateIdle debounceState = iota
	stateDebouncing
	stateRebuilding
)

func (s debounceState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDebouncing:
		return "debouncing"
	case stateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// batch is the coalesced work of one debounce window.
type batch struct {
	global  bool
	configs map[registry.Key]bool
	sources map[registry.Key]bool
}

func newBatch() *batch {
	return &batch{
		configs: make(map[registry.Key]bool),
		sources: make(map[registry.Key]bool),
	}
}

func (b *batch) add(a Action) {
	switch a.Kind {
	case ActionGlobal:
		b.global = true
	case ActionConfig:
		b.configs[a.Resource] = true
	case ActionSource:
		b.sources[a.Resource] = true
	}
}

func (b *batch) empty() bool {
	return !b.global && len(b.configs) == 0 && len(b.sources) == 0
}

// keys returns every resource named by the batch, sorted.
func (b *batch) keys() []registry.Key {
	seen := make(map[registry.Key]bool, len(b.configs)+len(b.sources))
	for k := range b.configs {
		seen[k] = true
	}
	for k := range b.sources {
		seen[k] = true
	}
	keys := make([]registry.Key, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// rootDebouncer coalesces the events of one watched root.
//
//	idle --event--> debouncing --quiet period--> rebuilding --done--> idle
//
// Events during debouncing restart the quiet period. Events during
// rebuilding accumulate in pending; when the rebuild finishes the debouncer
// goes back to debouncing instead of idle, so nothing is lost.
type rootDebouncer struct {
	root  string
	delay time.Duration
	run   func(*batch)

	mu      sync.Mutex
	cond    *sync.Cond
	state   debounceState
	pending *batch
	timer   *time.Timer
	gen     uint64
	closed  bool
}

func newRootDebouncer(root string, delay time.Duration, run func(*batch)) *rootDebouncer {
	d := &rootDebouncer{
		root:    root,
		delay:   delay,
		run:     run,
		pending: newBatch(),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *rootDebouncer) add(a Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.pending.add(a)
	switch d.state {
	case stateIdle:
		d.state = stateDebouncing
		d.armLocked()
	case stateDebouncing:
		d.armLocked()
	case stateRebuilding:
		// Picked up when the current rebuild finishes.
	}
}

// armLocked (re)starts the quiet-period timer. A timer that already fired
// carries a stale generation and does nothing.
func (d *rootDebouncer) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *rootDebouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || d.state != stateDebouncing || gen != d.gen {
		d.mu.Unlock()
		return
	}
	work := d.pending
	d.pending = newBatch()
	d.state = stateRebuilding
	d.cond.Broadcast()
	d.mu.Unlock()

	d.run(work)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed && !d.pending.empty() {
		d.state = stateDebouncing
		d.armLocked()
	} else {
		d.state = stateIdle
	}
	d.cond.Broadcast()
}

// drain runs pending work immediately and returns once the root is idle.
func (d *rootDebouncer) drain() {
	d.mu.Lock()
	for d.state != stateIdle && !d.closed {
		if d.state == stateDebouncing {
			if d.timer != nil {
				d.timer.Stop()
			}
			d.gen++
			gen := d.gen
			d.mu.Unlock()
			d.fire(gen)
			d.mu.Lock()
			continue
		}
		d.cond.Wait()
	}
	d.mu.Unlock()
}

func (d *rootDebouncer) currentState() debounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *rootDebouncer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.cond.Broadcast()
}
