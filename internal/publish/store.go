package publish

import (
	"sync"

	"github.com/conneroisu/blockforge/internal/errors"
)

// Store holds tasks. The tracker is its only writer.
type Store interface {
	Insert(task *Task) error
	Get(id string) (*Task, bool)
	// Update applies fn to the stored task atomically and returns a copy
	// of the result.
	Update(id string, fn func(*Task) error) (*Task, error)
	Remove(id string)
	// ForEach visits copies of every task until fn returns false.
	ForEach(fn func(*Task) bool)
	Len() int
}

// MemoryStore keeps tasks in process memory for the life of the server.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func (m *MemoryStore) Insert(task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; exists {
		return errors.NewInternalError(errors.CodeInternal, "duplicate task id "+task.ID, nil)
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *MemoryStore) Get(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

func (m *MemoryStore) Update(id string, fn func(*Task) error) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, errors.NewValidationError(errors.CodeResourceNotFound, "task not found").
			WithContext("task", id)
	}

	next := task.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.tasks[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

func (m *MemoryStore) ForEach(fn func(*Task) bool) {
	m.mu.RLock()
	snapshot := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		snapshot = append(snapshot, task.Clone())
	}
	m.mu.RUnlock()

	for _, task := range snapshot {
		if !fn(task) {
			return
		}
	}
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
