package task

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the tasks known to one spindle invocation.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register adds a task. Names are unique within a registry.
func (r *Registry) Register(t *Task) error {
	if t == nil {
		return fmt.Errorf("cannot register a nil task")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.Name()]; exists {
		return fmt.Errorf("task %s is already registered", t.Name())
	}
	r.tasks[t.Name()] = t
	return nil
}

// MustRegister is Register for package init code; it panics on error.
func (r *Registry) MustRegister(t *Task, err error) *Task {
	if err != nil {
		panic(err)
	}
	if err := r.Register(t); err != nil {
		panic(err)
	}
	return t
}

func (r *Registry) Get(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
