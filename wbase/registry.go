package wbase

import "sync"

// Registry tracks in-flight tasks by hash for introspection (the
// TodoList-equivalent debug aid in
// original_source/worker/include/lsst/qserv/worker/TodoList.h), letting
// an operator or test ask "what is this worker doing right now" without
// threading that visibility through every scheduler.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.Hash()] = t
}

func (r *Registry) Remove(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, t.Hash())
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Snapshot returns the currently tracked tasks. The returned slice is a
// copy; mutating it does not affect the registry.
func (r *Registry) Snapshot() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}
