package backends

import (
	"context"
	"fmt"
	"sync"
)

// Registry holds the available backends by name. The hardware client can be
// swapped at runtime when credentials or the target change.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds or replaces a backend under its name.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return b, nil
}

// Names lists registered backend names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// Statuses polls every registered backend.
func (r *Registry) Statuses(ctx context.Context) []Status {
	r.mu.RLock()
	list := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		list = append(list, b)
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(list))
	for _, b := range list {
		status, err := b.Status(ctx)
		if err != nil {
			status = Status{Backend: b.Name(), Available: false, Detail: err.Error()}
		}
		statuses = append(statuses, status)
	}
	return statuses
}
