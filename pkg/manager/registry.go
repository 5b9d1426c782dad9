package manager

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured backend instances and the default one.
type Registry struct {
	backends map[string]Backend
	def      string
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend. The first backend registered becomes the default.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
	if r.def == "" {
		r.def = b.Name()
	}
}

// SetDefault selects the default backend by name.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("backend %q is not registered", name)
	}
	r.def = name
	return nil
}

// Default returns the default backend, or nil when none is registered.
func (r *Registry) Default() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.def]
}

// Get returns a specific backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Lookup returns the named backend, or the default when name is empty.
func (r *Registry) Lookup(name string) (Backend, error) {
	if name == "" {
		if b := r.Default(); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("no backend registered")
	}
	b, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
	return b, nil
}

// Names returns all registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
