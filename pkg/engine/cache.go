package engine

import (
	"sync"

	"pkengine/pkg/manager"
)

// Update is one entry of a GetUpdates result.
type Update struct {
	Package manager.Package
	Info    Info

	// Replaces is the installed package the update supersedes, if any.
	Replaces *manager.Package
}

// UpdateCache holds the last GetUpdates result. It has a single slot
// tagged with the backend that filled it: Set overwrites it, Invalidate
// clears it, and a lookup for another backend misses. Mutating roles
// invalidate it while still holding the backend lock.
type UpdateCache struct {
	mu      sync.Mutex
	backend string
	updates []Update
	valid   bool
}

// NewUpdateCache creates an empty cache.
func NewUpdateCache() *UpdateCache {
	return &UpdateCache{}
}

// Get returns a copy of the updates cached for backend, or false when the
// slot is empty or was filled by another backend.
func (c *UpdateCache) Get(backend string) ([]Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.backend != backend {
		return nil, false
	}
	out := make([]Update, len(c.updates))
	copy(out, c.updates)
	return out, true
}

// Set stores the updates of backend, replacing whatever was cached.
func (c *UpdateCache) Set(backend string, updates []Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = backend
	c.updates = make([]Update, len(updates))
	copy(c.updates, updates)
	c.valid = true
}

// Invalidate clears the slot.
func (c *UpdateCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = ""
	c.updates = nil
	c.valid = false
}

// Valid reports whether the slot holds a result for any backend.
func (c *UpdateCache) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}
