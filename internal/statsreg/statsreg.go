// Package statsreg tracks the currently active publisher-side Roles
// (Publisher and Puller) so the HTTP stats API's GET /stats handler can
// snapshot their counters without reaching into a Worker's internal map.
package statsreg

import (
	"sync"

	"github.com/srtrelay/srtrelay/internal/role"
)

// Registry is a concurrency-safe map from stream key to the Capability
// currently acting as its publisher.
type Registry struct {
	mu  sync.RWMutex
	byKey map[string]role.Capability
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{byKey: make(map[string]role.Capability)}
}

// Put records c as the active publisher-side Role for its stream key.
// Called whenever a Listener or RelayManager binds a Publisher or Puller.
func (r *Registry) Put(c role.Capability) {
	switch c.Kind() {
	case role.KindPublisher, role.KindPuller:
	default:
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[c.StreamKey().String()] = c
}

// Remove drops the tracked Role for key, if its identity matches id (so a
// newer publisher that has already replaced it is never evicted by an old
// one's teardown).
func (r *Registry) Remove(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byKey[key]; ok && c.ID() == id {
		delete(r.byKey, key)
	}
}

// Get returns the active publisher-side Role for key, if any.
func (r *Registry) Get(key string) (role.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byKey[key]
	return c, ok
}

// Snapshot returns a copy of every tracked key -> Stats pair.
func (r *Registry) Snapshot() map[string]role.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]role.Stats, len(r.byKey))
	for k, c := range r.byKey {
		out[k] = c.Stats()
	}
	return out
}

// Reset zeroes the interval counters for a single publisher (the `reset=1`
// query param), if it implements Resettable.
func (r *Registry) Reset(key string) {
	r.mu.RLock()
	c, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if rs, ok := c.(role.Resettable); ok {
		rs.ResetStats()
	}
}

// ResetAll zeroes the interval counters for every tracked publisher.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byKey {
		if rs, ok := c.(role.Resettable); ok {
			rs.ResetStats()
		}
	}
}
