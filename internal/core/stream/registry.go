package stream

import (
	"sync"

	"github.com/srtrelay/srtrelay/internal/relayerr"
)

// Registry is the stream routing table: it maps a publisher-domain app to
// its configuration and ACLs, maps player-facing domains back to the
// publisher app they serve, and tracks which uplive keys currently have a
// live Stream.
type Registry struct {
	mu sync.RWMutex

	apps       map[string]*AppConfig // uplive "host/app" -> config
	liveToUp   map[string]string     // player "host/app" -> uplive "host/app"
	streams    map[Key]*Stream
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		apps:     make(map[string]*AppConfig),
		liveToUp: make(map[string]string),
		streams:  make(map[Key]*Stream),
	}
}

// RegisterApp installs or replaces the configuration for one uplive app,
// along with the player-facing aliases that resolve to it. Called during
// boot and on every reload, so a reload is idempotent with respect to the
// app blocks it installs.
func (r *Registry) RegisterApp(cfg AppConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Drop any stale aliases this app previously owned before installing
	// the new set, so a reload that removes an alias actually removes it.
	for alias, up := range r.liveToUp {
		if up == cfg.UplivePath {
			delete(r.liveToUp, alias)
		}
	}

	cfgCopy := cfg
	r.apps[cfg.UplivePath] = &cfgCopy
	for _, alias := range cfg.LivePaths {
		r.liveToUp[alias] = cfg.UplivePath
	}
}

// RemoveApp drops an uplive app's configuration and aliases. Streams already
// live under it are left running until they end on their own.
func (r *Registry) RemoveApp(uplivePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.apps, uplivePath)
	for alias, up := range r.liveToUp {
		if up == uplivePath {
			delete(r.liveToUp, alias)
		}
	}
}

// Apps returns a snapshot of all configured uplive app paths.
func (r *Registry) Apps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.apps))
	for k := range r.apps {
		out = append(out, k)
	}
	return out
}

// AppConfig returns the configuration for an uplive app, if configured.
func (r *Registry) AppConfig(uplivePath string) (AppConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.apps[uplivePath]
	if !ok {
		return AppConfig{}, false
	}
	return *cfg, true
}

// IsUplive reports whether hostApp is itself a configured publisher app.
func (r *Registry) IsUplive(hostApp string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.apps[hostApp]
	return ok
}

// Resolve returns the uplive app a player-facing "host/app" maps to.
func (r *Registry) Resolve(hostApp string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	up, ok := r.liveToUp[hostApp]
	return up, ok
}

// GetACL returns the publish and play ACL lists for an uplive app.
func (r *Registry) GetACL(uplivePath string) (publish, play []ACLEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.apps[uplivePath]
	if !ok {
		return nil, nil
	}
	return cfg.PublishACL, cfg.PlayACL
}

// GetOrCreateStream returns the Stream for key, creating an empty one with
// the given RingBuffer capacity if it doesn't exist yet. The bool result is
// true when a new Stream was created.
func (r *Registry) GetOrCreateStream(key Key, capacity uint64) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[key]; ok {
		return s, false
	}
	s := NewStream(key, capacity)
	r.streams[key] = s
	return s, true
}

// GetStream returns the Stream bound to key, or nil if none exists.
func (r *Registry) GetStream(key Key) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[key]
}

// RegisterPublisher binds pub as the publisher for key's stream, creating
// the stream if needed. Returns relayerr.ErrAlreadyPublishing if a
// publisher is already bound.
func (r *Registry) RegisterPublisher(key Key, pub Publisher, capacity uint64) (*Stream, error) {
	s, _ := r.GetOrCreateStream(key, capacity)
	if !s.AttachPublisher(pub) {
		return nil, relayerr.New(relayerr.KindAlreadyPublishing, key.String(), nil)
	}
	return s, nil
}

// GetPublisher returns the Stream's bound publisher, if any.
func (r *Registry) GetPublisher(key Key) (Publisher, bool) {
	s := r.GetStream(key)
	if s == nil {
		return nil, false
	}
	return s.GetPublisher()
}

// RemoveStreamIfEmpty deletes key's Stream entry if it has neither a
// publisher nor subscribers.
func (r *Registry) RemoveStreamIfEmpty(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[key]
	if !ok {
		return false
	}
	if !s.IsEmpty() {
		return false
	}
	delete(r.streams, key)
	return true
}

// StreamKeys returns a snapshot of all currently tracked stream keys.
func (r *Registry) StreamKeys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, 0, len(r.streams))
	for k := range r.streams {
		out = append(out, k)
	}
	return out
}
