// Package stream implements the stream routing registry and per-stream
// state: the mapping from a connection's stream identifier to a logical
// stream, "one publisher per stream" enforcement, and the priming/fan-out
// state each live stream owns.
package stream

import "fmt"

// Key is the canonical 3-tuple identifier for a publishing stream:
// host/app/stream, always the *uplive* (publish side) host and app.
// Subscribers resolve to the same Key regardless of which player-facing
// domain/app they connected through.
type Key struct {
	Host   string
	App    string
	Stream string
}

// NewKey builds a Key from its three segments.
func NewKey(host, app, stream string) Key {
	return Key{Host: host, App: app, Stream: stream}
}

// String renders the canonical "host/app/stream" form used in logs and the
// stats API.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Host, k.App, k.Stream)
}

// AppPath is the "host/app" prefix of the key, used to key the registry's
// app-level config and ACL maps.
func (k Key) AppPath() string {
	return fmt.Sprintf("%s/%s", k.Host, k.App)
}
