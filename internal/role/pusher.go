package role

import (
	"time"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

// Pusher is the Role bound to a relay's outbound connection to a remote
// upstream: it reads the local Stream like a Player, but its cleanup hook is
// relay-owned so the RelayManager can schedule a reconnect for a "push"
// relay.
type Pusher struct {
	subscriber
	remoteURL string
}

// NewPusher wires conn (already dialed to remoteURL) as a push destination
// reading from st. cleanup is the RelayManager's hook for recording the
// failure and scheduling the next reconnect attempt.
func NewPusher(conn srt.Conn, st *stream.Stream, remoteURL string, idleTimeout time.Duration, cleanup func(reason error)) *Pusher {
	p := &Pusher{
		subscriber: newSubscriber(KindPusher, conn, st, idleTimeout, cleanup),
		remoteURL:  remoteURL,
	}
	p.attach(p)
	return p
}

// RemoteURL returns the upstream URL this Pusher delivers to.
func (p *Pusher) RemoteURL() string { return p.remoteURL }

func (p *Pusher) Uninit() { p.runUninit() }
