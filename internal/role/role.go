// Package role implements the per-connection state machine: every accepted
// SRT connection, and every relay-initiated pull or push connection, is
// wrapped in a Role that the owning Worker drives through
// on_readable/on_writable/check_state/uninit without the Worker ever needing
// to know which concrete kind it is.
package role

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/relayerr"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

// Kind identifies the four connection roles: publisher, player, puller,
// and pusher.
type Kind uint8

const (
	KindPublisher Kind = iota
	KindPlayer
	KindPuller
	KindPusher
)

func (k Kind) String() string {
	switch k {
	case KindPublisher:
		return "publisher"
	case KindPlayer:
		return "player"
	case KindPuller:
		return "puller"
	case KindPusher:
		return "pusher"
	default:
		return "unknown"
	}
}

// State is a Role's connection lifecycle: it starts Initializing, becomes
// Running once its handshake-equivalent setup is done, and moves to
// Invalid the moment it must be torn down. Uninitialized is the terminal
// state after Uninit has run.
type State uint8

const (
	StateInitializing State = iota
	StateRunning
	StateInvalid
	StateUninitialized
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateInvalid:
		return "invalid"
	case StateUninitialized:
		return "uninitialized"
	default:
		return "unknown"
	}
}

// Stats is the per-Role counter set exposed through the HTTP stats API and
// the periodic stat_post_url push report for each connection.
type Stats struct {
	BytesIn, BytesOut uint64
	Start             time.Time
	PeerAddr          string
	SRT               srt.Stats
}

// Capability is the narrow surface a Worker drives a Role through. A Worker
// never holds a concrete *Publisher/*Player/etc, only this interface and the
// fd it is registered under.
type Capability interface {
	ID() uint64
	Kind() Kind
	StreamKey() stream.Key
	State() State
	Socket() srt.Conn

	// OnReadable is invoked when the underlying socket has data ready; for
	// subscriber-side roles this is a no-op drain of protocol control
	// traffic, never media.
	OnReadable() error
	// OnWritable is invoked when the underlying socket can accept more
	// bytes; for publisher-side roles it is unused.
	OnWritable() error
	// CheckState re-evaluates idle timeout and socket health and returns the
	// Role's current State.
	CheckState(now time.Time) State
	// Uninit releases the Role's resources exactly once: closes the socket,
	// detaches from its Stream, and runs any relay-specific cleanup (e.g.
	// enqueuing a reconnect).
	Uninit()
	// Stats returns a snapshot of the Role's counters.
	Stats() Stats
}

// Resettable is implemented by every Role (via base) so the stats API can
// clear interval counters on `reset=1` through a type assertion against
// the Capability it already holds.
type Resettable interface {
	ResetStats()
}

var nextID atomic.Uint64

// NextID hands out a process-wide unique Role identity.
func NextID() uint64 { return nextID.Add(1) }

// base holds the fields and mechanics every Role kind shares: identity,
// socket, stream binding, idle tracking, and the run-exactly-once Uninit
// guard. Concrete Role types embed base and add their own OnReadable /
// OnWritable behavior.
type base struct {
	id        uint64
	kind      Kind
	conn      srt.Conn
	streamKey stream.Key

	state atomic.Int32 // State

	idleTimeout     time.Duration
	idleDeadlineMS  atomic.Int64
	lastActivityErr atomic.Value // error, nil-safe via wrapper

	startTime time.Time
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64

	uninitOnce sync.Once
	cleanup    func(reason error)
	invalidErr atomic.Value // error
}

func newBase(kind Kind, conn srt.Conn, key stream.Key, idleTimeout time.Duration, cleanup func(reason error)) base {
	b := base{
		id:          NextID(),
		kind:        kind,
		conn:        conn,
		streamKey:   key,
		idleTimeout: idleTimeout,
		startTime:   time.Now(),
		cleanup:     cleanup,
	}
	b.state.Store(int32(StateInitializing))
	b.touch()
	return b
}

func (b *base) ID() uint64            { return b.id }
func (b *base) Kind() Kind            { return b.kind }
func (b *base) StreamKey() stream.Key { return b.streamKey }
func (b *base) Socket() srt.Conn      { return b.conn }
func (b *base) State() State          { return State(b.state.Load()) }

func (b *base) setState(s State) { b.state.Store(int32(s)) }

// touch records activity now, pushing the idle deadline forward. Called on
// every successful read or write.
func (b *base) touch() {
	if b.idleTimeout <= 0 {
		return
	}
	b.idleDeadlineMS.Store(time.Now().Add(b.idleTimeout).UnixMilli())
}

// markInvalid records the reason a Role is being torn down and flips it to
// Invalid, unless it is already further along (Uninitialized).
func (b *base) markInvalid(reason error) {
	for {
		cur := State(b.state.Load())
		if cur == StateInvalid || cur == StateUninitialized {
			return
		}
		if b.state.CompareAndSwap(int32(cur), int32(StateInvalid)) {
			if reason != nil {
				b.invalidErr.Store(reason)
			}
			return
		}
	}
}

// Invalidate implements stream.Subscriber: the stream calls this when a
// publisher tears down or an overrun is detected, from whatever goroutine
// owns the stream's mutex. It must not block.
func (b *base) Invalidate(reason error) { b.markInvalid(reason) }

// checkIdle returns StateInvalid (with ErrIdleTimeout recorded) if the idle
// deadline has passed, else the Role's current state unchanged.
func (b *base) checkIdle(now time.Time) State {
	cur := State(b.state.Load())
	if cur != StateRunning {
		return cur
	}
	if b.idleTimeout <= 0 {
		return cur
	}
	deadline := b.idleDeadlineMS.Load()
	if deadline != 0 && now.UnixMilli() > deadline {
		b.markInvalid(relayerr.New(relayerr.KindIdleTimeout, b.streamKey.String(), nil))
		return StateInvalid
	}
	return cur
}

// runUninit closes the socket and runs the kind-specific cleanup hook
// exactly once, then marks the Role Uninitialized.
func (b *base) runUninit() {
	b.uninitOnce.Do(func() {
		if b.conn != nil {
			_ = b.conn.Close()
		}
		var reason error
		if v := b.invalidErr.Load(); v != nil {
			reason, _ = v.(error)
		}
		if b.cleanup != nil {
			b.cleanup(reason)
		}
		b.state.Store(int32(StateUninitialized))
	})
}

// ResetStats zeroes the byte counters, implementing the `reset=1` behavior
// of GET /stats without disturbing the connection itself.
func (b *base) ResetStats() {
	b.bytesIn.Store(0)
	b.bytesOut.Store(0)
}

// Stats implements Capability.Stats for every embedding Role type.
func (b *base) Stats() Stats {
	st := Stats{
		BytesIn:  b.bytesIn.Load(),
		BytesOut: b.bytesOut.Load(),
		Start:    b.startTime,
	}
	if b.conn != nil {
		st.SRT = b.conn.Stats()
		st.PeerAddr = b.conn.RemoteAddr().String()
	}
	return st
}
