// Package listener implements the SRT accept loop: parsing a connection's
// stream identifier, resolving it to a publisher or player attempt,
// applying the app's ACL, and handing the resulting Role to a Worker.
package listener

import (
	"context"
	"net"
	"strings"
	"sync/atomic"
	"time"

	gosrt "github.com/datarhei/gosrt"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/relay"
	"github.com/srtrelay/srtrelay/internal/relayerr"
	"github.com/srtrelay/srtrelay/internal/role"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
	"github.com/srtrelay/srtrelay/internal/worker"
)

// Dispatcher hands a completed Role to the next Worker, round-robin.
type Dispatcher interface {
	Dispatch(role.Capability)
}

// EventNotifier fires the on_event_url callback for a publish/play
// start/stop transition. Implementations must not block the caller — the
// Listener and Role cleanup paths invoke it synchronously.
type EventNotifier interface {
	Notify(event, streamKey string)
}

// WorkerPool round-robins Roles across a fixed set of Workers, skipping any
// that have reached worker_connections.
type WorkerPool struct {
	workers []*worker.Worker
	next    atomic.Uint64

	// OnDispatch, if set, is called with every Role handed to a Worker —
	// the hook statsreg uses to start tracking a publisher-side Role's
	// counters without the pool needing to know about stats at all.
	OnDispatch func(role.Capability)
}

// NewWorkerPool wraps an already-running set of Workers.
func NewWorkerPool(workers []*worker.Worker) *WorkerPool {
	return &WorkerPool{workers: workers}
}

// Dispatch implements Dispatcher and relay.Dispatcher.
func (p *WorkerPool) Dispatch(c role.Capability) {
	if len(p.workers) == 0 {
		c.Uninit()
		return
	}
	start := int(p.next.Add(1) % uint64(len(p.workers)))
	for i := 0; i < len(p.workers); i++ {
		w := p.workers[(start+i)%len(p.workers)]
		if w.HasCapacity() {
			w.Submit(c)
			if p.OnDispatch != nil {
				p.OnDispatch(c)
			}
			return
		}
	}
	// Every Worker is at capacity; drop the Role rather than block the caller.
	c.Uninit()
}

// Config is one `server { }` block's Listener configuration.
type Config struct {
	Listen             string
	Backlog            int
	Latency            time.Duration
	IdleStreamsTimeout time.Duration
	RingCapacity       uint64
	AcceptRatePerSec   float64
}

// Listener binds one SRT socket and routes accepted connections into
// publisher or player Roles against a shared Registry.
type Listener struct {
	cfg      Config
	ln       *srt.Listener
	registry *stream.Registry
	dispatch Dispatcher
	// pullRelays maps an uplive "host/app" to the single pull relay
	// configured for it, if any.
	pullRelays map[string]*relay.Manager
	// pushRelays maps an uplive "host/app" to every push relay configured
	// for it; an app may declare more than one.
	pushRelays map[string][]*relay.Manager
	limiter    *rate.Limiter
	events     EventNotifier
	log        zerolog.Logger
}

// New binds the SRT listener socket. events may be nil when the server
// block has no on_event_url configured.
func New(cfg Config, registry *stream.Registry, dispatch Dispatcher, pullRelays map[string]*relay.Manager, pushRelays map[string][]*relay.Manager, events EventNotifier, log zerolog.Logger) (*Listener, error) {
	ln, err := srt.Listen(cfg.Listen, srt.Config{Latency: cfg.Latency, Backlog: cfg.Backlog})
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if cfg.AcceptRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRatePerSec), int(cfg.AcceptRatePerSec)+1)
	}
	return &Listener{
		cfg:        cfg,
		ln:         ln,
		registry:   registry,
		dispatch:   dispatch,
		pullRelays: pullRelays,
		pushRelays: pushRelays,
		limiter:    limiter,
		events:     events,
		log:        log,
	}, nil
}

func (l *Listener) notify(event, streamKey string) {
	if l.events != nil {
		l.events.Notify(event, streamKey)
	}
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// acceptAll is the decide callback handed to the transport Listener: ACL and
// routing decisions happen after the handshake completes, against the
// connection's peer address and parsed stream-id, not during it — the
// handshake itself is the only thing gosrt needs a verdict on before it
// completes.
func acceptAll(string) gosrt.ConnType { return gosrt.SUBSCRIBE }

// Run accepts connections until ctx is canceled.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return
			}
		}
		conn, err := l.ln.Accept(acceptAll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn().Err(err).Msg("srt accept failed")
			continue
		}
		l.handle(conn)
	}
}

func (l *Listener) reject(conn srt.Conn, kind relayerr.Kind, op string) {
	l.log.Info().Str("kind", kind.String()).Str("op", op).Str("peer", conn.RemoteAddr().String()).Msg("rejecting connection")
	_ = conn.Close()
}

func (l *Listener) handle(conn srt.Conn) {
	host, app, streamName, err := ParseStreamID(conn.StreamID())
	if err != nil {
		l.reject(conn, relayerr.KindBadStreamID, "parse-stream-id")
		return
	}
	hostApp := host + "/" + app
	peerIP := peerAddrIP(conn.RemoteAddr())

	if uplive, ok := l.registry.Resolve(hostApp); ok {
		l.handlePlayer(conn, uplive, streamName, peerIP)
		return
	}
	if l.registry.IsUplive(hostApp) {
		l.handlePublisher(conn, host, app, streamName, peerIP)
		return
	}
	l.reject(conn, relayerr.KindBadStreamID, "unrecognized-app")
}

func (l *Listener) handlePublisher(conn srt.Conn, host, app, streamName string, peerIP net.IP) {
	hostApp := host + "/" + app
	publishACL, _ := l.registry.GetACL(hostApp)
	if stream.Evaluate(publishACL, peerIP) == stream.Deny {
		l.reject(conn, relayerr.KindACLDeny, "publish-acl")
		return
	}

	key := stream.NewKey(host, app, streamName)
	st, _ := l.registry.GetOrCreateStream(key, l.cfg.RingCapacity)

	var pub *role.Publisher
	pub = role.NewPublisher(conn, st, l.cfg.IdleStreamsTimeout, func(reason error) {
		st.DetachPublisher(pub, reason)
		l.registry.RemoveStreamIfEmpty(key)
		l.notify("publish_stop", key.String())
	})
	if !st.AttachPublisher(pub) {
		l.reject(conn, relayerr.KindAlreadyPublishing, "publish")
		return
	}

	l.dispatch.Dispatch(pub)
	l.notify("publish_start", key.String())

	for _, mgr := range l.pushRelays[hostApp] {
		mgr.StartPush(key, st)
	}
}

func (l *Listener) handlePlayer(conn srt.Conn, uplive, streamName string, peerIP net.IP) {
	_, playACL := l.registry.GetACL(uplive)
	if stream.Evaluate(playACL, peerIP) == stream.Deny {
		l.reject(conn, relayerr.KindACLDeny, "play-acl")
		return
	}

	upHost, upApp, ok := splitHostApp(uplive)
	if !ok {
		l.reject(conn, relayerr.KindBadStreamID, "uplive-path")
		return
	}
	key := stream.NewKey(upHost, upApp, streamName)

	st := l.registry.GetStream(key)
	if st == nil || !st.HasPublisher() {
		mgr, hasRelay := l.pullRelays[uplive]
		if !hasRelay {
			l.reject(conn, relayerr.KindNoPublisher, "play")
			return
		}
		started, ok := mgr.EnsurePulling(key, l.cfg.RingCapacity)
		if !ok {
			l.reject(conn, relayerr.KindNoPublisher, "play")
			return
		}
		st = started
	}

	player := role.NewPlayer(conn, st, l.cfg.IdleStreamsTimeout, func(reason error) {
		l.notify("play_stop", key.String())
	})
	l.dispatch.Dispatch(player)
	l.notify("play_start", key.String())
}

func splitHostApp(hostApp string) (host, app string, ok bool) {
	i := strings.IndexByte(hostApp, '/')
	if i < 0 {
		return "", "", false
	}
	return hostApp[:i], hostApp[i+1:], true
}

func peerAddrIP(addr net.Addr) net.IP {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.ParseIP(addr.String())
	}
	return net.ParseIP(host)
}
