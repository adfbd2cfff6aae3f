// Package relay implements per-app RelayManagers that pull a
// stream from a remote upstream when no local publisher exists, or push a
// local publisher's feed out to remote upstreams, under one of three
// upstream-selection policies.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/role"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

// Type distinguishes a pull relay (sources a stream from upstream) from a
// push relay (sinks a local stream to upstream).
type Type uint8

const (
	TypePull Type = iota
	TypePush
)

// Mode selects which upstream(s) a relay uses.
type Mode uint8

const (
	ModeLoop Mode = iota
	ModeHash
	ModeAll
)

// Config is one app's `relay { }` configuration block.
type Config struct {
	Type              Type
	Mode              Mode
	Upstreams         []string
	ReconnectInterval time.Duration
	IdleTimeout       time.Duration
	Latency           time.Duration
}

// Dispatcher hands a freshly constructed relay Role to a Worker, the same
// way the Listener hands off accepted connections.
type Dispatcher interface {
	Dispatch(role.Capability)
}

// Dialer opens an outbound SRT connection; satisfied by srt.Dial, abstracted
// here so tests can substitute a fake.
type Dialer func(ctx context.Context, addr, streamID string, latency time.Duration) (srt.Conn, error)

// Manager runs the relay for a single app's Config, against one shared
// stream.Registry. One Manager is created per app that declares a relay
// block.
type Manager struct {
	cfg      Config
	registry *stream.Registry
	dispatch Dispatcher
	dial     Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cursor   int                   // loop-mode upstream rotation
	backoff  map[string]int64      // url -> earliest retry (monotonic ms)
	pulling  map[stream.Key]bool   // pull attempts already in flight
}

// NewManager constructs a Manager bound to cfg and registry. dispatch
// receives every Role the manager creates; dial defaults to srt.Dial when
// nil (tests pass a fake).
func NewManager(cfg Config, registry *stream.Registry, dispatch Dispatcher, dial Dialer) *Manager {
	if dial == nil {
		dial = srt.Dial
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		registry: registry,
		dispatch: dispatch,
		dial:     dial,
		ctx:      ctx,
		cancel:   cancel,
		backoff:  make(map[string]int64),
		pulling:  make(map[stream.Key]bool),
	}
}

// Stop cancels every in-flight relay goroutine and waits for them to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

var monoStart = time.Now()

// monoMS returns milliseconds since process start on the monotonic clock.
func monoMS() int64 { return time.Since(monoStart).Milliseconds() }

// selectUpstreams returns the ordered list of upstream URLs to try for key,
// per the configured Mode.
func (m *Manager) selectUpstreams(key stream.Key) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.cfg.Upstreams) == 0 {
		return nil
	}
	switch m.cfg.Mode {
	case ModeHash:
		idx := int(xxhash.Sum64String(key.Stream) % uint64(len(m.cfg.Upstreams)))
		return []string{m.cfg.Upstreams[idx]}
	case ModeAll:
		out := make([]string, len(m.cfg.Upstreams))
		copy(out, m.cfg.Upstreams)
		return out
	default: // ModeLoop
		n := len(m.cfg.Upstreams)
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, m.cfg.Upstreams[(m.cursor+i)%n])
		}
		m.cursor = (m.cursor + 1) % n
		return out
	}
}

func (m *Manager) readyAt(url string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff[url]
}

func (m *Manager) scheduleBackoff(url string) {
	m.mu.Lock()
	m.backoff[url] = monoMS() + m.cfg.ReconnectInterval.Milliseconds()
	m.mu.Unlock()
}

// EnsurePulling makes sure exactly one puller goroutine is in flight for
// key, creating the (initially publisherless) Stream if needed so a Player
// can attach to it right away rather than waiting for the puller to
// connect first. It returns (nil, false) if this app has no pull relay
// configured at all.
func (m *Manager) EnsurePulling(key stream.Key, capacity uint64) (*stream.Stream, bool) {
	if m.cfg.Type != TypePull || len(m.cfg.Upstreams) == 0 {
		return nil, false
	}

	st, _ := m.registry.GetOrCreateStream(key, capacity)
	if st.HasPublisher() {
		return st, true
	}

	m.mu.Lock()
	if m.pulling[key] {
		m.mu.Unlock()
		return st, true
	}
	m.pulling[key] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runPull(key, st)
	return st, true
}

func (m *Manager) runPull(key stream.Key, st *stream.Stream) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.pulling, key)
		m.mu.Unlock()
	}()

	for {
		if st.HasPublisher() {
			return
		}
		for _, url := range m.selectUpstreams(key) {
			if m.ctx.Err() != nil {
				return
			}
			if monoMS() < m.readyAt(url) {
				continue
			}
			conn, err := m.dial(m.ctx, url, key.String(), m.cfg.Latency)
			if err != nil {
				m.scheduleBackoff(url)
				continue
			}
			var p *role.Puller
			p = role.NewPuller(conn, st, url, m.cfg.IdleTimeout, func(reason error) {
				st.DetachPublisher(p, reason)
				m.registry.RemoveStreamIfEmpty(key)
			})
			if !st.AttachPublisher(p) {
				// A direct publisher won the race; drop the puller.
				_ = conn.Close()
				return
			}
			m.dispatch.Dispatch(p)
			return
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.cfg.ReconnectInterval):
		}
	}
}

// StartPush fans a newly bound local publisher out to this app's push
// upstreams. Safe to call once per publisher; it spawns one goroutine per
// selected upstream (mode "all" selects every configured upstream,
// "loop"/"hash" select one).
func (m *Manager) StartPush(key stream.Key, st *stream.Stream) {
	if m.cfg.Type != TypePush {
		return
	}
	urls := m.selectUpstreams(key)
	if m.cfg.Mode == ModeLoop && len(urls) > 1 {
		urls = urls[:1]
	}
	for _, url := range urls {
		m.wg.Add(1)
		go m.runPush(key, st, url)
	}
}

func (m *Manager) runPush(key stream.Key, st *stream.Stream, url string) {
	defer m.wg.Done()
	for {
		if m.ctx.Err() != nil || !st.HasPublisher() {
			return
		}
		if monoMS() < m.readyAt(url) {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(m.cfg.ReconnectInterval):
			}
			continue
		}
		conn, err := m.dial(m.ctx, url, key.String(), m.cfg.Latency)
		if err != nil {
			m.scheduleBackoff(url)
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(m.cfg.ReconnectInterval):
			}
			continue
		}
		pusher := role.NewPusher(conn, st, url, m.cfg.IdleTimeout, func(reason error) {
			m.scheduleBackoff(url)
			m.retryPush(key, st, url)
		})
		m.dispatch.Dispatch(pusher)
		return
	}
}

// retryPush re-spawns runPush for url once its Pusher has torn down,
// the same way a failed dial is retried within runPush itself, so a push
// relay recovers from a dropped upstream connection instead of going
// silent for the rest of the process's life.
func (m *Manager) retryPush(key stream.Key, st *stream.Stream, url string) {
	if m.ctx.Err() != nil || !st.HasPublisher() {
		return
	}
	m.wg.Add(1)
	go m.runPush(key, st, url)
}
