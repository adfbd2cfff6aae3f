// Package manager implements the top-level process lifecycle: boot every
// configured server's Listener and Worker pool, serve reload by building a
// fresh generation alongside the running one and draining the old
// generation once it empties, and drive graceful shutdown on signal.
package manager

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/srtrelay/srtrelay/internal/config"
	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/hostmon"
	"github.com/srtrelay/srtrelay/internal/httpapi"
	"github.com/srtrelay/srtrelay/internal/listener"
	"github.com/srtrelay/srtrelay/internal/relay"
	"github.com/srtrelay/srtrelay/internal/role"
	"github.com/srtrelay/srtrelay/internal/statsreg"
	"github.com/srtrelay/srtrelay/internal/svc/health"
	"github.com/srtrelay/srtrelay/internal/worker"
)

// generation is one complete, independently torn-down instantiation of the
// configured servers: its own Workers, Listeners, and RelayManagers. Reload
// creates a new generation and retires the old one asynchronously once its
// Workers drain, polling their emptiness each tick.
type generation struct {
	registry   *stream.Registry
	stats      *statsreg.Registry
	workers    []*worker.Worker
	listeners  []*listener.Listener
	relayMgrs  []*relay.Manager
	pullRelays map[string]*relay.Manager
	pushRelays map[string][]*relay.Manager

	hostMon    *hostmon.Monitor
	httpAPI    *httpapi.Server
	httpServer *http.Server
	statPoster *httpapi.StatPoster
	wsStop     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Manager owns the current generation and coordinates reload/shutdown.
type Manager struct {
	log zerolog.Logger

	mu  sync.Mutex
	cur *generation
}

// New creates an idle Manager; call Reload with an initial config to boot.
func New(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Registry exposes the running generation's StreamRegistry, for the HTTP
// stats API.
func (m *Manager) Registry() *stream.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	return m.cur.registry
}

// Stats exposes the running generation's statsreg.Registry, the source for
// GET /stats and the periodic stat_post_url report.
func (m *Manager) Stats() *statsreg.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	return m.cur.stats
}

// Reload builds a new generation from cfg and swaps it in, tearing down the
// previous generation asynchronously once it drains. In-flight streams on
// the old generation persist until they end naturally — a fresh registry
// does not force existing connections closed, it only stops accepting new
// ones on the old sockets.
func (m *Manager) Reload(cfg *config.Config) error {
	next, err := buildGeneration(cfg, m.log)
	if err != nil {
		return err
	}

	m.mu.Lock()
	prev := m.cur
	m.cur = next
	m.mu.Unlock()

	for _, l := range next.listeners {
		go l.Run(next.ctx)
	}
	for _, w := range next.workers {
		next.wg.Add(1)
		go func(w *worker.Worker) {
			defer next.wg.Done()
			w.Run(next.ctx)
		}(w)
	}

	if prev != nil {
		go retireGeneration(prev, m.log, false)
	}
	return nil
}

// retireGeneration stops accepting new connections on a superseded
// generation's Listeners, then tears down its Workers.
//
// When force is false (Reload retiring the generation it just replaced),
// each Worker is drained first: its in-flight Roles are left to finish on
// their own — no forced Uninit — and ctx is only canceled, as a formality,
// once every Worker's Role map has emptied out naturally. When force is
// true (Shutdown), ctx is canceled immediately and every Worker
// force-closes whatever Roles it still owns.
func retireGeneration(g *generation, log zerolog.Logger, force bool) {
	for _, l := range g.listeners {
		if err := l.Close(); err != nil {
			log.Warn().Err(err).Msg("closing superseded listener")
		}
	}
	if !force {
		for _, w := range g.workers {
			w.Drain()
		}
	}
	g.cancel()
	g.wg.Wait()
	for _, mgr := range g.relayMgrs {
		mgr.Stop()
	}
	if g.wsStop != nil {
		close(g.wsStop)
	}
	if g.statPoster != nil {
		g.statPoster.Stop()
	}
	if g.hostMon != nil {
		g.hostMon.Stop()
	}
	if g.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.httpServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("shutting down superseded http api server")
		}
	}
}

// Shutdown gracefully tears down the current generation: the SIGINT/SIGTERM
// signal handler calls this.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	g := m.cur
	m.cur = nil
	m.mu.Unlock()
	if g == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		retireGeneration(g, m.log, true)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildGeneration constructs every Registry/Worker/Listener/RelayManager a
// config describes and starts the generation's HTTP API server, host
// monitor, stats broadcast and stat poster; the Listener and Worker
// goroutines are left for Reload to start.
func buildGeneration(cfg *config.Config, log zerolog.Logger) (*generation, error) {
	registry := stream.NewRegistry()

	stats := statsreg.New()

	g := &generation{
		registry:   registry,
		stats:      stats,
		pullRelays: make(map[string]*relay.Manager),
		pushRelays: make(map[string][]*relay.Manager),
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())

	for i := 0; i < cfg.WorkerThreads; i++ {
		w := worker.New(i, cfg.WorkerConnections)
		w.OnRemoved = func(c role.Capability) {
			stats.Remove(c.StreamKey().String(), c.ID())
		}
		g.workers = append(g.workers, w)
	}
	pool := listener.NewWorkerPool(g.workers)
	pool.OnDispatch = stats.Put

	hostMon := hostmon.NewMonitor()
	hostMon.Start(15 * time.Second)
	g.hostMon = hostMon

	apiLog := log.With().Str("component", "httpapi").Logger()
	g.httpAPI = httpapi.NewServer(stats, hostMon, cfg.CORSHeader, apiLog)

	g.wsStop = make(chan struct{})
	go g.httpAPI.BroadcastLoop(cfg.StatPostIntervalDuration(), g.wsStop)

	mux := http.NewServeMux()
	health.New().RegisterRoutes(mux)
	g.httpAPI.RegisterRoutes(mux)
	g.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: mux}
	go func() {
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http api server stopped")
		}
	}()

	if cfg.StatPostURL != "" {
		g.statPoster = httpapi.NewStatPoster(cfg.StatPostURL, g.httpAPI, apiLog)
		if err := g.statPoster.Start(cfg.StatPostIntervalDuration()); err != nil {
			return nil, fmt.Errorf("schedule stat_post_url: %w", err)
		}
	}

	const ringCapacity = stream.RingBufferCapacity

	for _, srv := range cfg.Servers {
		for _, app := range srv.Apps {
			hostApp := srv.DomainPublisher + "/" + app.AppPublisher
			liveAliases := make([]string, 0, len(srv.DomainPlayer))
			for _, d := range srv.DomainPlayer {
				liveAliases = append(liveAliases, d+"/"+app.AppPlayer)
			}
			registry.RegisterApp(stream.AppConfig{
				UplivePath:  hostApp,
				LivePaths:   liveAliases,
				PublishACL:  convertACL(app.AllowPublish),
				PlayACL:     convertACL(app.AllowPlay),
				IdleTimeout: srv.IdleTimeout(),
			})

			for _, rc := range app.Relays {
				mgr := relay.NewManager(relay.Config{
					Type:              convertRelayType(rc.Type),
					Mode:              convertRelayMode(rc.Mode),
					Upstreams:         rc.Upstreams,
					ReconnectInterval: rc.ReconnectIntervalDuration(),
					IdleTimeout:       rc.IdleTimeout(srv.IdleTimeout()),
					Latency:           srv.Latency(),
				}, registry, pool, nil)
				g.relayMgrs = append(g.relayMgrs, mgr)

				switch rc.Type {
				case "pull":
					g.pullRelays[hostApp] = mgr
				case "push":
					g.pushRelays[hostApp] = append(g.pushRelays[hostApp], mgr)
				}
			}
		}

		var notifier listener.EventNotifier
		if srv.OnEventURL != "" {
			notifier = httpapi.NewEventPoster(srv.OnEventURL, log)
		}

		ln, err := listener.New(listener.Config{
			Listen:             fmt.Sprintf(":%d", srv.Listen),
			Backlog:            srv.Backlog,
			Latency:            srv.Latency(),
			IdleStreamsTimeout: srv.IdleTimeout(),
			RingCapacity:       ringCapacity,
			AcceptRatePerSec:   srv.AcceptRatePerSec,
		}, registry, pool, g.pullRelays, g.pushRelays, notifier, log)
		if err != nil {
			for _, l := range g.listeners {
				_ = l.Close()
			}
			return nil, fmt.Errorf("bind server listen=%d: %w", srv.Listen, err)
		}
		g.listeners = append(g.listeners, ln)
	}

	return g, nil
}

func convertACL(rules []config.ACLRule) []stream.ACLEntry {
	out := make([]stream.ACLEntry, 0, len(rules))
	for _, r := range rules {
		decision := stream.Accept
		if r.Action == "deny" {
			decision = stream.Deny
		}
		var ip net.IP
		if r.IP != "0" {
			ip = net.ParseIP(r.IP)
		}
		out = append(out, stream.ACLEntry{Decision: decision, IP: ip})
	}
	return out
}

func convertRelayType(t string) relay.Type {
	if t == "push" {
		return relay.TypePush
	}
	return relay.TypePull
}

func convertRelayMode(m string) relay.Mode {
	switch m {
	case "hash":
		return relay.ModeHash
	case "all":
		return relay.ModeAll
	default:
		return relay.ModeLoop
	}
}
