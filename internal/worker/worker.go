// Package worker implements the connection-handling unit of the relay: a
// single goroutine that owns a bounded set of Roles. Rather than one thread
// multiplexing many connections through epoll, each connection gets its own
// goroutine-per-connection I/O pump feeding events back to one Worker
// goroutine, which owns all bookkeeping — capacity accounting, idle sweeps,
// and state transitions — so a Role's lifecycle still lives in exactly one
// place.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/srtrelay/srtrelay/internal/role"
)

// Event is a pump's report back to the Worker that its Role's OnReadable or
// OnWritable call failed; the pumps only send events with Err set.
type Event struct {
	ID  uint64
	Err error
}

type entry struct {
	cap      role.Capability
	stopPump chan struct{}
}

// Worker owns a bounded set of Roles (its fd -> Role map) and the single
// goroutine that drains pump events, runs idle sweeps, and removes
// torn-down Roles. worker_connections is Capacity.
type Worker struct {
	id       int
	capacity int

	intake chan role.Capability
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	roles map[uint64]*entry

	idleInterval time.Duration

	// OnRemoved is called from the Worker's own goroutine whenever a Role is
	// torn down, after Uninit has run, so the caller (Listener/RelayManager)
	// can react — e.g. scheduling a relay reconnect — without needing its own
	// polling loop.
	OnRemoved func(role.Capability)
}

// New creates a Worker with the given identity and connection capacity.
func New(id, capacity int) *Worker {
	return &Worker{
		id:           id,
		capacity:     capacity,
		intake:       make(chan role.Capability, 64),
		events:       make(chan Event, 256),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		roles:        make(map[uint64]*entry),
		idleInterval: time.Second,
	}
}

// ID returns the Worker's identity.
func (w *Worker) ID() int { return w.id }

// Count returns the number of Roles currently owned by this Worker.
func (w *Worker) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.roles)
}

// HasCapacity reports whether the Worker can accept one more Role. Used by
// the round-robin hand-off to skip Workers that are full.
func (w *Worker) HasCapacity() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capacity <= 0 || len(w.roles) < w.capacity
}

// Submit hands a freshly constructed Role to the Worker's intake queue. It
// is safe to call from any goroutine (the Listener's accept loop, or the
// RelayManager).
func (w *Worker) Submit(c role.Capability) {
	select {
	case w.intake <- c:
	case <-w.stop:
	}
}

// Run drives the Worker's main loop until ctx is canceled, at which point
// every owned Role is force-closed via Uninit immediately. Callers that want
// existing Roles to finish on their own first — a reload retiring the
// previous generation rather than a full shutdown — must call Drain and let
// it observe the Worker empty out before canceling ctx; canceling ctx is
// always the forceful path.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.idleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(w.stop)
			w.teardownAll()
			return

		case c := <-w.intake:
			w.register(c)

		case ev := <-w.events:
			if ev.Err != nil {
				w.retire(ev.ID)
			}

		case now := <-ticker.C:
			w.sweepIdle(now)
		}
	}
}

func (w *Worker) register(c role.Capability) {
	w.mu.Lock()
	if w.capacity > 0 && len(w.roles) >= w.capacity {
		w.mu.Unlock()
		// Reject outright once at capacity rather than evicting an
		// existing Role to make room.
		c.Uninit()
		return
	}
	stopPump := make(chan struct{})
	w.roles[c.ID()] = &entry{cap: c, stopPump: stopPump}
	w.mu.Unlock()

	switch c.Kind() {
	case role.KindPublisher, role.KindPuller:
		go w.pumpReader(c, stopPump)
	case role.KindPlayer, role.KindPusher:
		go w.pumpReader(c, stopPump)
		go w.pumpWriter(c, stopPump)
	}
}

// pumpReader repeatedly calls OnReadable, which blocks on the underlying
// socket read, until it errors or the Worker is stopping. This is the
// goroutine that stands in for one fd's epoll-readable edge.
func (w *Worker) pumpReader(c role.Capability, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := c.OnReadable(); err != nil {
			select {
			case w.events <- Event{ID: c.ID(), Err: err}:
			case <-stop:
			}
			return
		}
	}
}

// writerPumpInterval bounds how often a subscriber Role is offered a chance
// to drain more of its Stream; OnWritable itself never blocks, so this is a
// poll rate, not a wait-for-ready signal the way a real epoll writable edge
// would be.
const writerPumpInterval = 10 * time.Millisecond

func (w *Worker) pumpWriter(c role.Capability, stop chan struct{}) {
	t := time.NewTicker(writerPumpInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := c.OnWritable(); err != nil {
				select {
				case w.events <- Event{ID: c.ID(), Err: err}:
				case <-stop:
				}
				return
			}
		}
	}
}

// retire removes a Role by ID, runs its Uninit exactly once, stops its
// pumps, and notifies OnRemoved.
func (w *Worker) retire(id uint64) {
	w.mu.Lock()
	e, ok := w.roles[id]
	if ok {
		delete(w.roles, id)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	close(e.stopPump)
	e.cap.Uninit()
	if w.OnRemoved != nil {
		w.OnRemoved(e.cap)
	}
}

// sweepIdle calls CheckState on every owned Role and retires any that have
// gone Invalid, including those whose idle deadline just passed.
func (w *Worker) sweepIdle(now time.Time) {
	w.mu.Lock()
	ids := make([]uint64, 0, len(w.roles))
	for id, e := range w.roles {
		if e.cap.CheckState(now) == role.StateInvalid {
			ids = append(ids, id)
		}
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.retire(id)
	}
}

func (w *Worker) teardownAll() {
	w.mu.Lock()
	ids := make([]uint64, 0, len(w.roles))
	for id := range w.roles {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	for _, id := range ids {
		w.retire(id)
	}
}

// Wait blocks until Run has returned after ctx cancellation.
func (w *Worker) Wait() { <-w.done }

// drainPollInterval bounds how often Drain re-checks whether a Worker's
// Role map has emptied out on its own.
const drainPollInterval = 50 * time.Millisecond

// Drain blocks until every Role this Worker owns has finished and been
// removed naturally — through its own EOF, idle timeout, or invalidation —
// without forcing Uninit on anything still running. It never gives up early;
// the caller decides how long that's acceptable (a superseded generation has
// nothing else time-bound waiting on it). Submit still accepts new Roles
// while draining, since nothing here stops intake — a caller retiring a
// generation must close its Listeners first so no new connections arrive for
// a Worker that is being drained. If Run has already returned (ctx was
// canceled some other way), Drain returns immediately.
func (w *Worker) Drain() {
	if w.Count() == 0 {
		return
	}
	t := time.NewTicker(drainPollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if w.Count() == 0 {
				return
			}
		case <-w.done:
			return
		}
	}
}
