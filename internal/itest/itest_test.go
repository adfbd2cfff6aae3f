// Package itest holds end-to-end tests that exercise the Registry, Role,
// Worker, and stats pipeline together, driving the full stack rather than
// one package at a time.
package itest

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/listener"
	"github.com/srtrelay/srtrelay/internal/role"
	"github.com/srtrelay/srtrelay/internal/statsreg"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
	"github.com/srtrelay/srtrelay/internal/worker"
)

type fakeConn struct {
	readData chan []byte
	written  chan []byte
	closed   chan struct{}
	peer     string
}

func newFakeConn(peer string) *fakeConn {
	return &fakeConn{
		readData: make(chan []byte, 16),
		written:  make(chan []byte, 16),
		closed:   make(chan struct{}),
		peer:     peer,
	}
}

func (c *fakeConn) Read(b []byte) (int, error) {
	select {
	case d := <-c.readData:
		return copy(b, d), nil
	case <-c.closed:
		return 0, errors.New("fakeConn: closed")
	}
}

func (c *fakeConn) Write(b []byte) (int, error) {
	cp := append([]byte{}, b...)
	select {
	case c.written <- cp:
	default:
	}
	return len(b), nil
}

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr(c.peer) }
func (c *fakeConn) SetDeadline(time.Time) error        { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error    { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error   { return nil }
func (c *fakeConn) StreamID() string                   { return "" }
func (c *fakeConn) Stats() srt.Stats                   { return srt.Stats{} }

type fakeAddr string

func (a fakeAddr) Network() string { return "srt" }
func (a fakeAddr) String() string  { return string(a) }

// TestPublishThenPlayDeliversBytesThroughWorkerPool drives a publisher and a
// player through a real Worker and WorkerPool (no fake Worker): a single
// publisher and a single late-joining player, checking the player receives
// the publisher's bytes end to end.
func TestPublishThenPlayDeliversBytesThroughWorkerPool(t *testing.T) {
	registry := stream.NewRegistry()
	registry.RegisterApp(stream.AppConfig{
		UplivePath: "pub.example/live",
		LivePaths:  []string{"play.example/live"},
	})

	key := stream.NewKey("pub.example", "live", "demo")
	st, _ := registry.GetOrCreateStream(key, 64*1024)

	w := worker.New(0, 0)
	stats := statsreg.New()
	w.OnRemoved = func(c role.Capability) { stats.Remove(c.StreamKey().String(), c.ID()) }
	pool := listener.NewWorkerPool([]*worker.Worker{w})
	pool.OnDispatch = stats.Put

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	pubConn := newFakeConn("pub-peer")
	var pub *role.Publisher
	pub = role.NewPublisher(pubConn, st, 0, func(reason error) {
		st.DetachPublisher(pub, reason)
	})
	if !st.AttachPublisher(pub) {
		t.Fatal("AttachPublisher should succeed for the first publisher")
	}
	pool.Dispatch(pub)

	if _, ok := stats.Get(key.String()); !ok {
		t.Fatal("publisher should be tracked in stats after dispatch")
	}

	plConn := newFakeConn("player-peer")
	player := role.NewPlayer(plConn, st, 0, nil)
	pool.Dispatch(player)

	pubConn.readData <- []byte("livebytes")

	// The player's cursor starts at the write head on its first writable
	// tick, so bytes written before that tick are not delivered to it; keep
	// the publisher sending, spaced well apart from the writer pump's poll,
	// until one datagram reaches the player.
	resend := time.NewTicker(50 * time.Millisecond)
	defer resend.Stop()
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-plConn.written:
			if string(got) == "livebytes" {
				return
			}
		case <-resend.C:
			select {
			case pubConn.readData <- []byte("livebytes"):
			default:
			}
		case <-deadline:
			t.Fatal("player never received the publisher's bytes")
		}
	}
}

// TestWorkerConnectionsCapExceededDropsNewRole exercises worker_connections
// enforcement: once a Worker is at capacity, a freshly submitted Role is
// rejected rather than evicting an existing one.
func TestWorkerConnectionsCapExceededDropsNewRole(t *testing.T) {
	st := stream.NewStream(stream.NewKey("h", "a", "n"), 64*1024)

	w := worker.New(0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	first := role.NewPublisher(newFakeConn("first"), st, 0, nil)
	w.Submit(first)

	deadline := time.After(time.Second)
	for w.Count() != 1 {
		select {
		case <-deadline:
			t.Fatal("first role never registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	secondConn := newFakeConn("second")
	second := role.NewPublisher(secondConn, st, 0, nil)
	w.Submit(second)

	deadline = time.After(time.Second)
	for {
		select {
		case <-secondConn.closed:
			return
		case <-deadline:
			t.Fatal("second role should have been uninitialized when the worker was full")
		}
	}
}
