package relay

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/role"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "srt" }
func (a fakeAddr) String() string  { return string(a) }

type fakeConn struct{ streamID string }

func (c *fakeConn) Read([]byte) (int, error)  { select {} }
func (c *fakeConn) Write(b []byte) (int, error) { return len(b), nil }
func (c *fakeConn) Close() error                { return nil }
func (c *fakeConn) LocalAddr() net.Addr         { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr        { return fakeAddr("remote") }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) StreamID() string                 { return c.streamID }
func (c *fakeConn) Stats() srt.Stats                  { return srt.Stats{} }

type fakeDispatcher struct {
	got chan role.Capability
}

func newFakeDispatcher() *fakeDispatcher { return &fakeDispatcher{got: make(chan role.Capability, 8)} }

func (d *fakeDispatcher) Dispatch(c role.Capability) { d.got <- c }

func TestEnsurePullingConnectsToSecondUpstreamAfterFirstFails(t *testing.T) {
	registry := stream.NewRegistry()
	dispatch := newFakeDispatcher()

	var attempts []string
	dial := func(ctx context.Context, addr, streamID string, latency time.Duration) (srt.Conn, error) {
		attempts = append(attempts, addr)
		if addr == "u1" {
			return nil, errors.New("refused")
		}
		return &fakeConn{streamID: streamID}, nil
	}

	cfg := Config{Type: TypePull, Mode: ModeLoop, Upstreams: []string{"u1", "u2"}, ReconnectInterval: 10 * time.Millisecond}
	m := NewManager(cfg, registry, dispatch, dial)
	defer m.Stop()

	key := stream.NewKey("h", "a", "n")
	st, ok := m.EnsurePulling(key, 4096)
	if !ok {
		t.Fatal("EnsurePulling should report a configured pull relay")
	}

	select {
	case c := <-dispatch.got:
		if c.Kind() != role.KindPuller {
			t.Errorf("dispatched role kind = %v, want puller", c.Kind())
		}
	case <-time.After(time.Second):
		t.Fatal("expected a puller to be dispatched")
	}

	if !st.HasPublisher() {
		t.Error("stream should have the puller bound as publisher")
	}
}

func TestEnsurePullingIsIdempotentWhileWarming(t *testing.T) {
	registry := stream.NewRegistry()
	dispatch := newFakeDispatcher()
	block := make(chan struct{})
	dial := func(ctx context.Context, addr, streamID string, latency time.Duration) (srt.Conn, error) {
		<-block
		return &fakeConn{streamID: streamID}, nil
	}
	cfg := Config{Type: TypePull, Mode: ModeLoop, Upstreams: []string{"u1"}, ReconnectInterval: time.Second}
	m := NewManager(cfg, registry, dispatch, dial)
	defer func() {
		close(block)
		m.Stop()
	}()

	key := stream.NewKey("h", "a", "n")
	st1, _ := m.EnsurePulling(key, 4096)
	st2, _ := m.EnsurePulling(key, 4096)
	if st1 != st2 {
		t.Error("concurrent EnsurePulling calls for the same key should share one stream")
	}
}

func TestSelectUpstreamsHashIsDeterministic(t *testing.T) {
	registry := stream.NewRegistry()
	dispatch := newFakeDispatcher()
	cfg := Config{Type: TypePull, Mode: ModeHash, Upstreams: []string{"u1", "u2", "u3"}}
	m := NewManager(cfg, registry, dispatch, nil)
	key := stream.NewKey("h", "a", "demo")
	a := m.selectUpstreams(key)
	b := m.selectUpstreams(key)
	if len(a) != 1 || len(b) != 1 || a[0] != b[0] {
		t.Errorf("hash mode should deterministically pick the same upstream: %v vs %v", a, b)
	}
}
