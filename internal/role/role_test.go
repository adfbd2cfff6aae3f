package role

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/relayerr"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

// fakeConn is a minimal srt.Conn double: each Read/Write round-trips through
// in-memory channels so a Role can be exercised without a real socket.
type fakeConn struct {
	readData chan []byte
	written  chan []byte
	closed   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readData: make(chan []byte, 8),
		written:  make(chan []byte, 8),
		closed:   make(chan struct{}),
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

func (c *fakeConn) LocalAddr() net.Addr  { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr("remote") }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) StreamID() string                 { return "test" }
func (c *fakeConn) Stats() srt.Stats                 { return srt.Stats{} }

type fakeAddr string

func (a fakeAddr) Network() string { return "srt" }
func (a fakeAddr) String() string  { return string(a) }

func TestPublisherWriteReachesStream(t *testing.T) {
	st := stream.NewStream(stream.NewKey("h", "a", "n"), 64*1024)
	conn := newFakeConn()
	var cleanupReason error
	cleaned := false
	pub := NewPublisher(conn, st, 0, func(reason error) {
		cleaned = true
		cleanupReason = reason
	})

	conn.readData <- []byte("hello")
	if err := pub.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if pub.Stats().BytesIn != 5 {
		t.Errorf("BytesIn = %d, want 5", pub.Stats().BytesIn)
	}

	pub.Uninit()
	if !cleaned {
		t.Error("cleanup hook should run on Uninit")
	}
	if cleanupReason != nil {
		t.Errorf("clean shutdown should not carry a reason, got %v", cleanupReason)
	}
	if pub.State() != StateUninitialized {
		t.Errorf("State() = %v, want Uninitialized", pub.State())
	}
}

func TestPlayerReceivesPrimingThenLive(t *testing.T) {
	st := stream.NewStream(stream.NewKey("h", "a", "n"), 64*1024)
	// Seed a PAT packet so Priming() is non-empty.
	pat := make([]byte, 188)
	pat[0] = 0x47
	pat[1] = 0x40
	pat[3] = 0x10 // payload only, no adaptation field
	section := []byte{0x00, 0xB0, 0x0D, 0x00, 0x01, 0xC1, 0x00, 0x00, 0x00, 0x01, 0xE1, 0x00, 0, 0, 0, 0}
	copy(pat[5:], section) // pat[4] is the pointer_field, 0
	_ = st.Write(pat)

	conn := newFakeConn()
	pl := NewPlayer(conn, st, 0, nil)

	if err := pl.OnWritable(); err != nil {
		t.Fatalf("priming OnWritable: %v", err)
	}
	select {
	case got := <-conn.written:
		if len(got) != 188 {
			t.Errorf("priming write len = %d, want 188", len(got))
		}
	default:
		t.Fatal("expected a priming packet to be written")
	}

	if err := st.Write([]byte("livebytes")); err != nil {
		t.Fatalf("stream write: %v", err)
	}
	if err := pl.OnWritable(); err != nil {
		t.Fatalf("live OnWritable: %v", err)
	}
	select {
	case got := <-conn.written:
		if string(got) != "livebytes" {
			t.Errorf("live write = %q, want %q", got, "livebytes")
		}
	default:
		t.Fatal("expected live bytes to be written")
	}

	pl.Uninit()
	if st.SubscriberCount() != 0 {
		t.Error("Uninit should detach the player from the stream")
	}
}

func TestInvalidatePropagatesFromPublisherTeardown(t *testing.T) {
	st := stream.NewStream(stream.NewKey("h", "a", "n"), 64*1024)
	pubConn := newFakeConn()
	pub := NewPublisher(pubConn, st, 0, nil)
	st.AttachPublisher(pub)

	plConn := newFakeConn()
	pl := NewPlayer(plConn, st, 0, nil)

	st.DetachPublisher(pub, relayerr.New(relayerr.KindNoPublisher, "n", nil))

	if pl.State() != StateInvalid {
		t.Errorf("State() = %v, want Invalid after publisher teardown", pl.State())
	}
}

func TestPublisherIdleTimeout(t *testing.T) {
	st := stream.NewStream(stream.NewKey("h", "a", "n"), 64*1024)
	conn := newFakeConn()
	pub := NewPublisher(conn, st, time.Millisecond, nil)

	time.Sleep(5 * time.Millisecond)
	if got := pub.CheckState(time.Now()); got != StateInvalid {
		t.Errorf("CheckState() = %v, want Invalid after idle timeout", got)
	}
}
