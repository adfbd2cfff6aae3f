// Package srt adapts github.com/datarhei/gosrt to the minimal socket
// surface the relay core needs, treating the SRT protocol itself as an
// external collaborator out of scope for this module. Every call into
// gosrt lives in this package; the rest of the module only sees the Conn
// and Listener interfaces below, so an SRT binding swap never touches
// core logic.
package srt

import (
	"context"
	"fmt"
	"net"
	"time"

	gosrt "github.com/datarhei/gosrt"
)

// Stats is the subset of SRT socket statistics the HTTP stats API surfaces
// in its response fields.
type Stats struct {
	PktRcvLoss    uint64
	PktRcvDrop    uint64
	BytesRcvLoss  uint64
	BytesRcvDrop  uint64
	MbpsRecvRate  float64
	RTTMs         float64
	MsRcvBuf      int
	MbpsBandwidth float64
	BitrateMbps   float64
}

// Conn is one accepted or dialed SRT connection, carrying the handshake's
// stream identifier string.
type Conn interface {
	net.Conn
	StreamID() string
	Stats() Stats
}

type conn struct {
	gosrt.Conn
	streamID string
}

func (c *conn) StreamID() string { return c.streamID }

func (c *conn) Stats() Stats {
	var s gosrt.Statistics
	c.Conn.Stats(&s)
	return Stats{
		PktRcvLoss:    s.Recv.PktLoss,
		PktRcvDrop:    s.Recv.PktDrop,
		BytesRcvLoss:  s.Recv.ByteLoss,
		BytesRcvDrop:  s.Recv.ByteDrop,
		MbpsRecvRate:  s.Recv.MbpsRate,
		RTTMs:         s.MsRTT,
		MsRcvBuf:      int(s.MsRcvBuf),
		MbpsBandwidth: s.MbpsBandwidth,
		BitrateMbps:   s.Recv.MbpsRate,
	}
}

// Listener accepts inbound SRT connections on one UDP port, handing back
// the peer's stream identifier before the caller decides whether to keep
// the connection.
type Listener struct {
	ln *gosrt.Listener
}

// Config is the subset of per-listen-socket SRT tuning exposed on the
// `server { }` block: latency and backlog.
type Config struct {
	Latency time.Duration
	Backlog int
}

// Listen binds a new SRT listener to addr (host:port, UDP).
func Listen(addr string, cfg Config) (*Listener, error) {
	srtCfg := gosrt.DefaultConfig()
	srtCfg.Latency = cfg.Latency
	if cfg.Backlog > 0 {
		srtCfg.FC = uint32(cfg.Backlog)
	}

	ln, err := gosrt.Listen("srt", addr, srtCfg)
	if err != nil {
		return nil, fmt.Errorf("srt listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next handshake, reads its stream identifier, and
// hands the decision of whether to admit it to decide. decide returns
// gosrt.PUBLISH or gosrt.SUBSCRIBE to admit the connection in that role, or
// gosrt.REJECT to refuse it before the handshake completes. The relay's
// Listener admits every handshake here and applies ACL and routing once
// Accept has returned.
func (l *Listener) Accept(decide func(streamID string) gosrt.ConnType) (Conn, error) {
	c, _, err := l.ln.Accept(func(req gosrt.ConnRequest) gosrt.ConnType {
		return decide(req.StreamId())
	})
	if err != nil {
		return nil, err
	}
	sc, ok := c.(gosrt.Conn)
	if !ok {
		return nil, fmt.Errorf("srt accept: unexpected connection type %T", c)
	}
	return &conn{Conn: sc, streamID: sc.StreamId()}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.ln.Close()
	return nil
}

// Addr returns the listener's bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Dial opens an outbound SRT connection for a relay puller/pusher.
func Dial(ctx context.Context, addr, streamID string, latency time.Duration) (Conn, error) {
	cfg := gosrt.DefaultConfig()
	cfg.StreamId = streamID
	cfg.Latency = latency

	dialer := gosrt.Dialer{Config: cfg}
	c, err := dialer.DialContext(ctx, "srt", addr)
	if err != nil {
		return nil, fmt.Errorf("srt dial %s: %w", addr, err)
	}
	return &conn{Conn: c, streamID: streamID}, nil
}
