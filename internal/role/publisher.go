package role

import (
	"time"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/relayerr"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

// datagramSize is the MPEG-TS-over-SRT payload size: 7 TS packets of 188
// bytes, the standard SRT payload packing.
const datagramSize = 7 * 188

// Publisher is the Role bound to an ingest connection: its only job is to
// read whole datagrams off the socket and fan them into the Stream's shared
// RingBuffer.
type Publisher struct {
	base
	st *stream.Stream
}

// NewPublisher wires conn as the publisher of st. cleanup is invoked exactly
// once from Uninit, after the socket is closed, so the caller can detach
// from the registry and release the uplive key.
func NewPublisher(conn srt.Conn, st *stream.Stream, idleTimeout time.Duration, cleanup func(reason error)) *Publisher {
	p := &Publisher{
		base: newBase(KindPublisher, conn, st.Key(), idleTimeout, cleanup),
		st:   st,
	}
	p.setState(StateRunning)
	return p
}

// OnReadable reads one datagram and writes it into the bound Stream. A full
// buffer never blocks this call; the only failure mode is the datagram
// itself being larger than the RingBuffer, which can't happen for
// well-formed SRT/TS traffic and is treated as a protocol error.
func (p *Publisher) OnReadable() error {
	buf := make([]byte, datagramSize)
	n, err := p.conn.Read(buf)
	if err != nil {
		p.markInvalid(relayerr.New(relayerr.KindSocketBroken, p.streamKey.String(), err))
		return err
	}
	if n == 0 {
		return nil
	}
	p.touch()
	p.bytesIn.Add(uint64(n))
	if err := p.st.Write(buf[:n]); err != nil {
		p.markInvalid(relayerr.New(relayerr.KindOverrun, p.streamKey.String(), err))
		return err
	}
	return nil
}

// OnWritable is unused: a Publisher never writes media back to its source.
func (p *Publisher) OnWritable() error { return nil }

// CheckState applies idle-timeout detection on top of whatever state a
// failed OnReadable already pushed the Role into.
func (p *Publisher) CheckState(now time.Time) State { return p.checkIdle(now) }

// Uninit closes the socket and runs the caller's cleanup hook exactly once;
// the caller's hook is responsible for calling Stream.DetachPublisher, which
// clears priming and invalidates subscribers.
func (p *Publisher) Uninit() {
	p.runUninit()
}
