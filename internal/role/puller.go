package role

import (
	"time"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/relayerr"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

// Puller is the Role bound to a relay's inbound connection to a remote
// upstream: it behaves like a Publisher (reads datagrams, writes them into
// the local Stream) but its cleanup hook is relay-owned so the RelayManager
// can schedule a reconnect for a "pull" relay.
type Puller struct {
	base
	st        *stream.Stream
	remoteURL string
}

// NewPuller wires conn (already dialed to remoteURL) as the publisher of st
// via a pull relay. As with NewPublisher, attaching as the Stream's publisher
// is the caller's job (Stream.AttachPublisher), so a pull relay never
// displaces a directly-connected live publisher.
func NewPuller(conn srt.Conn, st *stream.Stream, remoteURL string, idleTimeout time.Duration, cleanup func(reason error)) *Puller {
	p := &Puller{
		base:      newBase(KindPuller, conn, st.Key(), idleTimeout, cleanup),
		st:        st,
		remoteURL: remoteURL,
	}
	p.setState(StateRunning)
	return p
}

// RemoteURL returns the upstream URL this Puller reads from.
func (p *Puller) RemoteURL() string { return p.remoteURL }

func (p *Puller) OnReadable() error {
	buf := make([]byte, datagramSize)
	n, err := p.conn.Read(buf)
	if err != nil {
		p.markInvalid(relayerr.New(relayerr.KindUpstreamUnreachable, p.streamKey.String(), err))
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

func (p *Puller) OnWritable() error { return nil }

func (p *Puller) CheckState(now time.Time) State { return p.checkIdle(now) }

func (p *Puller) Uninit() { p.runUninit() }
