package role

import (
	"time"

	"github.com/srtrelay/srtrelay/internal/core/ring"
	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/relayerr"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

// readChunk is how much live buffer a subscriber pulls per OnWritable call.
const readChunk = 64 * 1024

// subscriber is the shared mechanics for Player and Pusher: both read from a
// Stream's shared RingBuffer through their own Cursor, delivering the
// cached priming packets first and then switching to live reads.
type subscriber struct {
	base
	st        *stream.Stream
	cur       *ring.Cursor
	primed    bool
	subID     uint64
	scratch   []byte
}

func newSubscriber(kind Kind, conn srt.Conn, st *stream.Stream, idleTimeout time.Duration, cleanup func(reason error)) subscriber {
	return subscriber{
		base:    newBase(kind, conn, st.Key(), idleTimeout, cleanup),
		st:      st,
		scratch: make([]byte, readChunk),
	}
}

// attach registers the subscriber with its Stream so publisher teardown and
// overrun detection can reach it via Invalidate, and must be called once
// before the Role's first OnWritable. It also chains the Stream detach onto
// the Role's cleanup hook, so Uninit removes the subscriber from the Stream
// exactly once, before running any caller-supplied cleanup.
func (s *subscriber) attach(self stream.Subscriber) {
	s.subID = s.st.AttachSubscriber(self)
	s.setState(StateRunning)

	orig := s.cleanup
	st := s.st
	subID := s.subID
	s.cleanup = func(reason error) {
		st.DetachSubscriber(subID)
		if orig != nil {
			orig(reason)
		}
	}
}

// OnReadable drains any protocol-level traffic a subscriber connection
// delivers; a player/pusher never sends media upstream.
func (s *subscriber) OnReadable() error {
	buf := make([]byte, 1500)
	_, err := s.conn.Read(buf)
	if err != nil {
		s.markInvalid(relayerr.New(relayerr.KindSocketBroken, s.streamKey.String(), err))
		return err
	}
	return nil
}

// OnWritable delivers cached priming packets on the first call, then reads
// and forwards live bytes off the Stream's shared buffer from here on.
func (s *subscriber) OnWritable() error {
	if !s.primed {
		for _, pkt := range s.st.Priming() {
			if _, err := s.conn.Write(pkt); err != nil {
				s.markInvalid(relayerr.New(relayerr.KindSocketBroken, s.streamKey.String(), err))
				return err
			}
			s.bytesOut.Add(uint64(len(pkt)))
		}
		s.cur = s.st.Buffer().NewCursor(ring.Latest())
		s.primed = true
		s.touch()
		return nil
	}

	n, err := s.st.Buffer().Read(s.cur, s.scratch)
	switch err {
	case nil:
		// fallthrough to write below
	case ring.ErrEmpty:
		return nil
	case ring.ErrOverrun:
		// Default policy: drop the subscriber rather than retry from the
		// rewound position.
		s.markInvalid(relayerr.New(relayerr.KindOverrun, s.streamKey.String(), err))
		return err
	default:
		s.markInvalid(relayerr.New(relayerr.KindSocketBroken, s.streamKey.String(), err))
		return err
	}

	if n == 0 {
		return nil
	}
	if _, werr := s.conn.Write(s.scratch[:n]); werr != nil {
		s.markInvalid(relayerr.New(relayerr.KindSocketBroken, s.streamKey.String(), werr))
		return werr
	}
	s.bytesOut.Add(uint64(n))
	s.touch()
	return nil
}

func (s *subscriber) CheckState(now time.Time) State { return s.checkIdle(now) }
