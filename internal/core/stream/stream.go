package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/srtrelay/srtrelay/internal/core/mpegts"
	"github.com/srtrelay/srtrelay/internal/core/ring"
)

// Publisher is the identity a Role exposes so the registry can enforce "one
// publisher per stream" and so a stream can tell its own bound publisher
// apart from any other Role.
type Publisher interface {
	ID() uint64
}

// Subscriber is the identity a player/pusher Role exposes so a stream can
// track and tear down its own subscribers: the set of player/pusher Roles
// reading from its buffer.
type Subscriber interface {
	ID() uint64
	// Invalidate is called by the stream when the Role must be torn down
	// for a reason outside its own I/O (publisher gone, overrun). The Role
	// marks itself Invalid at once; its Worker retires it on the next idle
	// sweep.
	Invalidate(reason error)
}

// RingBufferCapacity is the default RingBuffer size: 3188 whole 1316-byte
// (188*7) MPEG-TS-over-SRT datagrams, just over 4 MiB.
const RingBufferCapacity = 3188 * 1316

// Stream is the live state for one uplive key: the bound publisher (if
// any), its shared RingBuffer, cached priming packets, and the set of
// subscribers reading from it.
type Stream struct {
	key Key

	mu          sync.RWMutex
	publisher   Publisher
	subscribers map[uint64]Subscriber
	nextSubID   uint64

	buffer *ring.Buffer
	primer *mpegts.Primer
	pat    []byte
	pmt    []byte
	sps    []byte
	pps    []byte

	lastWriteMonoMS atomic.Int64
}

// NewStream creates an empty Stream for key with a freshly allocated
// RingBuffer of the given capacity.
func NewStream(key Key, capacity uint64) *Stream {
	return &Stream{
		key:         key,
		subscribers: make(map[uint64]Subscriber),
		nextSubID:   1,
		buffer:      ring.New(capacity, capacity/8, capacity/16),
		primer:      mpegts.NewPrimer(),
	}
}

// Key returns the stream's canonical identifier.
func (s *Stream) Key() Key { return s.key }

// Buffer returns the stream's shared RingBuffer for a subscriber to read
// from directly via its own cursor.
func (s *Stream) Buffer() *ring.Buffer { return s.buffer }

// AttachPublisher binds pub as this stream's publisher. It fails if a
// publisher is already bound.
func (s *Stream) AttachPublisher(pub Publisher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisher != nil {
		return false
	}
	s.publisher = pub
	return true
}

// DetachPublisher unbinds pub if it is the currently bound publisher
// (an identity comparison) and clears the priming cache, which belongs to
// that publisher's session. It also invalidates every current subscriber:
// losing the publisher means there is nothing left for them to read.
func (s *Stream) DetachPublisher(pub Publisher, reason error) bool {
	s.mu.Lock()
	if s.publisher == nil || s.publisher.ID() != pub.ID() {
		s.mu.Unlock()
		return false
	}
	s.publisher = nil
	s.primer = mpegts.NewPrimer()
	s.pat, s.pmt, s.sps, s.pps = nil, nil, nil, nil
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Invalidate(reason)
	}
	return true
}

// HasPublisher reports whether a publisher is currently bound.
func (s *Stream) HasPublisher() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher != nil
}

// PublisherID returns the bound publisher's ID and true, or (0, false) if
// none is bound.
func (s *Stream) PublisherID() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.publisher == nil {
		return 0, false
	}
	return s.publisher.ID(), true
}

// GetPublisher returns the bound Publisher and true, or (nil, false) if
// none is bound.
func (s *Stream) GetPublisher() (Publisher, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.publisher == nil {
		return nil, false
	}
	return s.publisher, true
}

// AttachSubscriber registers sub and returns the fresh subscriber ID; it
// does not itself create a ring cursor (that's the Role's job against
// Buffer()), it only tracks identity so the stream can invalidate
// subscribers on publisher teardown or overrun detection.
func (s *Stream) AttachSubscriber(sub Subscriber) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = sub
	return id
}

// DetachSubscriber removes a subscriber from tracking.
func (s *Stream) DetachSubscriber(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// SubscriberCount returns the number of tracked subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// IsEmpty reports whether the stream has neither a publisher nor any
// subscriber, the condition under which the registry may remove it.
func (s *Stream) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher == nil && len(s.subscribers) == 0
}

// Write appends one publisher datagram to the buffer, opportunistically
// scanning it for PAT/PMT/SPS/PPS to refresh the priming cache, and stamps
// the last-write time used by idle detection.
func (s *Stream) Write(datagram []byte) error {
	for _, c := range s.primer.Observe(datagram) {
		s.mu.Lock()
		switch c.Kind {
		case mpegts.KindPAT:
			s.pat = c.Raw
		case mpegts.KindPMT:
			s.pmt = c.Raw
		case mpegts.KindSPS:
			s.sps = c.Raw
		case mpegts.KindPPS:
			s.pps = c.Raw
		}
		s.mu.Unlock()
	}

	s.lastWriteMonoMS.Store(nowMonoMS())
	return s.buffer.Write(datagram)
}

// Priming returns the cached PAT, PMT, SPS, and PPS packets, in that order,
// omitting any not yet observed, so a late-joining subscriber can be primed
// before any live bytes.
func (s *Stream) Priming() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out [][]byte
	for _, p := range [][]byte{s.pat, s.pmt, s.sps, s.pps} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// LastWriteMonoMS returns the monotonic millisecond timestamp of the last
// successful publisher write, or 0 if none has happened yet.
func (s *Stream) LastWriteMonoMS() int64 {
	return s.lastWriteMonoMS.Load()
}

var monoStart = time.Now()

// nowMonoMS returns a monotonic millisecond clock reading independent of
// wall-clock adjustments, used for idle detection. Readings start at 1 so
// that 0 always means "no write yet".
func nowMonoMS() int64 {
	return time.Since(monoStart).Milliseconds() + 1
}
