package role

import (
	"time"

	"github.com/srtrelay/srtrelay/internal/core/stream"
	"github.com/srtrelay/srtrelay/internal/transport/srt"
)

// Player is the Role bound to a viewer connection: a plain subscriber with
// no relay semantics attached.
type Player struct {
	subscriber
}

// NewPlayer wires conn as a viewer of st, attaching it to the Stream's
// subscriber set immediately so publisher teardown can reach it.
func NewPlayer(conn srt.Conn, st *stream.Stream, idleTimeout time.Duration, cleanup func(reason error)) *Player {
	pl := &Player{subscriber: newSubscriber(KindPlayer, conn, st, idleTimeout, cleanup)}
	pl.attach(pl)
	return pl
}

func (pl *Player) Uninit() {
	pl.runUninit()
}
