// Package httpapi implements the HTTP stats surface: GET /stats, the
// periodic stat_post_url push, the GET /stats/ws live feed, an optional
// host resource object, and on_event_url callbacks.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/srtrelay/srtrelay/internal/hostmon"
	"github.com/srtrelay/srtrelay/internal/role"
	"github.com/srtrelay/srtrelay/internal/statsreg"
)

// PublisherStats is one entry in the GET /stats "publishers" map.
type PublisherStats struct {
	PktRcvLoss    uint64  `json:"pktRcvLoss"`
	PktRcvDrop    uint64  `json:"pktRcvDrop"`
	BytesRcvLoss  uint64  `json:"bytesRcvLoss"`
	BytesRcvDrop  uint64  `json:"bytesRcvDrop"`
	MbpsRecvRate  float64 `json:"mbpsRecvRate"`
	RTTMs         float64 `json:"rtt"`
	MsRcvBuf      int     `json:"msRcvBuf"`
	MbpsBandwidth float64 `json:"mbpsBandwidth"`
	BitrateMbps   float64 `json:"bitrate"`
	UptimeSeconds float64 `json:"uptime"`
	PeerAddr      string  `json:"peerAddr"`
}

func toPublisherStats(s role.Stats) PublisherStats {
	return PublisherStats{
		PktRcvLoss:    s.SRT.PktRcvLoss,
		PktRcvDrop:    s.SRT.PktRcvDrop,
		BytesRcvLoss:  s.SRT.BytesRcvLoss,
		BytesRcvDrop:  s.SRT.BytesRcvDrop,
		MbpsRecvRate:  s.SRT.MbpsRecvRate,
		RTTMs:         s.SRT.RTTMs,
		MsRcvBuf:      s.SRT.MsRcvBuf,
		MbpsBandwidth: s.SRT.MbpsBandwidth,
		BitrateMbps:   s.SRT.BitrateMbps,
		UptimeSeconds: time.Since(s.Start).Seconds(),
		PeerAddr:      s.PeerAddr,
	}
}

// Response is the full GET /stats payload.
type Response struct {
	Status     string                    `json:"status"`
	Publishers map[string]PublisherStats `json:"publishers"`
	Host       *hostmon.Stats            `json:"host,omitempty"`
}

// Server serves the HTTP stats surface for one process: GET /stats,
// GET /stats/ws, and the snapshot used by the periodic stat_post_url push.
type Server struct {
	stats      *statsreg.Registry
	host       *hostmon.Monitor
	corsHeader string
	log        zerolog.Logger

	hub *wsHub
}

// NewServer builds a Server around a generation's stats registry. host may
// be nil to omit the host object from responses.
func NewServer(stats *statsreg.Registry, host *hostmon.Monitor, corsHeader string, log zerolog.Logger) *Server {
	return &Server{
		stats:      stats,
		host:       host,
		corsHeader: corsHeader,
		log:        log.With().Str("component", "httpapi").Logger(),
		hub:        newWSHub(),
	}
}

// Snapshot builds the current Response. A non-empty resetKey ("reset=1")
// zeroes that publisher's interval counters after they have been read.
func (s *Server) Snapshot(resetKey string) Response {
	raw := s.stats.Snapshot()
	if resetKey != "" {
		s.stats.Reset(resetKey)
	}
	publishers := make(map[string]PublisherStats, len(raw))
	for k, v := range raw {
		publishers[k] = toPublisherStats(v)
	}
	resp := Response{Status: "ok", Publishers: publishers}
	if s.host != nil {
		hs := s.host.Stats()
		resp.Host = &hs
	}
	return resp
}

func (s *Server) setCORS(w http.ResponseWriter) {
	if s.corsHeader != "" {
		w.Header().Set("Access-Control-Allow-Origin", s.corsHeader)
	}
}

// ServeStats implements GET /stats?publisher=<key>[&reset=1].
//
// The "publisher" query param, if present, does not currently narrow the
// response on its own — it only takes effect in combination with reset, so
// a bare filtered single-publisher view is left for a future extension.
func (s *Server) ServeStats(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resetKey := ""
	if r.URL.Query().Get("reset") == "1" {
		resetKey = r.URL.Query().Get("publisher")
	}
	resp := s.Snapshot(resetKey)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn().Err(err).Msg("encode stats response")
	}
}

// RegisterRoutes wires every httpapi endpoint onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stats", s.ServeStats)
	mux.HandleFunc("/stats/ws", s.ServeWS)
}

// BroadcastLoop pushes a Snapshot to every connected /stats/ws client every
// interval, until stop is closed.
func (s *Server) BroadcastLoop(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.hub.broadcast(s.Snapshot(""))
		}
	}
}
