package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// eventBody is the small JSON payload posted to on_event_url: one of
// publish_start, publish_stop, play_start, play_stop.
type eventBody struct {
	Event     string `json:"event"`
	StreamKey string `json:"streamKey"`
	Timestamp int64  `json:"timestamp"`
}

// EventPoster fires the on_event_url callback a server block may configure.
// Fire-and-forget: failures are logged, never fatal, and never block the
// caller.
type EventPoster struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewEventPoster builds a poster for one server's on_event_url.
func NewEventPoster(url string, log zerolog.Logger) *EventPoster {
	return &EventPoster{
		url:    url,
		client: &http.Client{Timeout: 3 * time.Second},
		log:    log.With().Str("component", "on-event").Logger(),
	}
}

// Notify implements listener.EventNotifier: it posts asynchronously so the
// accept-thread or Role teardown path calling it never blocks on the
// callback's network round trip.
func (p *EventPoster) Notify(event, streamKey string) {
	go p.post(event, streamKey)
}

func (p *EventPoster) post(event, streamKey string) {
	body, err := json.Marshal(eventBody{Event: event, StreamKey: streamKey, Timestamp: time.Now().Unix()})
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		p.log.Warn().Err(err).Msg("build on_event_url request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("event", event).Str("url", p.url).Msg("on_event_url POST failed")
		return
	}
	_ = resp.Body.Close()
}
