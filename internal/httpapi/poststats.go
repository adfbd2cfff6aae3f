package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StatPoster periodically POSTs the stats Snapshot to a configured
// stat_post_url, scheduled with robfig/cron's "@every" spec instead of a
// hand-rolled ticker loop.
type StatPoster struct {
	url    string
	server *Server
	client *http.Client
	log    zerolog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewStatPoster builds a poster that is not yet scheduled; call Start.
func NewStatPoster(url string, server *Server, log zerolog.Logger) *StatPoster {
	return &StatPoster{
		url:    url,
		server: server,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log.With().Str("component", "stat-poster").Logger(),
		cron:   cron.New(),
	}
}

// Start schedules the POST every interval and begins running it.
func (p *StatPoster) Start(interval time.Duration) error {
	spec := "@every " + interval.String()
	id, err := p.cron.AddFunc(spec, p.post)
	if err != nil {
		return err
	}
	p.entryID = id
	p.cron.Start()
	return nil
}

// Stop halts the schedule; in-flight POSTs are allowed to finish.
func (p *StatPoster) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *StatPoster) post() {
	resp := p.server.Snapshot("")
	body, err := json.Marshal(resp)
	if err != nil {
		p.log.Warn().Err(err).Msg("marshal stat_post_url body")
		return
	}

	req, err := http.NewRequest(http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		p.log.Warn().Err(err).Msg("build stat_post_url request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("url", p.url).Msg("stat_post_url POST failed")
		return
	}
	_ = httpResp.Body.Close()
}
