package listener

import (
	"net/url"
	"strings"

	"github.com/srtrelay/srtrelay/internal/relayerr"
)

// maxStreamIDLen bounds both accepted forms: an unbounded handshake string
// is itself a resource-exhaustion vector.
const maxStreamIDLen = 1024

// defaultApp is used when a query-form stream-id's resource ("r=") carries
// no app segment of its own, a detail the wire spec leaves implicit.
const defaultApp = "live"

// ParseStreamID canonicalizes an SRT handshake stream identifier into
// (host, app, stream). Two forms are accepted:
//
//   - slash: optional leading '/', exactly three non-empty segments.
//   - query: "h=<host>&r=[<app>/]<stream>&m=<publish|request>&...", h and r
//     required; when r has no app segment the app is defaultApp.
//
// If '?' appears anywhere in raw, only the query form is attempted — the
// content before '?' is never consulted, even if it would otherwise parse
// as a valid slash form.
func ParseStreamID(raw string) (host, app, stream string, err error) {
	if len(raw) == 0 || len(raw) > maxStreamIDLen {
		return "", "", "", relayerr.New(relayerr.KindBadStreamID, "parse", nil)
	}

	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return parseQueryForm(raw[idx+1:])
	}
	if strings.ContainsRune(raw, '=') && strings.ContainsRune(raw, '&') {
		return parseQueryForm(raw)
	}
	return parseSlashForm(raw)
}

func parseSlashForm(raw string) (host, app, stream string, err error) {
	trimmed := strings.TrimPrefix(raw, "/")
	segs := strings.Split(trimmed, "/")
	if len(segs) != 3 {
		return "", "", "", relayerr.New(relayerr.KindBadStreamID, "slash-form", nil)
	}
	for _, s := range segs {
		if s == "" {
			return "", "", "", relayerr.New(relayerr.KindBadStreamID, "slash-form", nil)
		}
	}
	return segs[0], segs[1], segs[2], nil
}

func parseQueryForm(qs string) (host, app, stream string, err error) {
	values, perr := url.ParseQuery(qs)
	if perr != nil {
		return "", "", "", relayerr.New(relayerr.KindBadStreamID, "query-form", perr)
	}
	h := values.Get("h")
	r := values.Get("r")
	if h == "" || r == "" {
		return "", "", "", relayerr.New(relayerr.KindBadStreamID, "query-form", nil)
	}
	if i := strings.IndexByte(r, '/'); i >= 0 && i < len(r)-1 {
		return h, r[:i], r[i+1:], nil
	}
	return h, defaultApp, r, nil
}
