package stream

import "time"

// AppConfig is the configured scope for one publishing app ("uplive_app"):
// the ACLs and idle timeout that apply to every stream published under
// this host/app, plus the player-facing domain/app aliases that resolve
// back to it.
type AppConfig struct {
	UplivePath  string        // "host/app" of the publishing side, e.g. "publish.example/live"
	LivePaths   []string      // player-facing "host/app" aliases that resolve to UplivePath
	PublishACL  []ACLEntry
	PlayACL     []ACLEntry
	IdleTimeout time.Duration
}
