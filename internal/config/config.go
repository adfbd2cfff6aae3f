// Package config loads and validates the relay's configuration. The schema
// is expressed in YAML rather than a hand-rolled text grammar, decoded
// strictly with gopkg.in/yaml.v3 so unknown keys are rejected at load time.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level `srt { }` block.
type Config struct {
	WorkerThreads       int            `yaml:"worker_threads"`
	WorkerConnections   int            `yaml:"worker_connections"`
	LogLevel            string         `yaml:"log_level"`
	LogFile             string         `yaml:"log_file"`
	StatPostURL         string         `yaml:"stat_post_url,omitempty"`
	StatPostInterval    int            `yaml:"stat_post_interval"` // seconds
	CORSHeader          string         `yaml:"cors_header,omitempty"`
	HTTPPort            int            `yaml:"http_port"`
	RecordHLSPathPrefix string         `yaml:"record_hls_path_prefix,omitempty"`
	PIDFile             string         `yaml:"pid_file"`
	Servers             []ServerConfig `yaml:"servers"`
}

// ServerConfig is one `server { }` block: a single SRT listen socket and
// the apps it serves.
type ServerConfig struct {
	Listen             int      `yaml:"listen"`
	Backlog            int      `yaml:"backlog"`
	LatencyMS          int      `yaml:"latency_ms"`
	IdleStreamsTimeout int      `yaml:"idle_streams_timeout"` // seconds
	OnEventURL         string   `yaml:"on_event_url,omitempty"`
	DomainPlayer       []string `yaml:"domain_player"`
	DomainPublisher    string   `yaml:"domain_publisher"`
	AcceptRatePerSec   float64  `yaml:"accept_rate_per_sec,omitempty"`
	Apps               []AppConfig `yaml:"apps"`
}

// AppConfig is one `app { }` block.
type AppConfig struct {
	AppPublisher string        `yaml:"app_publisher"`
	AppPlayer    string        `yaml:"app_player"`
	AllowPublish []ACLRule     `yaml:"allow_publish,omitempty"`
	AllowPlay    []ACLRule     `yaml:"allow_play,omitempty"`
	Relays       []RelayConfig `yaml:"relays,omitempty"`
}

// ACLRule is one ordered `action ip` entry; ip "0" is the wildcard entry.
type ACLRule struct {
	Action string `yaml:"action"` // "accept" | "deny"
	IP     string `yaml:"ip"`
}

// RelayConfig is one `relay { }` child of an app.
type RelayConfig struct {
	Type               string   `yaml:"type"` // "pull" | "push"
	Mode               string   `yaml:"mode"` // "loop" | "all" | "hash"
	ReconnectInterval  int      `yaml:"reconnect_interval"` // seconds
	IdleStreamsTimeout int      `yaml:"idle_streams_timeout"`
	Upstreams          []string `yaml:"upstreams"`
}

// Load reads, strictly decodes, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = 1
	}
	if c.WorkerConnections <= 0 {
		c.WorkerConnections = 1000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StatPostInterval <= 0 {
		c.StatPostInterval = 10
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
	if c.PIDFile == "" {
		c.PIDFile = "./srtrelay.pid"
	}
	for i := range c.Servers {
		c.Servers[i].setDefaults()
	}
}

func (s *ServerConfig) setDefaults() {
	if s.Backlog <= 0 {
		s.Backlog = 128
	}
	if s.LatencyMS <= 0 {
		s.LatencyMS = 100
	}
	if s.IdleStreamsTimeout <= 0 {
		s.IdleStreamsTimeout = 10
	}
}

// Latency returns the server's configured SRT latency as a duration.
func (s ServerConfig) Latency() time.Duration {
	return time.Duration(s.LatencyMS) * time.Millisecond
}

// IdleTimeout returns the server's idle_streams_timeout as a duration.
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleStreamsTimeout) * time.Second
}

// ReconnectIntervalDuration returns a relay's reconnect_interval as a duration.
func (r RelayConfig) ReconnectIntervalDuration() time.Duration {
	return time.Duration(r.ReconnectInterval) * time.Second
}

// IdleTimeout returns a relay's idle_streams_timeout as a duration,
// falling back to the owning server's value when unset.
func (r RelayConfig) IdleTimeout(serverDefault time.Duration) time.Duration {
	if r.IdleStreamsTimeout <= 0 {
		return serverDefault
	}
	return time.Duration(r.IdleStreamsTimeout) * time.Second
}

// StatPostIntervalDuration returns the top-level stat_post_interval as a duration.
func (c Config) StatPostIntervalDuration() time.Duration {
	return time.Duration(c.StatPostInterval) * time.Second
}
