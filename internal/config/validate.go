package config

import (
	"fmt"
	"net"

	"github.com/srtrelay/srtrelay/internal/relayerr"
)

// Validate checks that all configuration values are within acceptable
// ranges and returns relayerr.ErrConfigInvalid describing the
// first failure found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return invalid("http_port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if len(c.Servers) == 0 {
		return invalid("at least one server block is required")
	}
	listenPorts := make(map[int]bool, len(c.Servers))
	for i := range c.Servers {
		if err := c.Servers[i].Validate(); err != nil {
			return fmt.Errorf("server[%d]: %w", i, err)
		}
		if listenPorts[c.Servers[i].Listen] {
			return invalid("duplicate listen port %d", c.Servers[i].Listen)
		}
		listenPorts[c.Servers[i].Listen] = true
	}
	return nil
}

// Validate checks one server block and its apps.
func (s *ServerConfig) Validate() error {
	if s.Listen <= 0 || s.Listen > 65535 {
		return invalid("listen must be between 1 and 65535, got %d", s.Listen)
	}
	if s.DomainPublisher == "" {
		return invalid("domain_publisher is required")
	}
	for i := range s.Apps {
		if err := s.Apps[i].Validate(); err != nil {
			return fmt.Errorf("app[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks one app block, its ACL rules, and its relay children.
func (a *AppConfig) Validate() error {
	if a.AppPublisher == "" {
		return invalid("app_publisher is required")
	}
	if err := validateACL(a.AllowPublish); err != nil {
		return fmt.Errorf("allow_publish: %w", err)
	}
	if err := validateACL(a.AllowPlay); err != nil {
		return fmt.Errorf("allow_play: %w", err)
	}
	for i := range a.Relays {
		if err := a.Relays[i].Validate(); err != nil {
			return fmt.Errorf("relay[%d]: %w", i, err)
		}
	}
	return nil
}

func validateACL(rules []ACLRule) error {
	for _, r := range rules {
		if r.Action != "accept" && r.Action != "deny" {
			return invalid("action must be accept or deny, got %q", r.Action)
		}
		if r.IP != "0" && net.ParseIP(r.IP) == nil {
			return invalid("ip %q is neither 0 (wildcard) nor a valid address", r.IP)
		}
	}
	return nil
}

// Validate checks one relay block.
func (r *RelayConfig) Validate() error {
	if r.Type != "pull" && r.Type != "push" {
		return invalid("type must be pull or push, got %q", r.Type)
	}
	if r.Mode != "loop" && r.Mode != "all" && r.Mode != "hash" {
		return invalid("mode must be loop, all, or hash, got %q", r.Mode)
	}
	if r.Type == "pull" && r.Mode == "all" {
		return invalid("pull relays cannot use mode all (\"all\" is a push-only fan-out mode)")
	}
	if len(r.Upstreams) == 0 {
		return invalid("at least one upstream is required")
	}
	if r.ReconnectInterval <= 0 {
		return invalid("reconnect_interval must be positive, got %d", r.ReconnectInterval)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return relayerr.New(relayerr.KindConfigInvalid, "validate", fmt.Errorf(format, args...))
}
