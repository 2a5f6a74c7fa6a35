// Package cyxchat is the top-level Library facade of spec Design Notes §9:
// it wires transport, connection, chat, relay and dns into one object, adds
// YAML-file configuration in the teacher's Config idiom (config.go), and
// centralizes logger setup (log.go).
package cyxchat

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/code3hr/cyxchat-sub001/chat"
	"github.com/code3hr/cyxchat-sub001/connection"
	"github.com/code3hr/cyxchat-sub001/dns"
)

// Config is spec §6's named tunables as fields, generalizing the teacher's
// flag-populated Config struct (config.go) with an optional YAML file and
// the CYXCHAT_RELAY env override.
type Config struct {
	BootstrapAddr string   `yaml:"bootstrap_addr"`
	RelayServers  []string `yaml:"relay_servers"`

	HolePunchTimeoutMS  int64 `yaml:"hole_punch_timeout_ms"`
	HolePunchAttempts   int   `yaml:"hole_punch_attempts"`
	HolePunchIntervalMS int64 `yaml:"hole_punch_interval_ms"`
	KeepaliveMS         int64 `yaml:"keepalive_ms"`
	ConnTimeoutMS       int64 `yaml:"conn_timeout_ms"`
	STUNIntervalMS      int64 `yaml:"stun_interval_ms"`
	AnnounceThrottleMS  int64 `yaml:"announce_throttle_ms"`
	FragTimeoutMS       int64 `yaml:"frag_timeout_ms"`
	RecvQueueSize       int   `yaml:"recv_queue_size"`

	DNSCacheSize       int   `yaml:"dns_cache_size"`
	DNSDefaultTTL      int64 `yaml:"dns_default_ttl_s"`
	DNSRefreshMS       int64 `yaml:"dns_refresh_ms"`
	DNSGossipHops      int   `yaml:"dns_gossip_hops"`
	DNSLookupTimeoutMS int64 `yaml:"dns_lookup_timeout_ms"`

	APIAddr     string `yaml:"api_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	IdentityDir string `yaml:"identity_dir"`
}

// DefaultConfig returns spec §6's literal defaults.
func DefaultConfig() Config {
	return Config{
		HolePunchTimeoutMS:  5_000,
		HolePunchAttempts:   5,
		HolePunchIntervalMS: 50,
		KeepaliveMS:         30_000,
		ConnTimeoutMS:       90_000,
		STUNIntervalMS:      60_000,
		AnnounceThrottleMS:  60_000,
		FragTimeoutMS:       30_000,
		RecvQueueSize:       32,
		DNSCacheSize:        128,
		DNSDefaultTTL:       3_600,
		DNSRefreshMS:        1_800_000,
		DNSGossipHops:       3,
		DNSLookupTimeoutMS:  5_000,
		APIAddr:             "127.0.0.1:8090",
		MetricsAddr:         "127.0.0.1:9090",
		IdentityDir:         "~/.cyxchat",
	}
}

// LoadConfig starts from DefaultConfig, unmarshals path over it if non-empty
// and present, then applies the CYXCHAT_RELAY env override (spec §6).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}
	if relays := os.Getenv("CYXCHAT_RELAY"); relays != "" {
		cfg.RelayServers = nil
		for _, addr := range strings.Split(relays, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				cfg.RelayServers = append(cfg.RelayServers, addr)
			}
		}
	}
	return cfg, nil
}

func (c Config) connectionConfig() connection.Config {
	return connection.Config{
		HolePunchTimeoutMS:  c.HolePunchTimeoutMS,
		HolePunchAttempts:   c.HolePunchAttempts,
		HolePunchIntervalMS: c.HolePunchIntervalMS,
		ConnTimeoutMS:       c.ConnTimeoutMS,
		AnnounceThrottleMS:  c.AnnounceThrottleMS,
		RelayServers:        c.RelayServers,
	}
}

func (c Config) chatConfig() chat.Config {
	return chat.Config{RecvQueueSize: c.RecvQueueSize}
}

func (c Config) dnsConfig() dns.Config {
	return dns.Config{CacheSize: c.DNSCacheSize}
}

func (c Config) stunInterval() time.Duration {
	return time.Duration(c.STUNIntervalMS) * time.Millisecond
}
