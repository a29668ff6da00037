// Package config defines the server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr = "127.0.0.1:8000"
	DefaultDataDir  = "/var/lib/chatmesh/data"

	DefaultRateLimit = 100

	DefaultGossipInterval    = 2 * time.Second
	DefaultGossipWarmup      = 3 * time.Second
	DefaultGossipPushTimeout = 1 * time.Second
	DefaultGossipPullTimeout = 3 * time.Second
	DefaultGossipPullFanout  = 3
	DefaultGossipPageSize    = 100

	DefaultBusKind  = "memory"
	DefaultRedisURL = "redis://127.0.0.1:6379/0"

	DefaultAuthBackend = "static"
	DefaultTokenTTL    = 24 * time.Hour

	DefaultSnapshotInterval = 5 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *Config {
	return &Config{
		Server: ServerSection{
			Addr:      DefaultHTTPAddr,
			RateLimit: DefaultRateLimit,
		},
		Node: NodeSection{
			DataDir:          DefaultDataDir,
			SnapshotInterval: DefaultSnapshotInterval,
		},
		Gossip: GossipSection{
			Interval:    DefaultGossipInterval,
			Warmup:      DefaultGossipWarmup,
			PushTimeout: DefaultGossipPushTimeout,
			PullTimeout: DefaultGossipPullTimeout,
			PullFanout:  DefaultGossipPullFanout,
			PageSize:    DefaultGossipPageSize,
		},
		Bus: BusSection{
			Kind:     DefaultBusKind,
			RedisURL: DefaultRedisURL,
		},
		Auth: AuthSection{
			Backend:  DefaultAuthBackend,
			TokenTTL: DefaultTokenTTL,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
