// Package config defines the server configuration structure.
package config

import "time"

// Config is the root configuration for chatmesh-server.
type Config struct {
	Server ServerSection `koanf:"server"`
	Node   NodeSection   `koanf:"node"`
	Gossip GossipSection `koanf:"gossip"`
	Bus    BusSection    `koanf:"bus"`
	Auth   AuthSection   `koanf:"auth"`
	Log    LogSection    `koanf:"log"`
}

// ServerSection configures the HTTP endpoint.
type ServerSection struct {
	// Addr is the HTTP listen address.
	Addr string `koanf:"addr"`

	// StaticDir serves a GUI from disk when set. A missing directory
	// is logged and skipped, the API stays up either way.
	StaticDir string `koanf:"static_dir"`

	// CORSAllowedOrigins is the allowed CORS origin list (empty = allow all).
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// RateLimit is the per-IP request rate per second (0 disables).
	RateLimit int `koanf:"rate_limit"`
}

// NodeSection configures the node identity and its durable state.
type NodeSection struct {
	// ID is this node's identity. When set, the node initializes at
	// startup instead of waiting for the first login.
	ID string `koanf:"id"`

	// DataDir is the base directory for per-node store directories.
	DataDir string `koanf:"data_dir"`

	// SyncWrites forces an fsync on every store commit.
	SyncWrites bool `koanf:"sync_writes"`

	// SnapshotInterval is how often room clocks are checkpointed while
	// running (0 = only at shutdown).
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`
}

// GossipSection configures the anti-entropy protocol.
type GossipSection struct {
	// Peers is the static peer list, base URLs like "http://node-b:8000".
	Peers []string `koanf:"peers"`

	// AdvertiseURL is this node's base URL as peers reach it. Sent as
	// the push origin and filtered out of the peer set.
	AdvertiseURL string `koanf:"advertise_url"`

	// Interval between periodic push rounds.
	Interval time.Duration `koanf:"interval"`

	// Warmup delays the first push round after startup.
	Warmup time.Duration `koanf:"warmup"`

	// PushTimeout bounds each periodic push request.
	PushTimeout time.Duration `koanf:"push_timeout"`

	// PullTimeout bounds each on-demand pull request.
	PullTimeout time.Duration `koanf:"pull_timeout"`

	// PullFanout is how many peers one room sync queries at most.
	PullFanout int `koanf:"pull_fanout"`

	// PageSize is the store page size used when pushing.
	PageSize int `koanf:"page_size"`
}

// BusSection configures the cluster pub/sub bus.
type BusSection struct {
	// Kind selects the bus implementation: "memory" or "redis".
	Kind string `koanf:"kind"`

	// RedisURL is the Redis connection URL for kind "redis",
	// e.g. "redis://localhost:6379/0".
	RedisURL string `koanf:"redis_url"`
}

// AuthSection configures the login boundary.
type AuthSection struct {
	// Backend selects the credential check: "static" or "file".
	Backend string `koanf:"backend"`

	// UsersFile is the credential file for the "file" backend.
	UsersFile string `koanf:"users_file"`

	// TokenSecret signs session tokens. A random secret is generated
	// at startup when empty, so tokens then expire with the process.
	TokenSecret string `koanf:"token_secret"`

	// TokenTTL is how long issued session tokens stay valid.
	TokenTTL time.Duration `koanf:"token_ttl"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
