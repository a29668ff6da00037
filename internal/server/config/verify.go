// Package config defines the server configuration structure.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
)

// Verify validates the configuration.
func Verify(cfg *Config) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyNode(&cfg.Node); err != nil {
		return err
	}
	if err := verifyGossip(&cfg.Gossip); err != nil {
		return err
	}
	if err := verifyBus(&cfg.Bus); err != nil {
		return err
	}
	return verifyAuth(&cfg.Auth)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.RateLimit < 0 {
		return errors.New("server.rate_limit must not be negative")
	}
	return nil
}

func verifyNode(cfg *NodeSection) error {
	if cfg.DataDir == "" {
		return errors.New("node.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	if cfg.SnapshotInterval < 0 {
		return errors.New("node.snapshot_interval must not be negative")
	}
	return nil
}

func verifyGossip(cfg *GossipSection) error {
	for _, peer := range cfg.Peers {
		u, err := url.Parse(peer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("gossip.peers entry %q is not an absolute URL", peer)
		}
	}
	if len(cfg.Peers) > 0 && cfg.AdvertiseURL == "" {
		return errors.New("gossip.advertise_url is required when peers are configured")
	}
	if cfg.AdvertiseURL != "" {
		u, err := url.Parse(cfg.AdvertiseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("gossip.advertise_url %q is not an absolute URL", cfg.AdvertiseURL)
		}
	}
	if cfg.PullFanout < 0 {
		return errors.New("gossip.pull_fanout must not be negative")
	}
	return nil
}

func verifyBus(cfg *BusSection) error {
	switch cfg.Kind {
	case "memory":
		return nil
	case "redis":
		if cfg.RedisURL == "" {
			return errors.New("bus.redis_url is required for bus.kind redis")
		}
		return nil
	default:
		return fmt.Errorf("bus.kind %q is not supported (memory, redis)", cfg.Kind)
	}
}

func verifyAuth(cfg *AuthSection) error {
	switch cfg.Backend {
	case "static":
	case "file":
		if cfg.UsersFile == "" {
			return errors.New("auth.users_file is required for auth.backend file")
		}
	default:
		return fmt.Errorf("auth.backend %q is not supported (static, file)", cfg.Backend)
	}
	if cfg.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	return nil
}
