// Package config defines the chatmesh-server configuration.
//
// Configuration is a typed struct tree tagged for koanf, loaded by
// internal/infra/confloader with the priority env > file > defaults.
// Default() supplies the baseline, Verify() rejects impossible
// combinations before startup, and Sanitize() masks secrets so the
// effective configuration can be logged.
package config
