// Package service provides domain services for ChatMesh.
//
// Domain services contain the business logic and orchestrate operations
// on domain models. They define interfaces for storage and transport
// dependencies, allowing for dependency injection and testability.
//
// This package contains:
//
//   - NodeService: node lifecycle, local sends, inbound replication,
//     reads, sync triggers, and peer registration
//   - State: volatile per-room vector clocks, rebuilt on startup from
//     snapshots plus message replay
//   - Provider: credential authentication resolving stable user ids
//
// Services are thread-safe and designed for concurrent request
// handling alongside the background gossip and fanout loops.
package service
