// Package domain defines the core domain models for ChatMesh.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - VectorClock: per-node counter map establishing causal order
//   - Message: immutable chat message, the unit of replication
//   - User: opaque identity returned by the auth boundary
//   - Errors: domain-specific error definitions
//
// VectorClock operations return new maps rather than mutating in
// place, which keeps concurrent merges safe by construction.
package domain
