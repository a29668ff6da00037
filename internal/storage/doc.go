// Package storage provides the Badger-backed persistence layer for
// ChatMesh.
//
// One database holds three record classes:
//
//   - Messages: the immutable message log, keyed by message id, with
//     secondary indexes ordered by timestamp per room and globally
//   - Snapshots: one vector clock per room, replaced on every save
//   - Peers: replication targets per room with last-seen times
//
// The store guarantees:
//
//   - Idempotent inserts: re-adding a stored message id is a no-op
//   - Ordered reads: list operations return ascending timestamp order
//   - Crash recovery: snapshot plus strictly-after message replay
//     rebuilds a room's clock without rescanning the full log
package storage
