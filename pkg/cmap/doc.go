// Package cmap provides a concurrent map implementation for ChatMesh.
//
// This package implements a sharded concurrent map used for hot in-memory
// state such as per-room vector clocks and per-client rate limiters:
//
//   - Sharding: Configurable shard count for parallelism
//   - Fine-grained Locking: Per-shard RWMutex for minimal contention
//   - Atomic Read-Modify-Write: Update and GetOrSet run under the shard lock
//   - Iteration: Safe iteration while holding read locks
//
// Usage:
//
//	m := cmap.New[string, VectorClock]()
//	m.Set("room", clock)
//	val, ok := m.Get("room")
//
// Thread Safety:
//
// All operations are thread-safe. Read operations (Get, Has) use RLock,
// write operations (Set, Delete, Update) use Lock.
package cmap
