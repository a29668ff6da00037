// Package gossip implements the anti-entropy protocol that converges
// ChatMesh nodes without central coordination.
//
// Two mechanisms cooperate:
//
//   - Push: a background loop that, every interval, picks one random
//     peer and sends it the full local message set, one message per
//     request to the peer's replication endpoint. The receiver's
//     idempotent ingestion makes repeated pushes harmless.
//   - Pull: an on-demand room sync that queries a bounded number of
//     random peers for a room's messages and stores the unseen ones,
//     merging their vector clocks into local state.
//
// Individual peer faults are logged and skipped in both directions;
// the mesh tolerates partial unavailability and the next round retries
// with a freshly chosen peer.
package gossip
