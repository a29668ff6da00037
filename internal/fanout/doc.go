// Package fanout delivers messages to connected clients in real time
// across the whole cluster.
//
// The package has two halves:
//
//   - Bus: the cluster-wide pub/sub transport, with an in-process
//     implementation for single-node deployments and a Redis-backed
//     one for clusters
//   - Manager: the per-node bridge between bus channels and locally
//     connected listeners, subscribing one channel per room while the
//     room has listeners
//
// A message is published to its room's channel exactly once, by the
// node that accepted it from a client. Nodes receiving the same
// message through gossip replication store and merge it but never
// publish, so the bus carries each message once no matter how many
// replication paths delivered it.
package fanout
