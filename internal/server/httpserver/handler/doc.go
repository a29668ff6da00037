// Package handler provides HTTP request handlers for a ChatMesh node.
//
// This package contains handlers for all HTTP endpoints:
//
//   - auth.go: login and identity lookup
//   - messages.go: message reads and the local send path
//   - rooms.go: room listing, on-demand sync, peer registry reads
//   - replication.go: the peer-to-peer replication endpoint
//   - ws.go: the real-time WebSocket endpoint
//   - health.go: health reporting
//
// All handlers follow a consistent pattern:
//
//   - Parse and validate request
//   - Call domain service
//   - Format and return response
//   - Handle errors with appropriate HTTP status codes
//
// The replication handler is the one place where the echo suppression
// rule is enforced at the boundary: it persists and causally merges
// inbound messages but never publishes them to the fanout bus.
package handler
