// Package httpserver provides the HTTP server for a ChatMesh node.
//
// This package implements the node's external API using stdlib net/http:
//
//   - Auth endpoints: /api/login, /api/me
//   - Message endpoints: /api/messages (read + send)
//   - Room endpoints: /api/rooms, /api/rooms/{room_id}/sync,
//     /api/rooms/{room_id}/peers
//   - Replication endpoint: /api/replication (peer to peer)
//   - Real-time endpoint: /ws/{room_id}
//   - Operational endpoints: /api/health, /metrics
//
// Features:
//
//   - Middleware chain: RequestID, Recover, CORS, RateLimit, Metrics, Auth
//   - Bearer session tokens issued at login, validated per request
//   - Graceful shutdown with configurable timeout
package httpserver
