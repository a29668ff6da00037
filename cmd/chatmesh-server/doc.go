// Command chatmesh-server runs one ChatMesh node.
//
// A node exposes the HTTP API and WebSocket endpoint, persists
// messages in an embedded Badger store, replicates them to its
// configured peers through gossip, and fans accepted messages out to
// connected clients across the cluster bus.
//
// Usage:
//
//	chatmesh-server -config config.yaml
//	chatmesh-server -version
//
// Configuration is read from the YAML file, overridable with
// CHATMESH_* environment variables (CHATMESH_SERVER_ADDR,
// CHATMESH_NODE_ID, ...). Editing the config file at runtime
// hot-reloads the log level and the gossip peer list.
package main
