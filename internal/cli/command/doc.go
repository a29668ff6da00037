// Package command defines the chatmesh-cli commands.
//
// Every command is a thin client over one node's HTTP API: health,
// login, send, history, rooms, sync, peers, and watch (a live
// WebSocket feed). The node to talk to and the session token come
// from the --server/--token globals or the CHATMESH_SERVER and
// CHATMESH_TOKEN environment variables.
package command
