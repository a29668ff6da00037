package domain

// Peer is a replication target registered for a room. Peers are
// configured or learned from inbound replication, never discovered.
type Peer struct {
	// RoomID is the room this peer replicates.
	RoomID string `json:"room_id"`

	// URL is the peer's base URL, e.g. "http://node-b:8000".
	URL string `json:"url"`

	// LastSeen is when this peer last appeared, in float seconds
	// since the Unix epoch.
	LastSeen float64 `json:"last_seen"`
}
