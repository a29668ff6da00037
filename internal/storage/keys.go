// Package storage provides the Badger-backed persistence store.
package storage

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Key layout. Every record class carries a two-byte prefix; composite
// keys separate variable-length parts with a 0x00 byte and encode
// timestamps as fixed-width big-endian microseconds so lexicographic
// key order equals chronological order.
//
//	m!<id>                  message record (JSON), source of truth
//	r!<room>\x00<ts><id>    room/time index, value = message id
//	t!<ts><id>              global time index, value = message id
//	s!<room>                snapshot record (JSON), one row per room
//	k!<room>                room-set marker
//	p!<room>\x00<url>       peer record (JSON)
const (
	prefixMessage  = "m!"
	prefixRoomIdx  = "r!"
	prefixTimeIdx  = "t!"
	prefixSnapshot = "s!"
	prefixRoomSet  = "k!"
	prefixPeer     = "p!"

	keySep = 0x00
)

// encodeTimestamp converts float seconds to 8 big-endian bytes of
// microseconds, the precision CreatedAt is generated with.
func encodeTimestamp(ts float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(math.Round(ts*1e6)))
	return buf
}

func messageKey(id string) []byte {
	return append([]byte(prefixMessage), id...)
}

func roomIndexPrefix(roomID string) []byte {
	key := append([]byte(prefixRoomIdx), roomID...)
	return append(key, keySep)
}

func roomIndexKey(roomID string, ts float64, id string) []byte {
	key := roomIndexPrefix(roomID)
	key = append(key, encodeTimestamp(ts)...)
	return append(key, id...)
}

func timeIndexKey(ts float64, id string) []byte {
	key := append([]byte(prefixTimeIdx), encodeTimestamp(ts)...)
	return append(key, id...)
}

func snapshotKey(roomID string) []byte {
	return append([]byte(prefixSnapshot), roomID...)
}

func roomSetKey(roomID string) []byte {
	return append([]byte(prefixRoomSet), roomID...)
}

// roomFromSetKey recovers the room id from a room-set key.
func roomFromSetKey(key []byte) string {
	return string(key[len(prefixRoomSet):])
}

func peerPrefix(roomID string) []byte {
	key := append([]byte(prefixPeer), roomID...)
	return append(key, keySep)
}

func peerKey(roomID, peerURL string) []byte {
	return append(peerPrefix(roomID), peerURL...)
}

// peerURLFromKey recovers the peer URL from a peer key.
// Returns "" if the key is not shaped like a peer key.
func peerURLFromKey(key []byte) string {
	rest := key[len(prefixPeer):]
	idx := bytes.IndexByte(rest, keySep)
	if idx < 0 {
		return ""
	}
	return string(rest[idx+1:])
}
