package storage

import (
	"bytes"
	"testing"
)

func TestEncodeTimestamp_Ordering(t *testing.T) {
	// Key order must follow timestamp order, including sub-second
	// differences down to one microsecond.
	timestamps := []float64{0, 9.999999, 10.0, 10.000001, 11.5, 1_700_000_000.25}

	for i := 1; i < len(timestamps); i++ {
		prev := encodeTimestamp(timestamps[i-1])
		cur := encodeTimestamp(timestamps[i])
		if bytes.Compare(prev, cur) >= 0 {
			t.Errorf("encode(%f) should sort before encode(%f)", timestamps[i-1], timestamps[i])
		}
	}
}

func TestRoomIndexKey_Ordering(t *testing.T) {
	early := roomIndexKey("room-a", 10.0, "id-z")
	late := roomIndexKey("room-a", 11.0, "id-a")

	if bytes.Compare(early, late) >= 0 {
		t.Error("earlier timestamp should sort before later one regardless of id")
	}
	if !bytes.HasPrefix(early, roomIndexPrefix("room-a")) {
		t.Error("room index key should carry the room prefix")
	}
}

func TestRoomFromSetKey(t *testing.T) {
	if got := roomFromSetKey(roomSetKey("general")); got != "general" {
		t.Errorf("expected room %q, got %q", "general", got)
	}
}

func TestPeerURLFromKey(t *testing.T) {
	key := peerKey("general", "http://peer:8000")
	if got := peerURLFromKey(key); got != "http://peer:8000" {
		t.Errorf("expected peer url, got %q", got)
	}
	if got := peerURLFromKey([]byte("p!no-separator")); got != "" {
		t.Errorf("expected empty url for malformed key, got %q", got)
	}
}
