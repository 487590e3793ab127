package journal

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Key namespaces
//
//	Data type   Prefix  Key format             Value
//	Session     "s:"    s:<session uuid>       Session (JSON)
//	Packet      "p:"    p:<session uuid>:<seq> payload bytes
//
// Sequence numbers are big-endian uint64 so a prefix scan over a session
// yields its packets in arrival order.
const (
	prefixSession = "s:"
	prefixPacket  = "p:"
)

func keySession(id uuid.UUID) []byte {
	return append([]byte(prefixSession), id[:]...)
}

func keyPacketPrefix(id uuid.UUID) []byte {
	key := make([]byte, 0, len(prefixPacket)+len(id)+1)
	key = append(key, prefixPacket...)
	key = append(key, id[:]...)
	return append(key, ':')
}

func keyPacket(id uuid.UUID, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(keyPacketPrefix(id), seq)
}

// seqFromKey extracts the sequence number from a packet key.
func seqFromKey(key []byte) (uint64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), true
}
