// Package invalidation is the cross-instance invalidation bus spec.md
// §4.7/§6 describes: a version-stamped message published to every
// other instance of a service whenever a key is written or deleted, so
// their L1 tiers stay coherent without a shared clock or a central
// coordinator.
//
// The donor's pkg/pubsub events (InvalidationEvent/RefreshEvent, each
// carrying a Version field, JSON-encoded over encore.dev/pubsub) ground
// the message shape and the "always carry a version" discipline; the
// wire format itself is replaced with the compact binary framing §6
// specifies, since there's no Encore broker here — messages ride
// ordinary Redis pub/sub.
package invalidation

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	magic         uint16 = 0x0C1C
	wireVersion   uint8  = 1
	channelPrefix        = "oxcache.inv."
)

// Message is one invalidation event: key was written or deleted with
// entryVersion by the instance identified by Origin.
type Message struct {
	Service      string
	Key          string
	EntryVersion uint64
	Origin       uuid.UUID
	TsMs         uint64
}

// Channel returns the Redis pub/sub channel name for service.
func Channel(service string) string {
	return channelPrefix + service
}

// Encode serializes m to its wire form:
//
//	u16 magic
//	u8  version
//	u16 service_len + service bytes
//	u32 key_len + key bytes
//	u64 entry_version
//	16 bytes origin (uuid)
//	u64 ts_ms
func Encode(m Message) []byte {
	out := make([]byte, 0, 2+1+2+len(m.Service)+4+len(m.Key)+8+16+8)

	buf2 := make([]byte, 2)
	binary.BigEndian.PutUint16(buf2, magic)
	out = append(out, buf2...)
	out = append(out, wireVersion)

	binary.BigEndian.PutUint16(buf2, uint16(len(m.Service)))
	out = append(out, buf2...)
	out = append(out, m.Service...)

	buf4 := make([]byte, 4)
	binary.BigEndian.PutUint32(buf4, uint32(len(m.Key)))
	out = append(out, buf4...)
	out = append(out, m.Key...)

	buf8 := make([]byte, 8)
	binary.BigEndian.PutUint64(buf8, m.EntryVersion)
	out = append(out, buf8...)

	origin := m.Origin
	out = append(out, origin[:]...)

	binary.BigEndian.PutUint64(buf8, m.TsMs)
	out = append(out, buf8...)

	return out
}

// Decode parses a message, ignoring payloads with an unrecognized
// magic or version rather than erroring — a future wire revision
// should be able to coexist on the same channel during a rolling
// deploy instead of poisoning every subscriber.
func Decode(data []byte) (Message, bool, error) {
	if len(data) < 3 {
		return Message{}, false, nil
	}
	if binary.BigEndian.Uint16(data[0:2]) != magic {
		return Message{}, false, nil
	}
	if data[2] != wireVersion {
		return Message{}, false, nil
	}
	pos := 3

	if len(data) < pos+2 {
		return Message{}, false, fmt.Errorf("invalidation: truncated service length")
	}
	svcLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if len(data) < pos+svcLen {
		return Message{}, false, fmt.Errorf("invalidation: truncated service")
	}
	service := string(data[pos : pos+svcLen])
	pos += svcLen

	if len(data) < pos+4 {
		return Message{}, false, fmt.Errorf("invalidation: truncated key length")
	}
	keyLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if len(data) < pos+keyLen {
		return Message{}, false, fmt.Errorf("invalidation: truncated key")
	}
	key := string(data[pos : pos+keyLen])
	pos += keyLen

	if len(data) < pos+8 {
		return Message{}, false, fmt.Errorf("invalidation: truncated entry version")
	}
	entryVersion := binary.BigEndian.Uint64(data[pos : pos+8])
	pos += 8

	if len(data) < pos+16 {
		return Message{}, false, fmt.Errorf("invalidation: truncated origin")
	}
	var origin uuid.UUID
	copy(origin[:], data[pos:pos+16])
	pos += 16

	if len(data) < pos+8 {
		return Message{}, false, fmt.Errorf("invalidation: truncated timestamp")
	}
	tsMs := binary.BigEndian.Uint64(data[pos : pos+8])

	return Message{
		Service:      service,
		Key:          key,
		EntryVersion: entryVersion,
		Origin:       origin,
		TsMs:         tsMs,
	}, true, nil
}
