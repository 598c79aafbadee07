package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Op identifies what a WAL record replays as.
type Op uint8

const (
	OpSet Op = iota
	OpDelete
)

// Record is one write-ahead log entry: a queued L2 write the Batch
// Writer could not yet apply, per spec.md §4.4/§6.
//
// Wire layout (little-endian throughout):
//
//	u32 length        length of everything after this field
//	u64 sequence      monotonic, assigned by the WAL on Append
//	u8  op            OpSet | OpDelete
//	u64 version       version stamp this write carries
//	u32 key_len + key bytes
//	u32 value_len + value bytes   (OpSet only)
//	i64 ttl_seconds                (OpSet only; -1 means no TTL)
//	u64 enqueue_ts_ms  when the write was first queued, for staleness checks
//	u32 crc32c         checksum of every byte between the length field and this one
type Record struct {
	Sequence    uint64
	Op          Op
	Key         string
	Version     uint64
	Value       []byte
	TTLSeconds  int64
	EnqueueTsMs uint64
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(r Record) []byte {
	var body bytes.Buffer
	body.Grow(64 + len(r.Key) + len(r.Value))

	_ = binary.Write(&body, binary.LittleEndian, r.Sequence)
	_ = binary.Write(&body, binary.LittleEndian, uint8(r.Op))
	_ = binary.Write(&body, binary.LittleEndian, r.Version)

	_ = binary.Write(&body, binary.LittleEndian, uint32(len(r.Key)))
	body.WriteString(r.Key)

	if r.Op == OpSet {
		_ = binary.Write(&body, binary.LittleEndian, uint32(len(r.Value)))
		body.Write(r.Value)
		_ = binary.Write(&body, binary.LittleEndian, r.TTLSeconds)
	}

	_ = binary.Write(&body, binary.LittleEndian, r.EnqueueTsMs)

	crc := crc32.Checksum(body.Bytes(), crcTable)

	out := make([]byte, 4+body.Len()+4)
	binary.LittleEndian.PutUint32(out[:4], uint32(body.Len()+4))
	copy(out[4:], body.Bytes())
	binary.LittleEndian.PutUint32(out[4+body.Len():], crc)
	return out
}

// decodeRecord parses one record body (everything after the length
// prefix, including the trailing checksum) and verifies its CRC.
func decodeRecord(body []byte) (Record, error) {
	if len(body) < 4 {
		return Record{}, fmt.Errorf("wal: record too short (%d bytes)", len(body))
	}
	payload, wantCRC := body[:len(body)-4], binary.LittleEndian.Uint32(body[len(body)-4:])
	if got := crc32.Checksum(payload, crcTable); got != wantCRC {
		return Record{}, fmt.Errorf("%w: got %x want %x", errChecksumMismatch, got, wantCRC)
	}

	r := Record{}
	buf := bytes.NewReader(payload)

	if err := binary.Read(buf, binary.LittleEndian, &r.Sequence); err != nil {
		return Record{}, err
	}
	var op uint8
	if err := binary.Read(buf, binary.LittleEndian, &op); err != nil {
		return Record{}, err
	}
	r.Op = Op(op)
	if err := binary.Read(buf, binary.LittleEndian, &r.Version); err != nil {
		return Record{}, err
	}

	var keyLen uint32
	if err := binary.Read(buf, binary.LittleEndian, &keyLen); err != nil {
		return Record{}, err
	}
	key := make([]byte, keyLen)
	if _, err := buf.Read(key); err != nil {
		return Record{}, err
	}
	r.Key = string(key)

	if r.Op == OpSet {
		var valLen uint32
		if err := binary.Read(buf, binary.LittleEndian, &valLen); err != nil {
			return Record{}, err
		}
		value := make([]byte, valLen)
		if _, err := buf.Read(value); err != nil {
			return Record{}, err
		}
		r.Value = value
		if err := binary.Read(buf, binary.LittleEndian, &r.TTLSeconds); err != nil {
			return Record{}, err
		}
	}

	if err := binary.Read(buf, binary.LittleEndian, &r.EnqueueTsMs); err != nil {
		return Record{}, err
	}

	return r, nil
}
