// Package wal is the durability layer spec.md §4.4 describes: a
// per-service append-only log the Batch Writer drains into when L2 is
// Degraded, so a queued write survives a process restart instead of
// being lost.
//
// It keeps the donor scheduler WAL's shape — os.File, length-prefixed
// records, a Replay callback that tolerates a truncated final record —
// and finishes the two things its own TODOs left unbuilt: an actual
// binary encoding (wal/record.go) and a checksum (CRC32C) so a torn
// write from a crash mid-fsync is detected and dropped instead of
// corrupting every record after it.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

var (
	errClosed           = errors.New("wal: log is closed")
	errChecksumMismatch = errors.New("wal: checksum mismatch")
)

// WAL is an append-only, crash-safe queue of pending writes for one service.
type WAL struct {
	mu            sync.Mutex
	file          *os.File
	path          string
	syncBatchSize int
	pending       int
	sequence      atomic.Uint64
	count         atomic.Uint64 // records currently on disk, reset by TruncatePrefix
}

// Config carries the subset of oxconfig.TwoLevel the WAL needs.
type Config struct {
	Path          string
	SyncBatchSize int // fsync after this many appends; 1 means every append
}

// Open creates or reopens the log at cfg.Path, positioned for append.
func Open(cfg Config) (*WAL, error) {
	if cfg.SyncBatchSize <= 0 {
		cfg.SyncBatchSize = 1
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", cfg.Path, err)
	}
	w := &WAL{file: f, path: cfg.Path, syncBatchSize: cfg.SyncBatchSize}

	lastSeq, count, err := w.scanLastSequence()
	if err != nil {
		f.Close()
		return nil, err
	}
	w.sequence.Store(lastSeq)
	w.count.Store(count)
	return w, nil
}

// scanLastSequence reads the log once at open time to recover the
// sequence counter and the current on-disk record count, and to
// truncate a torn trailing record left by a crash mid-write, per
// §4.4's "corrupted tail" recovery requirement.
func (w *WAL) scanLastSequence() (seq uint64, count uint64, err error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	var lastSeq, n uint64
	var offset int64
	for {
		start := offset
		rec, sz, err := readRecordAt(w.file)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Torn write: truncate here and stop scanning.
			if truncErr := w.file.Truncate(start); truncErr != nil {
				return 0, 0, fmt.Errorf("wal: truncate corrupted tail: %w", truncErr)
			}
			break
		}
		lastSeq = rec.Sequence
		n++
		offset += sz
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return 0, 0, err
	}
	return lastSeq, n, nil
}

// Append writes rec and assigns it the next sequence number, returning
// it. Durability is batched: fsync runs every syncBatchSize appends,
// trading a small durability window for write throughput.
func (w *WAL) Append(op Op, key string, value []byte, version uint64, ttlSeconds int64, enqueueTsMs uint64) (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return Record{}, errClosed
	}

	rec := Record{
		Sequence:    w.sequence.Add(1),
		Op:          op,
		Key:         key,
		Version:     version,
		Value:       value,
		TTLSeconds:  ttlSeconds,
		EnqueueTsMs: enqueueTsMs,
	}
	data := encodeRecord(rec)
	if _, err := w.file.Write(data); err != nil {
		return Record{}, fmt.Errorf("wal: append: %w", err)
	}
	w.count.Add(1)

	w.pending++
	if w.pending >= w.syncBatchSize {
		if err := w.file.Sync(); err != nil {
			return Record{}, fmt.Errorf("wal: sync: %w", err)
		}
		w.pending = 0
	}
	return rec, nil
}

// Sync forces durability of every Append since the last Sync.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return errClosed
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	w.pending = 0
	return nil
}

// Replay reads every record in order and invokes apply for each. A
// torn trailing record (partial write from a crash) is silently
// dropped rather than surfaced as an error, matching the donor's
// "partial write at end of log is tolerable" recovery rule. The file
// position is restored to the end for further appends afterward.
func (w *WAL) Replay(apply func(Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errClosed
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}

	for {
		rec, _, err := readRecordAt(w.file)
		if err == io.EOF {
			break
		}
		if err != nil {
			break // torn tail, already handled at Open time
		}
		if err := apply(rec); err != nil {
			return fmt.Errorf("wal: apply sequence %d: %w", rec.Sequence, err)
		}
	}

	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// TruncatePrefix discards the whole log and starts a fresh empty file.
// The Two-Level Client calls this after a WAL replay has applied every
// record to L2, so the log doesn't grow unboundedly under sustained
// Degraded operation.
func (w *WAL) TruncatePrefix() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errClosed
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}
	w.pending = 0
	w.count.Store(0)
	return nil
}

// Len reports the number of records currently on disk (§4.4's len()),
// which returns to 0 once TruncatePrefix has discarded a fully-replayed
// log — distinct from the ever-increasing sequence counter Append hands out.
func (w *WAL) Len() uint64 {
	return w.count.Load()
}

// Close flushes and releases the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.file = nil
		return fmt.Errorf("wal: sync before close: %w", err)
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// readRecordAt reads one length-prefixed record from f's current
// position, returning the record, the total bytes consumed (length
// prefix included), and an error. io.EOF means a clean end of file;
// any other error means a torn or corrupted record.
func readRecordAt(f *os.File) (Record, int64, error) {
	var length uint32
	if err := binary.Read(f, binary.LittleEndian, &length); err != nil {
		return Record{}, 0, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(f, body); err != nil {
		return Record{}, 0, fmt.Errorf("wal: partial record: %w", err)
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return Record{}, 0, err
	}
	return rec, int64(4 + len(body)), nil
}
