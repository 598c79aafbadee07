package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.wal")
	w, err := Open(Config{Path: path, SyncBatchSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestAppendAndReplay(t *testing.T) {
	w, _ := tempWAL(t)

	_, err := w.Append(OpSet, "svc:a", []byte("1"), 1, 60, 1000)
	require.NoError(t, err)
	_, err = w.Append(OpSet, "svc:b", []byte("2"), 2, -1, 1001)
	require.NoError(t, err)
	_, err = w.Append(OpDelete, "svc:a", nil, 3, 0, 1002)
	require.NoError(t, err)

	var replayed []Record
	require.NoError(t, w.Replay(func(r Record) error {
		replayed = append(replayed, r)
		return nil
	}))

	require.Len(t, replayed, 3)
	require.Equal(t, "svc:a", replayed[0].Key)
	require.Equal(t, []byte("1"), replayed[0].Value)
	require.Equal(t, int64(60), replayed[0].TTLSeconds)
	require.Equal(t, OpDelete, replayed[2].Op)
}

func TestReopenRecoversSequence(t *testing.T) {
	w, path := tempWAL(t)
	_, err := w.Append(OpSet, "svc:a", []byte("1"), 1, 60, 1000)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := Open(Config{Path: path, SyncBatchSize: 1})
	require.NoError(t, err)
	defer w2.Close()

	rec, err := w2.Append(OpSet, "svc:b", []byte("2"), 1, 60, 1001)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rec.Sequence)
}

func TestTruncatedTailIsDropped(t *testing.T) {
	w, path := tempWAL(t)
	_, err := w.Append(OpSet, "svc:a", []byte("1"), 1, 60, 1000)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Simulate a crash mid-write: append a few garbage bytes that look
	// like the start of another record's length prefix.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xff, 0xff, 0xff, 0x7f, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := Open(Config{Path: path, SyncBatchSize: 1})
	require.NoError(t, err)
	defer w2.Close()

	var replayed []Record
	require.NoError(t, w2.Replay(func(r Record) error {
		replayed = append(replayed, r)
		return nil
	}))
	require.Len(t, replayed, 1, "torn tail record must be dropped, not replayed")
}

func TestTruncatePrefix(t *testing.T) {
	w, _ := tempWAL(t)
	_, err := w.Append(OpSet, "svc:a", []byte("1"), 1, 60, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), w.Len())

	require.NoError(t, w.TruncatePrefix())
	require.Equal(t, uint64(0), w.Len(), "len must return to 0 after a successful replay is truncated")

	var replayed []Record
	require.NoError(t, w.Replay(func(r Record) error {
		replayed = append(replayed, r)
		return nil
	}))
	require.Empty(t, replayed)
}
