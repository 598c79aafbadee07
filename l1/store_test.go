package l1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(Config{MaxCapacity: 100, TTL: time.Minute})
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore()
	s.Insert("svc:a", []byte("1"), 1, 0)

	e, ok := s.Get("svc:a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), e.Value)
	require.Equal(t, uint64(1), e.Version)
}

func TestInsertDoesNotRegressVersion(t *testing.T) {
	s := newTestStore()
	s.Insert("svc:a", []byte("new"), 5, 0)
	s.Insert("svc:a", []byte("stale"), 2, 0)

	e, ok := s.Get("svc:a")
	require.True(t, ok)
	require.Equal(t, []byte("new"), e.Value)
}

func TestRemoveIfVersionLt(t *testing.T) {
	s := newTestStore()
	s.Insert("svc:a", []byte("1"), 3, 0)

	s.RemoveIfVersionLt("svc:a", 2)
	_, ok := s.Get("svc:a")
	require.True(t, ok, "should survive an older invalidation version")

	s.RemoveIfVersionLt("svc:a", 5)
	_, ok = s.Get("svc:a")
	require.False(t, ok, "should be removed by a newer invalidation version")
}

func TestClear(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 10; i++ {
		s.Insert(string(rune('a'+i)), []byte("x"), 1, 0)
	}
	require.Equal(t, 10, s.Len())
	s.Clear()
	require.Equal(t, 0, s.Len())
}

func TestTTIExpiry(t *testing.T) {
	s := New(Config{MaxCapacity: 100, TTL: time.Hour, TTI: 10 * time.Millisecond})
	s.Insert("svc:a", []byte("1"), 1, 0)

	time.Sleep(20 * time.Millisecond)
	_, ok := s.Get("svc:a")
	require.False(t, ok)
}

func TestPerEntryTTLOverridesDefault(t *testing.T) {
	s := New(Config{MaxCapacity: 100, TTL: time.Hour})
	s.Insert("svc:a", []byte("short"), 1, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, ok := s.Get("svc:a")
	require.False(t, ok, "an entry inserted with a short per-call ttl should expire before the store default")
}

func TestZeroTTLFallsBackToDefault(t *testing.T) {
	s := New(Config{MaxCapacity: 100, TTL: 10 * time.Millisecond})
	s.Insert("svc:a", []byte("1"), 1, 0)

	time.Sleep(20 * time.Millisecond)
	_, ok := s.Get("svc:a")
	require.False(t, ok, "ttl<=0 at insert should fall back to the store's configured default TTL")
}
