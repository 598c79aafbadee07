package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Kirky-X/oxcache/l1"
	"github.com/Kirky-X/oxcache/singleflight"
)

func TestPromoteInsertsIntoL1(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 10, TTL: time.Minute})
	m := New(true, 0, store, singleflight.New("svc"))

	m.Promote(context.Background(), "svc:k", []byte("v"), 1)

	e, ok := store.Get("svc:k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), e.Value)
}

func TestPromoteDisabledNoOp(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 10, TTL: time.Minute})
	m := New(false, 0, store, singleflight.New("svc"))

	m.Promote(context.Background(), "svc:k", []byte("v"), 1)

	_, ok := store.Get("svc:k")
	require.False(t, ok)
}

func TestPromoteRespectsSizeCap(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 10, TTL: time.Minute})
	m := New(true, 2, store, singleflight.New("svc"))

	m.Promote(context.Background(), "svc:k", []byte("too big"), 1)

	_, ok := store.Get("svc:k")
	require.False(t, ok)
}
