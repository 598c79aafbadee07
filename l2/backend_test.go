package l2

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/Kirky-X/oxcache/oxconfig"
)

func newTestBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisBackend(oxconfig.L2{
		Mode:                oxconfig.L2ModeStandalone,
		ConnectionString:    mr.Addr(),
		ConnectionTimeoutMs: 1000,
		CommandTimeoutMs:    1000,
	})
}

func TestSetAndGetWithVersion(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	defer b.Close()

	require.NoError(t, b.SetWithVersion(ctx, "svc:k", []byte("hello"), 7, time.Minute))

	value, version, found, err := b.GetWithVersion(ctx, "svc:k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), value)
	require.Equal(t, uint64(7), version)
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	defer b.Close()

	_, _, found, err := b.GetWithVersion(ctx, "svc:missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	defer b.Close()

	require.NoError(t, b.SetWithVersion(ctx, "svc:k", []byte("v"), 1, time.Minute))
	require.NoError(t, b.Delete(ctx, "svc:k"))

	_, _, found, err := b.GetWithVersion(ctx, "svc:k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	defer b.Close()

	ch, _, _, closeFn := b.Subscribe(ctx, "oxcache.inv.svc")
	defer closeFn()

	time.Sleep(50 * time.Millisecond) // let the subscription register
	require.NoError(t, b.Publish(ctx, "oxcache.inv.svc", []byte("payload")))

	select {
	case msg := <-ch:
		require.Equal(t, []byte("payload"), msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestSubscribeCancelClosesMsgs(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _, _, closeFn := b.Subscribe(ctx, "oxcache.inv.svc")
	defer closeFn()

	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "msgs must close once the subscribe context is cancelled")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for msgs to close after cancel")
	}
}

func TestPing(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()
	require.NoError(t, b.Ping(context.Background()))
}

func TestWriteBatchPipelinesSetsAndDeletes(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	defer b.Close()

	require.NoError(t, b.SetWithVersion(ctx, "svc:stale", []byte("old"), 1, time.Minute))

	errs := b.WriteBatch(ctx, []WriteOp{
		{Key: "svc:a", Value: []byte("1"), Version: 1, TTL: time.Minute},
		{Key: "svc:b", Value: []byte("2"), Version: 2, TTL: time.Minute},
		{Key: "svc:stale", IsDelete: true},
	})
	require.Len(t, errs, 3)
	for _, err := range errs {
		require.NoError(t, err)
	}

	value, version, found, err := b.GetWithVersion(ctx, "svc:a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), value)
	require.Equal(t, uint64(1), version)

	value, version, found, err = b.GetWithVersion(ctx, "svc:b")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), value)
	require.Equal(t, uint64(2), version)

	_, _, found, err = b.GetWithVersion(ctx, "svc:stale")
	require.NoError(t, err)
	require.False(t, found)
}

func TestWriteBatchEmpty(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()
	require.Empty(t, b.WriteBatch(context.Background(), nil))
}
