package invalidation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Kirky-X/oxcache/l1"
	"github.com/Kirky-X/oxcache/version"
)

type fakeBackend struct {
	mu          sync.Mutex
	subs        []chan []byte
	disconnects []chan struct{}
	recoveries  []chan struct{}
}

func (f *fakeBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		s <- payload
	}
	return nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, channel string) (<-chan []byte, <-chan struct{}, <-chan struct{}, func() error) {
	ch := make(chan []byte, 16)
	disconnected := make(chan struct{}, 1)
	recovered := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.disconnects = append(f.disconnects, disconnected)
	f.recoveries = append(f.recoveries, recovered)
	f.mu.Unlock()
	return ch, disconnected, recovered, func() error { return nil }
}

// dropAndRecover simulates a subscription drop followed by a successful
// reconnect, for every currently-registered subscriber.
func (f *fakeBackend) dropAndRecover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.disconnects {
		f.disconnects[i] <- struct{}{}
		f.recoveries[i] <- struct{}{}
	}
}

func TestListenAppliesForeignInvalidation(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 100, TTL: time.Minute})
	store.Insert("svc:k", []byte("v1"), 1, 0)

	versions := version.New()
	backend := &fakeBackend{}

	localOrigin := uuid.New()
	bus := New("svc", localOrigin, backend, store, versions, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Listen(ctx)
	time.Sleep(20 * time.Millisecond)

	foreignOrigin := uuid.New()
	require.NoError(t, backend.Publish(ctx, Channel("svc"), Encode(Message{
		Service: "svc", Key: "svc:k", EntryVersion: 5, Origin: foreignOrigin,
	})))
	time.Sleep(30 * time.Millisecond)

	_, found := store.Get("svc:k")
	require.False(t, found, "foreign invalidation with a newer version should evict")
	require.Equal(t, uint64(5), versions.Current("svc:k"))
}

func TestListenIgnoresOwnOrigin(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 100, TTL: time.Minute})
	store.Insert("svc:k", []byte("v1"), 1, 0)

	versions := version.New()
	backend := &fakeBackend{}
	localOrigin := uuid.New()
	bus := New("svc", localOrigin, backend, store, versions, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Listen(ctx)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, backend.Publish(ctx, Channel("svc"), Encode(Message{
		Service: "svc", Key: "svc:k", EntryVersion: 99, Origin: localOrigin,
	})))
	time.Sleep(30 * time.Millisecond)

	_, found := store.Get("svc:k")
	require.True(t, found, "a message from our own origin must be ignored")
}

func TestListenEvictsOnEqualVersion(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 100, TTL: time.Minute})
	store.Insert("svc:k", []byte("v1"), 4, 0)

	versions := version.New()
	backend := &fakeBackend{}
	bus := New("svc", uuid.New(), backend, store, versions, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Listen(ctx)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, backend.Publish(ctx, Channel("svc"), Encode(Message{
		Service: "svc", Key: "svc:k", EntryVersion: 4, Origin: uuid.New(),
	})))
	time.Sleep(30 * time.Millisecond)

	_, found := store.Get("svc:k")
	require.False(t, found, "an invalidation at the same version as the cached entry must still evict it")
}

func TestResyncClearsL1(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 100, TTL: time.Minute})
	store.Insert("svc:k", []byte("v1"), 1, 0)

	bus := New("svc", uuid.New(), &fakeBackend{}, store, version.New(), nil, nil)
	bus.Resync()

	_, found := store.Get("svc:k")
	require.False(t, found)
}

func TestListenReportsDisconnect(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 100, TTL: time.Minute})
	backend := &fakeBackend{}

	var reported atomic.Bool
	bus := New("svc", uuid.New(), backend, store, version.New(), nil, func() { reported.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Listen(ctx)
	time.Sleep(20 * time.Millisecond)

	backend.dropAndRecover()
	time.Sleep(20 * time.Millisecond)

	require.True(t, reported.Load(), "a subscription drop must be reported through onDisconnect")
}

func TestListenResyncsOnRecover(t *testing.T) {
	store := l1.New(l1.Config{MaxCapacity: 100, TTL: time.Minute})
	store.Insert("svc:k", []byte("v1"), 1, 0)
	backend := &fakeBackend{}

	bus := New("svc", uuid.New(), backend, store, version.New(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Listen(ctx)
	time.Sleep(20 * time.Millisecond)

	backend.dropAndRecover()
	time.Sleep(20 * time.Millisecond)

	_, found := store.Get("svc:k")
	require.False(t, found, "a reconnect after a drop must conservatively clear L1, since any invalidations missed during the gap can't be individually reconciled")
}
