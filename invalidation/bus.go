package invalidation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Kirky-X/oxcache/l1"
	"github.com/Kirky-X/oxcache/oxlog"
	"github.com/Kirky-X/oxcache/version"
)

// Backend is the slice of l2.Backend the Bus needs; declared locally
// to avoid importing the l2 package just for this interface.
type Backend interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, disconnected <-chan struct{}, recovered <-chan struct{}, close func() error)
}

// Bus publishes and listens for invalidation messages for one service.
type Bus struct {
	service      string
	origin       uuid.UUID
	backend      Backend
	l1           *l1.Store
	versions     *version.Registry
	log          oxlog.Logger
	onDisconnect func()
}

// New builds a Bus. origin should be stable for the process lifetime
// (generated once at Client construction) so this instance can
// recognize and discard its own published messages. onDisconnect, if
// non-nil, is called once each time the subscription drops (§4.3/§4.7),
// so the caller can tell the Health Controller; it may be nil.
func New(service string, origin uuid.UUID, backend Backend, store *l1.Store, versions *version.Registry, log oxlog.Logger, onDisconnect func()) *Bus {
	if log == nil {
		log = oxlog.NewNop()
	}
	if onDisconnect == nil {
		onDisconnect = func() {}
	}
	return &Bus{service: service, origin: origin, backend: backend, l1: store, versions: versions, log: log, onDisconnect: onDisconnect}
}

// Publish announces that key was written or deleted at entryVersion.
func (b *Bus) Publish(ctx context.Context, key string, entryVersion uint64) error {
	msg := Message{
		Service:      b.service,
		Key:          key,
		EntryVersion: entryVersion,
		Origin:       b.origin,
		TsMs:         uint64(time.Now().UnixMilli()),
	}
	return b.backend.Publish(ctx, Channel(b.service), Encode(msg))
}

// Listen subscribes to this service's channel and applies every
// foreign invalidation message to the L1 store until ctx is cancelled.
// Per §4.7: a message from this same origin is our own echo and is
// dropped; every other message removes the key from L1 only if the
// cached copy is not newer than the message's version, and folds the message's
// version into the Version Registry either way so a subsequent local
// write never hands out a version number the rest of the fleet has
// already seen.
func (b *Bus) Listen(ctx context.Context) {
	ch, disconnected, recovered, closeSub := b.backend.Subscribe(ctx, Channel(b.service))
	defer closeSub()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-disconnected:
			if !ok {
				disconnected = nil
				continue
			}
			b.log.Warn("invalidation: subscription dropped", oxlog.String("service", b.service))
			b.onDisconnect()
		case _, ok := <-recovered:
			if !ok {
				recovered = nil
				continue
			}
			b.Resync()
		case payload, ok := <-ch:
			if !ok {
				return
			}
			b.handle(payload)
		}
	}
}

func (b *Bus) handle(payload []byte) {
	msg, recognized, err := Decode(payload)
	if err != nil {
		b.log.Warn("invalidation: dropping malformed message", oxlog.String("service", b.service), oxlog.Err(err))
		return
	}
	if !recognized || msg.Origin == b.origin {
		return
	}
	// remove_if_version_lt(key, msg.version+1) (§4.7): evict when the
	// locally cached version is <= the message's, not only when strictly
	// less than it, so an invalidation for the version we currently hold
	// still evicts it.
	b.l1.RemoveIfVersionLt(msg.Key, msg.EntryVersion+1)
	b.versions.Observe(msg.Key, msg.EntryVersion)
}

// Resync clears the entire L1 store. Called after an L2 reconnect
// following a network partition, when any invalidation messages
// published during the outage were necessarily missed and can't be
// individually reconciled (§4.7).
func (b *Bus) Resync() {
	b.l1.Clear()
	b.log.Info("invalidation: l1 cleared after reconnect", oxlog.String("service", b.service))
}
