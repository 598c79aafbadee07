// Package l1 is the in-process cache tier (spec.md §4.2). It keeps the
// donor L1Cache's shape — bounded capacity, TTL expiry, LRU eviction,
// O(1) get/set — but swaps its single map+container/list+RWMutex for a
// fixed number of hashicorp/golang-lru/v2/expirable shards, each with
// its own lock, so hot keys on different shards never contend.
package l1

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Kirky-X/oxcache/pkg/shard"
)

// Entry is the value L1 stores alongside the version stamp every
// cross-instance invalidation message compares against (spec.md §4.3,
// §4.7): an insert or removal only applies if it carries a version at
// least as new as what's already cached. Expiry is the per-entry TTL
// deadline, since insert(key, bytes, ttl_seconds, version) (§4.2) takes
// a TTL per call, not just once at construction.
type Entry struct {
	Value      []byte
	Version    uint64
	Expiry     time.Time
	LastAccess time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.Expiry.IsZero() && now.After(e.Expiry)
}

const defaultShardCount = 32

// Store is the sharded, version-gated, TTL+TTI L1 tier for one service.
// The underlying expirable LRU only supports one TTL clock per cache, so
// it is configured with the service default as a backstop and each
// entry additionally carries its own Expiry, checked on Get.
type Store struct {
	shards     []*lru.LRU[string, Entry]
	n          int
	defaultTTL time.Duration
	tti        time.Duration
}

// Config carries the subset of oxconfig.L1 the store needs.
type Config struct {
	MaxCapacity     int
	TTL             time.Duration
	TTI             time.Duration
	InitialCapacity int
}

// New builds a Store with defaultShardCount lanes, each sized to
// roughly cfg.MaxCapacity/defaultShardCount entries.
func New(cfg Config) *Store {
	n := defaultShardCount
	perShard := cfg.MaxCapacity / n
	if perShard < 1 {
		perShard = 1
	}
	s := &Store{shards: make([]*lru.LRU[string, Entry], n), n: n, defaultTTL: cfg.TTL, tti: cfg.TTI}
	for i := range s.shards {
		s.shards[i] = lru.NewLRU[string, Entry](perShard, nil, cfg.TTL)
	}
	return s
}

func (s *Store) shardFor(key string) *lru.LRU[string, Entry] {
	return s.shards[shard.Of(key, s.n)]
}

// Get returns the cached entry for key, if present and unexpired. The
// per-entry TTL set at Insert is checked first; TTI (idle expiry) is
// enforced here too since golang-lru's expirable variant only supports
// one clock per cache.
func (s *Store) Get(key string) (Entry, bool) {
	sh := s.shardFor(key)
	e, ok := sh.Get(key)
	if !ok {
		return Entry{}, false
	}
	now := time.Now()
	if e.expired(now) {
		sh.Remove(key)
		return Entry{}, false
	}
	if s.tti > 0 && now.Sub(e.LastAccess) > s.tti {
		sh.Remove(key)
		return Entry{}, false
	}
	e.LastAccess = now
	sh.Add(key, e)
	return e, true
}

// Insert stores value under key at the given version with its own TTL
// (§4.2's insert(key, bytes, ttl_seconds, version)); ttl<=0 falls back
// to the store's configured default TTL, and <=0 after that means no
// expiry. Per §4.3/§4.7 the insert is a no-op when a newer version is
// already cached, so a delayed write can never clobber a fresher one
// that raced ahead of it.
func (s *Store) Insert(key string, value []byte, version uint64, ttl time.Duration) {
	sh := s.shardFor(key)
	if existing, ok := sh.Peek(key); ok && existing.Version > version {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := Entry{Value: value, Version: version, LastAccess: time.Now()}
	if ttl > 0 {
		e.Expiry = e.LastAccess.Add(ttl)
	}
	sh.Add(key, e)
}

// Remove unconditionally deletes key.
func (s *Store) Remove(key string) {
	s.shardFor(key).Remove(key)
}

// RemoveIfVersionLt deletes key only if its cached version is strictly
// older than version. This is the primitive the Invalidation Bus
// listener uses (§4.7): a stale invalidation message must not evict an
// entry some other, newer write already replaced.
func (s *Store) RemoveIfVersionLt(key string, version uint64) {
	sh := s.shardFor(key)
	if existing, ok := sh.Peek(key); ok && existing.Version < version {
		sh.Remove(key)
	}
}

// Clear empties every shard. Used on L2 reconnect after a partition,
// when missed invalidations can no longer be trusted individually
// (§4.7).
func (s *Store) Clear() {
	for _, sh := range s.shards {
		sh.Purge()
	}
}

// Len returns the approximate total entry count across all shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.Len()
	}
	return total
}
