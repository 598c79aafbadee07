// Package version is the per-key version stamp registry spec.md §4.6
// maintains so L1 inserts, L2 writes, and incoming invalidation
// messages can all agree on "is this older or newer than what's
// cached" without a round trip to L2.
package version

import (
	"sync"
	"sync/atomic"

	"github.com/Kirky-X/oxcache/pkg/shard"
)

const shardCount = 32

// Registry hands out monotonically increasing version numbers per key.
type Registry struct {
	shards []*lane
}

type lane struct {
	mu sync.Mutex
	m  map[string]*atomic.Uint64
}

// New builds an empty Registry.
func New() *Registry {
	r := &Registry{shards: make([]*lane, shardCount)}
	for i := range r.shards {
		r.shards[i] = &lane{m: make(map[string]*atomic.Uint64)}
	}
	return r
}

func (r *Registry) counterFor(key string) *atomic.Uint64 {
	ln := r.shards[shard.Of(key, shardCount)]
	ln.mu.Lock()
	defer ln.mu.Unlock()
	c, ok := ln.m[key]
	if !ok {
		c = &atomic.Uint64{}
		ln.m[key] = c
	}
	return c
}

// Next returns the next version to stamp a new write to key with.
func (r *Registry) Next(key string) uint64 {
	return r.counterFor(key).Add(1)
}

// Current returns the version currently stamped for key, 0 if never set.
func (r *Registry) Current(key string) uint64 {
	return r.counterFor(key).Load()
}

// Observe folds an externally-seen version (e.g. from an inbound
// invalidation message or an L2 read) into the registry, advancing the
// local counter to it if it's newer. This is what keeps a freshly
// started instance from handing out versions an older instance already
// used.
func (r *Registry) Observe(key string, seen uint64) {
	c := r.counterFor(key)
	for {
		cur := c.Load()
		if seen <= cur {
			return
		}
		if c.CompareAndSwap(cur, seen) {
			return
		}
	}
}
