// Package promotion implements promote-on-hit (spec.md §4.9): an L2
// hit that missed L1 gets backfilled into L1 so the next read for the
// same key is local. Promotion is coalesced through the Single-Flight
// Registry so a burst of concurrent L2 hits for the same cold key
// produces one L1 insert, not a thundering herd of redundant writes.
package promotion

import (
	"context"

	"github.com/Kirky-X/oxcache/l1"
	"github.com/Kirky-X/oxcache/singleflight"
)

// Manager promotes L2 hits into L1 under a size cap and single-flight coalescing.
type Manager struct {
	enabled  bool
	maxBytes int
	store    *l1.Store
	coalesce *singleflight.Registry
}

// New builds a Manager. maxBytes <= 0 means no size cap.
func New(enabled bool, maxBytes int, store *l1.Store, coalesce *singleflight.Registry) *Manager {
	return &Manager{enabled: enabled, maxBytes: maxBytes, store: store, coalesce: coalesce}
}

// Promote backfills value into L1 at version, unless promotion is
// disabled, the value exceeds the configured size cap, or a
// concurrently-arriving invalidation already stamped a newer version
// for key (l1.Store.Insert is itself version-gated, so that race
// resolves correctly even without an explicit check here). A promoted
// entry takes L1's default TTL — L2 does not expose its remaining TTL
// cheaply, so promotion cannot preserve the original deadline exactly.
func (m *Manager) Promote(ctx context.Context, key string, value []byte, version uint64) {
	if !m.enabled {
		return
	}
	if m.maxBytes > 0 && len(value) > m.maxBytes {
		return
	}

	promoteKey := "promote:" + key
	_, _ = m.coalesce.Do(ctx, promoteKey, func() (interface{}, error) {
		m.store.Insert(key, value, version, 0)
		return nil, nil
	})
}
