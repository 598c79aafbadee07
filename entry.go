// Package oxcache is a two-level embedded cache: a bounded in-process
// tier (L1) in front of a shared Redis-compatible tier (L2), kept
// coherent across instances by version-stamped invalidation messages
// and made resilient to L2 outages by a write-ahead log.
//
// Construct one Client per named service via Manager, or directly via
// NewClient for a single-service embedding.
package oxcache

import "time"

// Entry is what Get returns: the cached bytes plus the version they
// were stamped with, per §3's data model.
type Entry struct {
	Value   []byte
	Version uint64
}

// Stats is a point-in-time snapshot of a Client's counters. It exists
// for diagnostics only; metrics emission is out of scope (§1).
type Stats struct {
	L1Len        int
	L1Hits       uint64
	L1Misses     uint64
	L2Hits       uint64
	L2Misses     uint64
	Promotions   uint64
	BatchQueued  int
	HealthState  string
	WalLen       uint64
	LastObserved time.Time
}
