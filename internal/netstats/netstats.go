// Package netstats holds a small read-through cache of connectivity and
// sync-lag data, refreshed by whichever service observes it and read
// concurrently by the read API for derived stats (§9 "global-ish
// in-memory caches" — a small value behind a reader-writer lock, owned
// by its constructor rather than a process-wide singleton).
package netstats

import (
	"sync"
	"time"
)

// Snapshot is the cache's current view of chain connectivity.
type Snapshot struct {
	LatestNetworkBlock uint64
	LatestIndexedBlock uint64
	ExecutionHealthy   bool
	BeaconHealthy      bool
	AsOf               time.Time
}

// Cache is a read-through snapshot behind a RWMutex; readers never
// block each other, writers hold the lock briefly.
type Cache struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{}
}

// Update replaces the cached snapshot. Callers should pass a timestamp
// they already have (e.g. from the fetcher's tick) rather than stamping
// it here, keeping this package free of wall-clock reads.
func (c *Cache) Update(snap Snapshot) {
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

// Get returns the current snapshot.
func (c *Cache) Get() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// SyncPercent returns the indexer's progress toward the network tip as
// a percentage in [0, 100].
func (s Snapshot) SyncPercent() float64 {
	if s.LatestNetworkBlock == 0 {
		return 0
	}
	pct := float64(s.LatestIndexedBlock) / float64(s.LatestNetworkBlock) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
