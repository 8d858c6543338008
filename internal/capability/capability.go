// Package capability caches the latest device snapshot posted by the device
// agent.
//
// Capability scoring itself happens on the device; this cache only holds the
// most recent snapshot so the periodic trigger can run a cycle without a
// fresh reading.
package capability

import (
	"sync"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/models"
)

// SnapshotCache holds the last snapshot pushed by the device agent.
type SnapshotCache struct {
	mu        sync.RWMutex
	snapshot  models.Snapshot
	updatedAt time.Time
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{}
}

// Set stores a new snapshot with the given timestamp.
func (c *SnapshotCache) Set(snap models.Snapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snap
	c.updatedAt = now
}

// Get returns the cached snapshot and whether one has been stored yet.
func (c *SnapshotCache) Get() (models.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, !c.updatedAt.IsZero()
}

// UpdatedAt returns when the snapshot was last refreshed.
func (c *SnapshotCache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
