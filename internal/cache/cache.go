package cache

import (
	"sync"

	"github.com/streetpano/measuresync/pkg/core"
)

// TargetCache maps target features to the row ids of their stored
// measurements, so repeated saves of the open measurement skip the lookup.
type TargetCache struct {
	m   sync.RWMutex
	ids map[core.TargetBinding]uint
}

func NewTargetCache() *TargetCache {
	return &TargetCache{
		ids: make(map[core.TargetBinding]uint),
	}
}

// Get retrieves the row id stored for target
func (c *TargetCache) Get(target core.TargetBinding) (uint, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	id, ok := c.ids[target]
	return id, ok
}

// Set stores the row id for target
func (c *TargetCache) Set(target core.TargetBinding, id uint) {
	c.m.Lock()
	defer c.m.Unlock()
	c.ids[target] = id
}

// Delete removes target from the cache
func (c *TargetCache) Delete(target core.TargetBinding) {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.ids, target)
}

// Len returns the number of cached targets
func (c *TargetCache) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.ids)
}

func (c *TargetCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.ids = make(map[core.TargetBinding]uint)
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
