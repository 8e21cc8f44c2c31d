// Package cache provides an LRU cache for immutable blob blocks.
//
// Memory held by the cache is reserved with a resource.Controller when one is
// given, so cached blocks count against the same budget as fusion runs. A
// block that does not fit the budget is simply not cached.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/geofuse/resource"
)

// Key identifies one block of a blob.
type Key struct {
	Name  string
	Block int64
}

// LRU is a byte-bounded LRU cache. It is safe for concurrent use.
// Returned slices must be treated as read-only.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates a cache holding at most capacity bytes.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached block.
func (c *LRU) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block. The cache retains b; callers must not modify it.
func (c *LRU) Set(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemSize := int64(len(b))

	if ent, ok := c.items[key]; ok {
		old := ent.Value.(*entry)
		oldSize := int64(len(old.value))
		if itemSize > c.capacity {
			c.removeElement(ent)
			return
		}
		if itemSize > oldSize {
			// Keep the old block if the budget refuses the growth.
			if err := c.rc.TryAcquireMemory(itemSize - oldSize); err != nil {
				return
			}
		} else {
			c.rc.ReleaseMemory(oldSize - itemSize)
		}
		c.size += itemSize - oldSize
		old.value = b
		c.evictList.MoveToFront(ent)
		c.evict()
		return
	}

	if itemSize > c.capacity {
		return
	}

	// Evict locally first so the released memory is available below.
	for c.size+itemSize > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}

	if err := c.rc.TryAcquireMemory(itemSize); err != nil {
		return
	}

	c.items[key] = c.evictList.PushFront(&entry{key: key, value: b})
	c.size += itemSize
}

// Invalidate removes all blocks of the named blob.
func (c *LRU) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if key.Name == name {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
}

// Stats returns the hit and miss counters.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the cached bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached blocks.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) evict() {
	for c.size > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
	}
}

func (c *LRU) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry)
	delete(c.items, kv.key)
	itemSize := int64(len(kv.value))
	c.size -= itemSize
	c.rc.ReleaseMemory(itemSize)
}
