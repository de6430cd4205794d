// Package memory provides the in-process cache implementation.
//
// It is suitable for single-process deployments only; horizontally scaled
// deployments should use the Redis-backed cache so all instances observe the
// same entries.
package memory

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a namespaced key-value store with per-entry TTL and an LRU bound.
// Expiry is lazy on read plus a periodic sweep; the LRU cap keeps memory
// growth bounded regardless of write volume. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	m        map[string]*entry
	order    *list.List // front = most recently used
	capacity int

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// New constructs a Cache holding at most capacity entries. A sweepInterval
// of zero disables the background sweep; lazy expiry still applies.
func New(capacity int, sweepInterval time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	c := &Cache{
		m:         make(map[string]*entry),
		order:     list.New(),
		capacity:  capacity,
		stopSweep: make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepRoutine(sweepInterval)
	}
	return c
}

func cacheKey(namespace, key string) string { return namespace + ":" + key }

// Get returns the value for (namespace, key), or ok=false on a miss. A value
// past its TTL is removed and reported as a miss.
func (c *Cache) Get(_ context.Context, namespace, key string) ([]byte, bool) {
	k := cacheKey(namespace, key)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[k]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(k, e)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Set stores value under (namespace, key) for ttl. A re-set overwrites the
// previous value and deadline. When the cache is full the least recently used
// entry is evicted.
func (c *Cache) Set(_ context.Context, namespace, key string, value []byte, ttl time.Duration) {
	k := cacheKey(namespace, key)
	deadline := time.Now().Add(ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[k]; ok {
		e.value = value
		e.expiresAt = deadline
		c.order.MoveToFront(e.elem)
		return
	}
	if len(c.m) >= c.capacity {
		if back := c.order.Back(); back != nil {
			oldKey := back.Value.(string)
			c.removeLocked(oldKey, c.m[oldKey])
		}
	}
	e := &entry{key: k, value: value, expiresAt: deadline}
	e.elem = c.order.PushFront(k)
	c.m[k] = e
}

// Delete removes the entry for (namespace, key) if present.
func (c *Cache) Delete(_ context.Context, namespace, key string) {
	k := cacheKey(namespace, key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[k]; ok {
		c.removeLocked(k, e)
	}
}

// Len returns the current number of entries, counting not-yet-swept expired
// ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Stop terminates the background sweep routine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopSweep) })
}

func (c *Cache) removeLocked(k string, e *entry) {
	c.order.Remove(e.elem)
	delete(c.m, k)
}

func (c *Cache) sweepRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	expired := 0
	for k, e := range c.m {
		if now.After(e.expiresAt) {
			c.removeLocked(k, e)
			expired++
		}
	}
	c.mu.Unlock()
	if expired > 0 {
		slog.Debug("cache sweep removed expired entries", slog.Int("count", expired))
	}
}
