package toolsession

import (
	"sync"
	"time"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultCapacity = 1024
)

// Key identifies a cached session.
type Key struct {
	Identity     string
	Conversation string
}

type cacheEntry struct {
	session   *Session
	createdAt time.Time
}

// Cache holds sessions for a bounded time and count. The cache holds one
// reference on every stored session and releases it when the entry leaves,
// by expiry, eviction or invalidation. Turns that still hold the session keep
// it open until they release it too.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*cacheEntry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

func NewCache(ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make(map[Key]*cacheEntry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the live session stored under key with a reference taken for
// the caller, who must Release it.
func (c *Cache) Get(key Key) (*Session, bool) {
	return c.lookup(key, true)
}

// peek is Get without taking a reference.
func (c *Cache) peek(key Key) (*Session, bool) {
	return c.lookup(key, false)
}

func (c *Cache) lookup(key Key, retain bool) (*Session, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if c.now().Sub(entry.createdAt) > c.ttl || entry.session.Closed() {
		delete(c.entries, key)
		c.mu.Unlock()
		entry.session.Release()
		return nil, false
	}
	if retain && !entry.session.retain() {
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Unlock()
	return entry.session, true
}

// Put stores s under key, releasing any previous session stored there.
func (c *Cache) Put(key Key, s *Session) {
	var dropped []*Session
	c.mu.Lock()
	prev, ok := c.entries[key]
	switch {
	case ok && prev.session == s:
		prev.createdAt = c.now()
	case s.retain():
		if ok {
			dropped = append(dropped, prev.session)
		}
		c.entries[key] = &cacheEntry{session: s, createdAt: c.now()}
	}
	dropped = append(dropped, c.pruneLocked()...)
	c.mu.Unlock()

	for _, d := range dropped {
		d.Release()
	}
}

func (c *Cache) Invalidate(key Key) bool {
	c.mu.Lock()
	entry, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		entry.session.Release()
	}
	return ok
}

// InvalidateIdentity drops every session of identity and reports how many
// there were.
func (c *Cache) InvalidateIdentity(identity string) int {
	var dropped []*Session
	c.mu.Lock()
	for key, entry := range c.entries {
		if key.Identity == identity {
			dropped = append(dropped, entry.session)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for _, d := range dropped {
		d.Release()
	}
	return len(dropped)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close empties the cache, releasing its reference on every session.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[Key]*cacheEntry)
	c.mu.Unlock()

	for _, entry := range entries {
		entry.session.Release()
	}
}

// pruneLocked removes expired entries, then the oldest ones while over
// capacity.
func (c *Cache) pruneLocked() []*Session {
	var dropped []*Session
	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			dropped = append(dropped, entry.session)
			delete(c.entries, key)
		}
	}
	for len(c.entries) > c.capacity {
		var (
			oldestKey Key
			oldest    *cacheEntry
		)
		for key, entry := range c.entries {
			if oldest == nil || entry.createdAt.Before(oldest.createdAt) {
				oldestKey, oldest = key, entry
			}
		}
		dropped = append(dropped, oldest.session)
		delete(c.entries, oldestKey)
	}
	return dropped
}
