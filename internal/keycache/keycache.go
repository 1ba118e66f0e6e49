// Package keycache keeps peer public keys on the client for a bounded time
// so a chat view does not refetch the key on every message.
package keycache

import (
	"sync"
	"time"
)

// DefaultTTL matches how long the native client trusted a fetched key.
const DefaultTTL = 5 * time.Minute

// Clock is the time source. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

type entry struct {
	value   string
	fetched time.Time
}

type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   Clock
	entries map[string]entry
}

func New(ttl time.Duration, clock Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// Get returns the cached value for key if it was stored less than ttl ago.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		return "", false
	}
	return e.value, true
}

func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, fetched: c.clock.Now()}
}

// EvictExpired drops stale entries and reports how many were removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e entry) bool {
	return c.clock.Now().Sub(e.fetched) >= c.ttl
}
