// Package dedupe implements the time-windowed fingerprint cache of
// spec.md §4.B: Observe(fingerprint) reports whether a fingerprint was
// seen before within the configured window. The per-item TTL and idle
// sweep are delegated to patrickmn/go-cache (a teacher dependency declared
// but never wired in the source repo); the oldest-first insertion order
// go-cache's map doesn't track is kept in a side container/list so the
// "evict the oldest 10% on overflow" policy can be enforced regardless of
// age, and so every insertion can cheaply prune anything older than the
// window without waiting on go-cache's own janitor tick.
package dedupe

import (
	"container/list"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultWindow is RELAY_DUPLICATE_MAX_MINUTES's default.
const DefaultWindow = 15 * time.Minute

// DefaultMaxEntries bounds cache size before oldest-10% eviction kicks in.
const DefaultMaxEntries = 1_000_000

// minSweepInterval is the "at least once per minute idle" sweep cadence
// spec.md §4.B requires, independent of how long the window itself is.
const minSweepInterval = time.Minute

type node struct {
	key       string
	firstSeen time.Time
}

// Cache answers "have I seen this fingerprint within the window?" A zero
// window disables the cache entirely: Observe always reports first-time
// and nothing is stored.
type Cache struct {
	window     time.Duration
	maxEntries int

	mu    sync.Mutex
	store *gocache.Cache
	order *list.List
	elems map[string]*list.Element
}

// New returns a Cache with the given window and capacity. window <= 0
// disables the cache. maxEntries <= 0 uses DefaultMaxEntries.
func New(window time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{
		window:     window,
		maxEntries: maxEntries,
		order:      list.New(),
		elems:      make(map[string]*list.Element),
	}
	if window > 0 {
		c.store = gocache.New(window, minSweepInterval)
	}
	return c
}

// Observe records fingerprint and reports true if this is the first
// sighting within the window, false if it is a duplicate.
func (c *Cache) Observe(fingerprint [20]byte) bool {
	if c.window <= 0 {
		return true
	}

	key := string(fingerprint[:])

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.store.Get(key); found {
		return false
	}

	now := time.Now()
	c.store.SetDefault(key, now)
	c.elems[key] = c.order.PushBack(&node{key: key, firstSeen: now})

	c.sweepLocked(now)
	c.enforceCapLocked()

	return true
}

// Len reports the number of fingerprints currently tracked.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// sweepLocked drops entries older than the window, oldest first. Called on
// every insertion; go-cache's own janitor covers the "at least once per
// minute idle" half of the requirement when no inserts are happening.
func (c *Cache) sweepLocked(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		n := front.Value.(*node)
		if now.Sub(n.firstSeen) <= c.window {
			return
		}
		c.order.Remove(front)
		delete(c.elems, n.key)
		c.store.Delete(n.key)
	}
}

// enforceCapLocked evicts the oldest 10% of entries, regardless of age,
// once the cache holds more than maxEntries fingerprints (spec.md §5).
func (c *Cache) enforceCapLocked() {
	if c.order.Len() <= c.maxEntries {
		return
	}
	evict := c.maxEntries / 10
	if evict < 1 {
		evict = 1
	}
	for i := 0; i < evict; i++ {
		front := c.order.Front()
		if front == nil {
			return
		}
		n := front.Value.(*node)
		c.order.Remove(front)
		delete(c.elems, n.key)
		c.store.Delete(n.key)
	}
}
