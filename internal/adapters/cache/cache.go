// Package cache reuses recent recognition results keyed by a fingerprint of
// the raw sensed region, so unchanged regions skip recomputation.
package cache

import (
	"container/list"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/pkg/metrics"
)

// Default cache configuration constants.
const (
	defaultTTL     = 2 * time.Second
	defaultMaxSize = 1024
)

// Stats counts cache activity since creation.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Size        int    `json:"size"`
}

// entry is one cached value.
type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

// Cache is a TTL + LRU cache safe for concurrent use. Set is
// last-writer-wins; there are no transactions.
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	name    string
	stats   Stats
}

// New creates a cache with configuration options.
func New[V any](opts ...Option) *Cache[V] {
	s := settings{
		ttl:     defaultTTL,
		maxSize: defaultMaxSize,
		now:     time.Now,
		name:    "detection",
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Cache[V]{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     s.ttl,
		maxSize: s.maxSize,
		now:     s.now,
		name:    s.name,
	}
}

// Get returns the value for key if present and younger than its TTL.
// Expired entries are evicted lazily.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		metrics.RecordCacheMiss(c.name)
		return zero, false
	}
	e := el.Value.(*entry[V])
	if e.expired(c.now()) {
		c.removeElement(el)
		c.stats.Expirations++
		c.stats.Misses++
		metrics.RecordCacheMiss(c.name)
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	metrics.RecordCacheHit(c.name)
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key, evicting the least recently used entry
// when the cache is full.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.insertedAt = now
		e.ttl = ttl
		c.order.MoveToFront(el)
		return
	}

	for len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	el := c.order.PushFront(&entry[V]{key: key, value: value, insertedAt: now, ttl: ttl})
	c.items[key] = el
	metrics.UpdateCacheSize(c.name, len(c.items))
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (c *Cache[V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry[V]).expired(now) {
			c.removeElement(el)
			c.stats.Expirations++
			removed++
		}
		el = prev
	}
	return removed
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	metrics.UpdateCacheSize(c.name, 0)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// evictOldest removes the least recently used entry. Caller holds c.mu.
func (c *Cache[V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.removeElement(el)
	c.stats.Evictions++
	metrics.RecordCacheEviction(c.name)
}

// removeElement unlinks el. Caller holds c.mu.
func (c *Cache[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.order.Remove(el)
	metrics.UpdateCacheSize(c.name, len(c.items))
}

// Hash fingerprints a raw sensed region for field t. Equal bytes under the
// same field type always produce the same key.
func Hash(t model.FieldType, region []byte) string {
	d := xxhash.New()
	_, _ = d.WriteString(string(t))
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(region)
	var buf [8]byte
	return string(t) + ":" + hex.EncodeToString(d.Sum(buf[:0]))
}
