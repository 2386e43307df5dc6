// Package dedupe suppresses repeated event keys within a time window.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Deduper records seen event keys so a key is admitted at most once per window.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen within the window and
	// records it if not. Returns true if the key is a duplicate.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so a later event sharing it is admitted again.
	// Used when an admitted event was dropped before delivery.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

type record struct {
	key  string
	seen time.Time
}

// windowDeduper keeps keys in insertion order. Expired keys are pruned from
// the front; when maxSize is reached the oldest key is evicted.
type windowDeduper struct {
	mu      sync.Mutex
	window  time.Duration
	maxSize int
	now     func() time.Time
	order   *list.List
	seen    map[string]*list.Element
	size    atomic.Int64
}

// NewWindowDeduper creates a deduper with configuration options.
func NewWindowDeduper(opts ...Option) Deduper {
	d := &windowDeduper{
		window:  time.Second,
		maxSize: 10_000,
		now:     time.Now,
		order:   list.New(),
		seen:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SeenAndRecord reports whether key was admitted less than one window ago.
// A key whose previous admission has expired is re-admitted.
func (d *windowDeduper) SeenAndRecord(_ context.Context, key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked(now)
	if _, ok := d.seen[key]; ok {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.removeLocked(d.order.Front())
	}
	d.seen[key] = d.order.PushBack(&record{key: key, seen: now})
	d.size.Store(int64(len(d.seen)))
	return false
}

// Unrecord forgets key.
func (d *windowDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[key]; ok {
		d.removeLocked(el)
		d.size.Store(int64(len(d.seen)))
	}
}

// Size returns the number of keys currently held.
func (d *windowDeduper) Size() int64 {
	return d.size.Load()
}

// pruneLocked drops keys older than the window. Must hold d.mu.
func (d *windowDeduper) pruneLocked(now time.Time) {
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if now.Sub(el.Value.(*record).seen) < d.window {
			return
		}
		d.removeLocked(el)
	}
}

func (d *windowDeduper) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	delete(d.seen, el.Value.(*record).key)
	d.order.Remove(el)
}
