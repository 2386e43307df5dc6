// Package fps measures per-stream throughput over bounded sliding windows.
package fps

import (
	"sort"
	"sync"
	"time"
)

// DefaultStream is the key used when Tick is called with an empty key.
const DefaultStream = "default"

// DefaultWindow is the number of ticks kept per stream.
const DefaultWindow = 100

// Option configures a Counter.
type Option func(*Counter)

// WithWindow sets the per-stream capacity.
func WithWindow(n int) Option {
	return func(c *Counter) {
		if n >= 2 {
			c.capacity = n
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		if now != nil {
			c.now = now
		}
	}
}

// window is a fixed-capacity ring of tick times.
type window struct {
	ticks []time.Time
	start int
	n     int
}

func (w *window) push(t time.Time) {
	if w.n < len(w.ticks) {
		w.ticks[(w.start+w.n)%len(w.ticks)] = t
		w.n++
		return
	}
	w.ticks[w.start] = t
	w.start = (w.start + 1) % len(w.ticks)
}

func (w *window) at(i int) time.Time { return w.ticks[(w.start+i)%len(w.ticks)] }

// Counter is safe for concurrent use.
type Counter struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	streams  map[string]*window
}

// New creates a Counter.
func New(opts ...Option) *Counter {
	c := &Counter{
		capacity: DefaultWindow,
		now:      time.Now,
		streams:  make(map[string]*window),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(k string) string {
	if k == "" {
		return DefaultStream
	}
	return k
}

// Tick appends the current time to the window of stream k.
func (c *Counter) Tick(k string) {
	k = key(k)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.streams[k]
	if !ok {
		w = &window{ticks: make([]time.Time, c.capacity)}
		c.streams[k] = w
	}
	w.push(now)
}

// Instantaneous returns 1/Δ of the last two ticks of k, or 0.
func (c *Counter) Instantaneous(k string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.streams[key(k)]
	if !ok || w.n < 2 {
		return 0
	}
	return rate(1, w.at(w.n-1).Sub(w.at(w.n-2)))
}

// Average returns (N-1)/(newest-oldest) over the window of k, or 0.
func (c *Counter) Average(k string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.streams[key(k)]
	if !ok || w.n < 2 {
		return 0
	}
	return rate(w.n-1, w.at(w.n-1).Sub(w.at(0)))
}

func rate(intervals int, span time.Duration) float64 {
	if span <= 0 {
		return 0
	}
	return float64(intervals) / span.Seconds()
}

// Stream describes one window.
type Stream struct {
	Key           string  `json:"key"`
	Samples       int     `json:"samples"`
	Instantaneous float64 `json:"instantaneous_fps"`
	Average       float64 `json:"average_fps"`
}

// Snapshot reports every stream ordered by key.
func (c *Counter) Snapshot() []Stream {
	c.mu.Lock()
	keys := make([]string, 0, len(c.streams))
	samples := make(map[string]int, len(c.streams))
	for k, w := range c.streams {
		keys = append(keys, k)
		samples[k] = w.n
	}
	c.mu.Unlock()
	sort.Strings(keys)

	out := make([]Stream, 0, len(keys))
	for _, k := range keys {
		out = append(out, Stream{
			Key:           k,
			Samples:       samples[k],
			Instantaneous: c.Instantaneous(k),
			Average:       c.Average(k),
		})
	}
	return out
}

// Reset drops every window.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.streams = make(map[string]*window)
	c.mu.Unlock()
}
