package dedupe

import "time"

// Option applies a configuration option to the window deduper.
type Option func(*windowDeduper)

// WithMaxSize sets the maximum number of keys to keep in memory.
// If maxSize <= 0 the deduper is bounded by the window only.
func WithMaxSize(maxSize int) Option {
	return func(d *windowDeduper) {
		d.maxSize = maxSize
	}
}

// WithWindow sets how long an admitted key suppresses repeats.
func WithWindow(window time.Duration) Option {
	return func(d *windowDeduper) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(d *windowDeduper) {
		if now != nil {
			d.now = now
		}
	}
}
