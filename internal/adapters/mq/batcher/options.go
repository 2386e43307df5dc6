package batcher

import (
	"time"

	"github.com/okian/tablewatch/internal/domain/dedupe"
	"github.com/okian/tablewatch/pkg/logger"
)

// Option applies a configuration option to the Batcher.
type Option func(*Batcher)

// WithInterval sets the time-based flush trigger.
func WithInterval(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithMaxBatch sets the size-based flush trigger and the largest batch handed
// to the sink.
func WithMaxBatch(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.maxBatch = n
		}
	}
}

// WithBufferCap sets the hard cap of pending events.
func WithBufferCap(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.bufferCap = n
		}
	}
}

// WithBlockTimeout sets how long Add waits for room before dropping the
// oldest pending event. Zero drops immediately.
func WithBlockTimeout(d time.Duration) Option {
	return func(b *Batcher) {
		if d >= 0 {
			b.blockFor = d
		}
	}
}

// WithDeduper enables key suppression.
func WithDeduper(d dedupe.Deduper) Option {
	return func(b *Batcher) {
		b.dedup = d
	}
}

// WithRetries sets the number of delivery retries and the first backoff.
// Each further retry doubles the backoff.
func WithRetries(n int, backoff time.Duration) Option {
	return func(b *Batcher) {
		if n >= 0 {
			b.retries = n
		}
		if backoff >= 0 {
			b.backoff = backoff
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Batcher) {
		if l != nil {
			b.log = l
		}
	}
}
