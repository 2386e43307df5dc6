package cache

import "time"

// settings collects constructor options independent of the value type.
type settings struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	name    string
}

// Option applies a configuration option to a Cache.
type Option func(*settings)

// WithTTL sets the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxSize bounds the number of entries.
func WithMaxSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithName labels the cache in metrics.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}
