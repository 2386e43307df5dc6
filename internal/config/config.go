// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and TABLEWATCH_* env vars over the defaults.
// - Validate is the only fatal gate; wrap failures with ErrInvalidConfig.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/okian/tablewatch/internal/domain/confidence"
	"github.com/okian/tablewatch/internal/domain/model"
)

// ThresholdConfig holds the admission and high-confidence cut-offs of one field type.
type ThresholdConfig struct {
	MinConfidence  float64 `koanf:"min_confidence"`
	HighConfidence float64 `koanf:"high_confidence"`
}

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Thresholds maps field type names to their confidence thresholds.
	Thresholds map[string]ThresholdConfig `koanf:"thresholds"`

	// MinEmitConfidence and DefaultHighConfidence apply to types without an entry.
	MinEmitConfidence     float64 `koanf:"min_emit_confidence"`
	DefaultHighConfidence float64 `koanf:"default_high_confidence"`

	// CacheTTLMS and CacheMaxSize bound the detection cache.
	CacheTTLMS   int `koanf:"cache_ttl_ms"`
	CacheMaxSize int `koanf:"cache_max_size"`

	// QueueSize bounds each per-field ingestion queue.
	QueueSize int `koanf:"queue_size"`

	// BatchIntervalMS and BatchMaxSize trigger flushes; BatchBufferCap is the
	// hard cap of pending events and BatchBlockMS how long Add waits for room.
	BatchIntervalMS int `koanf:"batch_interval_ms"`
	BatchMaxSize    int `koanf:"batch_max_size"`
	BatchBufferCap  int `koanf:"batch_buffer_cap"`
	BatchBlockMS    int `koanf:"batch_block_ms"`

	// Dedup window settings.
	DedupEnabled  bool `koanf:"dedup_enabled"`
	DedupWindowMS int  `koanf:"dedup_window_ms"`
	DedupMaxKeys  int  `koanf:"dedup_max_keys"`

	// SinkRetries and SinkBackoffMS bound delivery retries.
	SinkRetries   int `koanf:"sink_retries"`
	SinkBackoffMS int `koanf:"sink_backoff_ms"`

	// PersistPath is the snapshot file; empty keeps state in memory only.
	PersistPath       string `koanf:"persist_path"`
	PersistIntervalMS int    `koanf:"persist_interval_ms"`

	// FallbackThreshold is the failure streak at which a field turns stale.
	FallbackThreshold int `koanf:"fallback_threshold"`

	// RejectOnError rejects updates with ERROR violations instead of applying them.
	RejectOnError bool `koanf:"reject_on_error"`

	// TableCapacity and StackTolerance parameterise the sanity checker.
	TableCapacity  int     `koanf:"table_capacity"`
	StackTolerance float64 `koanf:"stack_tolerance"`

	// FPSWindow is the number of ticks kept per stream.
	FPSWindow int `koanf:"fps_window"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel: "info",
		Addr:     ":9080",
		Thresholds: map[string]ThresholdConfig{
			string(model.FieldCard):   {MinConfidence: 0.7, HighConfidence: 0.9},
			string(model.FieldBoard):  {MinConfidence: 0.7, HighConfidence: 0.9},
			string(model.FieldPot):    {MinConfidence: 0.6, HighConfidence: 0.85},
			string(model.FieldPlayer): {MinConfidence: 0.6, HighConfidence: 0.85},
			string(model.FieldButton): {MinConfidence: 0.5, HighConfidence: 0.8},
			string(model.FieldAction): {MinConfidence: 0.6, HighConfidence: 0.85},
		},
		MinEmitConfidence:     confidence.DefaultMinEmit,
		DefaultHighConfidence: confidence.DefaultHigh,
		CacheTTLMS:            2000,
		CacheMaxSize:          1024,
		QueueSize:             1024,
		BatchIntervalMS:       100,
		BatchMaxSize:          50,
		BatchBufferCap:        1000,
		BatchBlockMS:          10,
		DedupEnabled:          true,
		DedupWindowMS:         1000,
		DedupMaxKeys:          10_000,
		SinkRetries:           3,
		SinkBackoffMS:         50,
		PersistPath:           "",
		PersistIntervalMS:     5000,
		FallbackThreshold:     3,
		RejectOnError:         true,
		TableCapacity:         9,
		StackTolerance:        0.01,
		FPSWindow:             100,
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if _, err := confidence.New(c.PolicyOptions()...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	positive := []struct {
		key string
		v   int
	}{
		{"cache_ttl_ms", c.CacheTTLMS},
		{"cache_max_size", c.CacheMaxSize},
		{"queue_size", c.QueueSize},
		{"batch_interval_ms", c.BatchIntervalMS},
		{"batch_max_size", c.BatchMaxSize},
		{"batch_buffer_cap", c.BatchBufferCap},
		{"dedup_window_ms", c.DedupWindowMS},
		{"dedup_max_keys", c.DedupMaxKeys},
		{"persist_interval_ms", c.PersistIntervalMS},
		{"fallback_threshold", c.FallbackThreshold},
		{"table_capacity", c.TableCapacity},
		{"fps_window", c.FPSWindow},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.key, p.v)
		}
	}
	if c.BatchBufferCap < c.BatchMaxSize {
		return fmt.Errorf("%w: batch_buffer_cap %d is below batch_max_size %d", ErrInvalidConfig, c.BatchBufferCap, c.BatchMaxSize)
	}
	if c.BatchBlockMS < 0 || c.SinkRetries < 0 || c.SinkBackoffMS < 0 {
		return fmt.Errorf("%w: batch_block_ms, sink_retries and sink_backoff_ms must not be negative", ErrInvalidConfig)
	}
	if math.IsNaN(c.StackTolerance) || c.StackTolerance < 0 {
		return fmt.Errorf("%w: stack_tolerance must not be negative", ErrInvalidConfig)
	}
	return nil
}

// PolicyOptions converts the threshold settings into confidence options.
func (c *Config) PolicyOptions() []confidence.Option {
	opts := []confidence.Option{
		confidence.WithMinEmit(c.MinEmitConfidence),
		confidence.WithDefaultHigh(c.DefaultHighConfidence),
	}
	for name, th := range c.Thresholds {
		opts = append(opts, confidence.WithThresholds(model.FieldType(strings.ToLower(name)), confidence.Thresholds{
			Min:  th.MinConfidence,
			High: th.HighConfidence,
		}))
	}
	return opts
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// CacheTTL returns the detection cache TTL.
func (c *Config) CacheTTL() time.Duration { return ms(c.CacheTTLMS) }

// BatchInterval returns the batch flush interval.
func (c *Config) BatchInterval() time.Duration { return ms(c.BatchIntervalMS) }

// BatchBlock returns how long Add waits for buffer room.
func (c *Config) BatchBlock() time.Duration { return ms(c.BatchBlockMS) }

// DedupWindow returns the dedup suppression window.
func (c *Config) DedupWindow() time.Duration { return ms(c.DedupWindowMS) }

// SinkBackoff returns the first retry delay.
func (c *Config) SinkBackoff() time.Duration { return ms(c.SinkBackoffMS) }

// PersistInterval returns the minimum time between snapshot saves.
func (c *Config) PersistInterval() time.Duration { return ms(c.PersistIntervalMS) }
