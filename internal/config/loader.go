package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names.
const (
	EnvPrefix = "TABLEWATCH_"
	EnvFile   = "TABLEWATCH_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if TABLEWATCH_CONFIG is set
//  3. env (prefix TABLEWATCH_); a double underscore separates nesting levels,
//     e.g. TABLEWATCH_THRESHOLDS__POT__MIN_CONFIDENCE.
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		if s == "config" {
			return ""
		}
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	cfg.Thresholds = make(map[string]ThresholdConfig, len(base.Thresholds))
	for name, th := range base.Thresholds {
		cfg.Thresholds[name] = th
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// A partially specified threshold keeps the default for the missing half.
	for name, th := range cfg.Thresholds {
		def, ok := base.Thresholds[name]
		if !ok {
			def = ThresholdConfig{MinConfidence: cfg.MinEmitConfidence, HighConfidence: cfg.DefaultHighConfidence}
		}
		if !k.Exists("thresholds." + name + ".min_confidence") {
			th.MinConfidence = def.MinConfidence
		}
		if !k.Exists("thresholds." + name + ".high_confidence") {
			th.HighConfidence = def.HighConfidence
		}
		cfg.Thresholds[name] = th
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
