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

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if MOBSENSE_CONFIG is set
//  3. env (prefix MOBSENSE_)
func Load(_ context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("MOBSENSE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: MOBSENSE_ADDR, MOBSENSE_MAX_BATCH_POINTS, ...
	// Map env keys like MOBSENSE_MAX_BATCH_POINTS -> max_batch_points (flat
	// keys); underscores are preserved to match koanf tags on the struct.
	envProvider := env.Provider("MOBSENSE_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "mobsense_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Basic validation
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if cfg.MaxBatchPoints <= 0 {
		return nil, fmt.Errorf("%w: max_batch_points must be positive", ErrInvalidConfig)
	}
	if cfg.DedupeSize < 0 {
		return nil, fmt.Errorf("%w: dedupe_size must not be negative", ErrInvalidConfig)
	}
	return &cfg, nil
}
