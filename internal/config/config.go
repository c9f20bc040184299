// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults come from New; file and env layers override them in Load.
// - External errors must be wrapped via this package's error helpers.
package config

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// DedupeSize bounds the identity-key cache used for duplicate
	// detection across batches.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxBatchPoints caps the number of points per upload batch.
	MaxBatchPoints int `koanf:"max_batch_points"`

	// PreferenceTTLSeconds sets how long cached preferences stay fresh.
	PreferenceTTLSeconds int `koanf:"preference_ttl_seconds"`

	// QueryTimeoutSeconds bounds individual database statements.
	QueryTimeoutSeconds int `koanf:"query_timeout_seconds"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		DatabaseURL:          "",
		DedupeSize:           500_000,
		MaxBatchPoints:       1000,
		PreferenceTTLSeconds: 300,
		QueryTimeoutSeconds:  10,
	}
}
