// Package repository defines the storage interfaces and backends.
package repository

import "time"

// Option applies a configuration option to the Postgres store.
type Option func(*Postgres)

// WithQueryTimeout bounds each statement issued by the store. Zero means
// the caller's context deadline alone applies.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(p *Postgres) {
		if timeout > 0 {
			p.queryTimeout = timeout
		}
	}
}
