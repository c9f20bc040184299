package upload

import "github.com/mobsense/mobsense/internal/domain/dedupe"

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithDeduper replaces the intra-batch deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.deduper = d
		}
	}
}

// WithMaxBatchPoints bounds the number of points accepted per batch.
func WithMaxBatchPoints(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxBatchPoints = n
		}
	}
}
