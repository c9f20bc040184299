package registry

import "time"

// PreferenceOption applies a configuration option to the preference cache.
type PreferenceOption func(*Preferences)

// WithTTL sets how long a preference snapshot stays fresh.
func WithTTL(ttl time.Duration) PreferenceOption {
	return func(p *Preferences) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) PreferenceOption {
	return func(p *Preferences) {
		if now != nil {
			p.now = now
		}
	}
}
