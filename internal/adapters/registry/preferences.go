package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mobsense/mobsense/pkg/metrics"
)

// PreferenceSource loads the full preference map from its backing store.
type PreferenceSource interface {
	Preferences(ctx context.Context) (map[string]string, error)
}

// PreferenceSourceFunc adapts a function to PreferenceSource.
type PreferenceSourceFunc func(ctx context.Context) (map[string]string, error)

func (f PreferenceSourceFunc) Preferences(ctx context.Context) (map[string]string, error) {
	return f(ctx)
}

type prefSnapshot struct {
	values    map[string]string
	refreshed time.Time
}

// Preferences is a TTL-based cache of runtime key/value preferences. Reads
// are lock-free against an atomic snapshot; when the snapshot is older than
// the TTL, the first reader to notice refreshes it while everyone else keeps
// serving the stale copy.
type Preferences struct {
	source PreferenceSource
	ttl    time.Duration
	now    func() time.Time

	snapshot   atomic.Pointer[prefSnapshot]
	refreshing sync.Mutex
}

// NewPreferences creates a preference cache. The first read triggers the
// initial load.
func NewPreferences(source PreferenceSource, opts ...PreferenceOption) *Preferences {
	p := &Preferences{
		source: source,
		ttl:    5 * time.Minute,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.snapshot.Store(&prefSnapshot{values: map[string]string{}})
	return p
}

// Get returns the preference value for key and whether it is set. The
// snapshot is refreshed first if it has expired.
func (p *Preferences) Get(ctx context.Context, key string) (string, bool, error) {
	snap := p.snapshot.Load()
	if p.expired(snap) {
		fresh, err := p.refresh(ctx)
		if err != nil {
			// keep serving the stale snapshot unless there has never
			// been a successful load
			if snap.refreshed.IsZero() {
				return "", false, err
			}
		} else {
			snap = fresh
		}
	}
	v, ok := snap.values[key]
	return v, ok, nil
}

// GetDefault returns the preference value for key, or def when unset or the
// initial load fails.
func (p *Preferences) GetDefault(ctx context.Context, key, def string) string {
	v, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	return v
}

func (p *Preferences) expired(snap *prefSnapshot) bool {
	return snap.refreshed.IsZero() || p.now().Sub(snap.refreshed) >= p.ttl
}

func (p *Preferences) refresh(ctx context.Context) (*prefSnapshot, error) {
	if !p.refreshing.TryLock() {
		// another goroutine is already refreshing
		return p.snapshot.Load(), nil
	}
	defer p.refreshing.Unlock()

	// re-check under the lock: the previous holder may have refreshed
	if snap := p.snapshot.Load(); !p.expired(snap) {
		return snap, nil
	}

	values, err := p.source.Preferences(ctx)
	if err != nil {
		return nil, err
	}
	snap := &prefSnapshot{values: values, refreshed: p.now()}
	p.snapshot.Store(snap)
	metrics.RecordPreferenceRefresh()
	return snap, nil
}
