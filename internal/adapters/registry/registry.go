// Package registry caches parsed definitions and runtime preferences in
// front of the repository, so hot upload paths do not re-read and re-parse
// documents per batch.
package registry

import (
	"context"
	"sync"

	"github.com/mobsense/mobsense/internal/adapters/repository"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
)

type cacheKey struct {
	id      string
	version int64
}

// Registry is a read-through cache over a DefinitionSource. Definitions are
// immutable per (id, version), so entries never expire and negative results
// are not cached.
type Registry struct {
	source repository.DefinitionSource

	mu        sync.RWMutex
	observers map[cacheKey]*observer.Definition
	surveys   map[cacheKey]*survey.Definition
}

// New creates a Registry backed by the given source.
func New(source repository.DefinitionSource) *Registry {
	return &Registry{
		source:    source,
		observers: make(map[cacheKey]*observer.Definition),
		surveys:   make(map[cacheKey]*survey.Definition),
	}
}

// ObserverDefinition returns the cached definition, loading it from the
// source on first use.
func (r *Registry) ObserverDefinition(ctx context.Context, id string, version int64) (*observer.Definition, error) {
	key := cacheKey{id, version}

	r.mu.RLock()
	def, ok := r.observers[key]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	def, err := r.source.ObserverDefinition(ctx, id, version)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.observers[key] = def
	r.mu.Unlock()
	return def, nil
}

// SurveyDefinition returns the cached definition, loading it from the source
// on first use.
func (r *Registry) SurveyDefinition(ctx context.Context, id string, version int64) (*survey.Definition, error) {
	key := cacheKey{id, version}

	r.mu.RLock()
	def, ok := r.surveys[key]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	def, err := r.source.SurveyDefinition(ctx, id, version)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.surveys[key] = def
	r.mu.Unlock()
	return def, nil
}

// Sizes reports the number of cached observer and survey definitions.
func (r *Registry) Sizes() (observers, surveys int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers), len(r.surveys)
}

var _ repository.DefinitionSource = (*Registry)(nil)
