// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/mobsense/mobsense/internal/adapters/registry"
	"github.com/mobsense/mobsense/internal/adapters/repository"
	"github.com/mobsense/mobsense/internal/domain/dedupe"
	"github.com/mobsense/mobsense/internal/domain/model"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
	"github.com/mobsense/mobsense/internal/domain/upload"
	"github.com/mobsense/mobsense/pkg/logger"
	"github.com/mobsense/mobsense/pkg/metrics"
)

// preserveInvalidKey is the runtime preference that forces invalid points to
// be stored for every upload, regardless of the per-request opt-in.
const preserveInvalidKey = "upload.preserve_invalid"

// Service implements the API dependencies for the sensing platform.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	registry *registry.Registry
	prefs    *registry.Preferences
	deduper  dedupe.Deduper
	pipeline *upload.Pipeline

	// Configuration
	dedupeSize     int
	maxBatchPoints int
	prefTTL        time.Duration
	prefSource     registry.PreferenceSource

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the backing store. Defaults to the in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxBatchPoints caps the number of points per upload batch.
func WithMaxBatchPoints(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchPoints = n
		}
	}
}

// WithPreferenceSource sets the backend for runtime preferences.
func WithPreferenceSource(src registry.PreferenceSource) Option {
	return func(s *Service) {
		if src != nil {
			s.prefSource = src
		}
	}
}

// WithPreferenceTTL sets how long cached preferences stay fresh.
func WithPreferenceTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.prefTTL = ttl
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dedupeSize:     50_000,
		maxBatchPoints: 1000,
		prefTTL:        5 * time.Minute,
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting sensing service...")

	if s.store == nil {
		s.store = repository.NewMemory()
		s.logger.Info(ctx, "using in-memory store")
	}
	s.registry = registry.New(s.store)
	if s.prefSource == nil {
		// preferences live in the store; the cache refreshes them on TTL
		s.prefSource = registry.PreferenceSourceFunc(s.store.Preferences)
	}
	s.prefs = registry.NewPreferences(s.prefSource, registry.WithTTL(s.prefTTL))
	s.deduper = dedupe.NewInMemory(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.pipeline = upload.New(s.registry, s.store, s.store,
		upload.WithDeduper(s.deduper),
		upload.WithMaxBatchPoints(s.maxBatchPoints),
	)

	s.started = true
	s.logger.Info(ctx, "sensing service started",
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("maxBatchPoints", s.maxBatchPoints),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping sensing service...")

	if closer, ok := s.store.(interface{ Close() }); ok {
		closer.Close()
	}

	s.started = false
	s.logger.Info(context.Background(), "sensing service stopped")
}

// UploadStream runs a stream batch through the pipeline.
func (s *Service) UploadStream(ctx context.Context, req upload.StreamRequest) (*model.UploadSummary, error) {
	if s.prefs.GetDefault(ctx, preserveInvalidKey, "") == "true" {
		req.PreserveInvalid = true
	}

	summary, err := s.pipeline.UploadStream(ctx, req)
	if err != nil {
		s.logger.Warn(ctx, "stream upload failed",
			logger.String("owner", req.OwnerID),
			logger.String("observer", req.ObserverID),
			logger.Error(err),
		)
		return nil, err
	}

	s.logger.Debug(ctx, "stream upload processed",
		logger.String("owner", req.OwnerID),
		logger.String("observer", req.ObserverID),
		logger.Int("valid", summary.ValidCount),
		logger.Int("duplicates", summary.DuplicateCount),
		logger.Int("invalid", len(summary.InvalidPoints)),
	)
	return summary, nil
}

// UploadSurvey runs a survey response batch through the pipeline.
func (s *Service) UploadSurvey(ctx context.Context, req upload.SurveyRequest) (*model.UploadSummary, error) {
	if s.prefs.GetDefault(ctx, preserveInvalidKey, "") == "true" {
		req.PreserveInvalid = true
	}

	summary, err := s.pipeline.UploadSurvey(ctx, req)
	if err != nil {
		s.logger.Warn(ctx, "survey upload failed",
			logger.String("owner", req.OwnerID),
			logger.Error(err),
		)
		return nil, err
	}

	s.logger.Debug(ctx, "survey upload processed",
		logger.String("owner", req.OwnerID),
		logger.Int("valid", summary.ValidCount),
		logger.Int("duplicates", summary.DuplicateCount),
		logger.Int("invalid", len(summary.InvalidPoints)),
	)
	return summary, nil
}

// RegisterObserverDefinition installs a new observer definition version.
func (s *Service) RegisterObserverDefinition(ctx context.Context, doc []byte) (*observer.Definition, error) {
	def, err := s.store.RegisterObserverDefinition(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "observer definition registered",
		logger.String("id", def.ID),
		logger.Int("version", int(def.Version)),
	)
	return def, nil
}

// RegisterSurveyDefinition installs a new survey definition version.
func (s *Service) RegisterSurveyDefinition(ctx context.Context, doc []byte) (*survey.Definition, error) {
	def, err := s.store.RegisterSurveyDefinition(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "survey definition registered",
		logger.String("id", def.ID),
		logger.Int("version", int(def.Version)),
	)
	return def, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        s.started,
		"dedupeSize":     s.dedupeSize,
		"maxBatchPoints": s.maxBatchPoints,
	}

	if s.started {
		ctx := context.Background()

		stats["dedupeEntries"] = s.deduper.Size()

		observers, surveys := s.registry.Sizes()
		stats["cachedObservers"] = observers
		stats["cachedSurveys"] = surveys
		metrics.UpdateDefinitionsCached(observers, surveys)

		if points, invalid, responses, err := s.store.Counts(ctx); err == nil {
			stats["storedPoints"] = points
			stats["storedInvalidPoints"] = invalid
			stats["storedSurveyResponses"] = responses
			metrics.UpdateStoredCounts(points, invalid, responses)
		}
	}

	return stats
}
