// Package repository defines the storage interfaces the upload pipeline
// depends on, with in-memory and Postgres implementations.
package repository

import (
	"context"

	"github.com/mobsense/mobsense/internal/domain/model"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
)

// DefinitionSource resolves immutable definitions by (id, version).
// Returns ErrNotFound when the pair does not exist.
type DefinitionSource interface {
	ObserverDefinition(ctx context.Context, id string, version int64) (*observer.Definition, error)
	SurveyDefinition(ctx context.Context, id string, version int64) (*survey.Definition, error)
}

// DuplicateIndex answers which of the candidate identity keys were already
// persisted for an owner and schema. The pipeline issues one batched call
// per upload.
type DuplicateIndex interface {
	FindExisting(ctx context.Context, ownerID, schemaID string, keys []string) (map[string]struct{}, error)
}

// PointSink persists the classified results of an upload. Implementations
// are only called after the full batch has been classified.
type PointSink interface {
	StorePoints(ctx context.Context, ownerID, observerID string, points []model.DataPoint) error
	StoreInvalidPoints(ctx context.Context, ownerID, schemaID string, points []model.InvalidPoint) error
	StoreSurveyResponses(ctx context.Context, ownerID string, responses []model.SurveyResponse) error
}

// Store bundles everything the service needs from persistence.
type Store interface {
	DefinitionSource
	DuplicateIndex
	PointSink

	// RegisterObserverDefinition and RegisterSurveyDefinition install a new
	// definition document. Versions are immutable: re-registering an
	// existing (id, version) pair fails with ErrVersionExists.
	RegisterObserverDefinition(ctx context.Context, doc []byte) (*observer.Definition, error)
	RegisterSurveyDefinition(ctx context.Context, doc []byte) (*survey.Definition, error)

	// Preferences returns the runtime preference table, a small string
	// key-value map consulted through the TTL preference cache.
	Preferences(ctx context.Context) (map[string]string, error)

	// Counts reports stored row counts for monitoring.
	Counts(ctx context.Context) (points, invalid, responses int, err error)
}
