package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/mobsense/mobsense/internal/domain/model"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
)

type defKey struct {
	id      string
	version int64
}

// Memory is an in-process Store used in tests and single-node deployments
// without a database.
type Memory struct {
	mu sync.RWMutex

	observers map[defKey]*observer.Definition
	surveys   map[defKey]*survey.Definition

	// ownerID|schemaID -> persisted identity keys
	identities map[string]map[string]struct{}

	points    map[string][]model.DataPoint
	invalid   map[string][]model.InvalidPoint
	responses map[string][]model.SurveyResponse

	prefs map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		observers:  make(map[defKey]*observer.Definition),
		surveys:    make(map[defKey]*survey.Definition),
		identities: make(map[string]map[string]struct{}),
		points:     make(map[string][]model.DataPoint),
		invalid:    make(map[string][]model.InvalidPoint),
		responses:  make(map[string][]model.SurveyResponse),
		prefs:      make(map[string]string),
	}
}

func (m *Memory) ObserverDefinition(_ context.Context, id string, version int64) (*observer.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.observers[defKey{id, version}]
	if !ok {
		return nil, fmt.Errorf("%w: observer %s v%d", ErrNotFound, id, version)
	}
	return def, nil
}

func (m *Memory) SurveyDefinition(_ context.Context, id string, version int64) (*survey.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.surveys[defKey{id, version}]
	if !ok {
		return nil, fmt.Errorf("%w: survey %s v%d", ErrNotFound, id, version)
	}
	return def, nil
}

func (m *Memory) RegisterObserverDefinition(_ context.Context, doc []byte) (*observer.Definition, error) {
	def, err := observer.Parse(doc)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := defKey{def.ID, def.Version}
	if _, exists := m.observers[key]; exists {
		return nil, fmt.Errorf("%w: observer %s v%d", ErrVersionExists, def.ID, def.Version)
	}
	m.observers[key] = def
	return def, nil
}

func (m *Memory) RegisterSurveyDefinition(_ context.Context, doc []byte) (*survey.Definition, error) {
	def, err := survey.Parse(doc)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := defKey{def.ID, def.Version}
	if _, exists := m.surveys[key]; exists {
		return nil, fmt.Errorf("%w: survey %s v%d", ErrVersionExists, def.ID, def.Version)
	}
	m.surveys[key] = def
	return def, nil
}

func (m *Memory) FindExisting(_ context.Context, ownerID, schemaID string, keys []string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	existing := make(map[string]struct{})
	persisted, ok := m.identities[ownerID+"|"+schemaID]
	if !ok {
		return existing, nil
	}
	for _, k := range keys {
		if _, dup := persisted[k]; dup {
			existing[k] = struct{}{}
		}
	}
	return existing, nil
}

func (m *Memory) StorePoints(_ context.Context, ownerID, observerID string, points []model.DataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := ownerID + "|" + observerID
	m.points[bucket] = append(m.points[bucket], points...)
	persisted, ok := m.identities[bucket]
	if !ok {
		persisted = make(map[string]struct{})
		m.identities[bucket] = persisted
	}
	for _, p := range points {
		persisted[p.IdentityKey()] = struct{}{}
	}
	return nil
}

func (m *Memory) StoreInvalidPoints(_ context.Context, ownerID, schemaID string, points []model.InvalidPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := ownerID + "|" + schemaID
	m.invalid[bucket] = append(m.invalid[bucket], points...)
	return nil
}

func (m *Memory) StoreSurveyResponses(_ context.Context, ownerID string, responses []model.SurveyResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range responses {
		bucket := ownerID + "|" + r.SurveyID
		m.responses[bucket] = append(m.responses[bucket], r)
		persisted, ok := m.identities[bucket]
		if !ok {
			persisted = make(map[string]struct{})
			m.identities[bucket] = persisted
		}
		persisted[r.IdentityKey()] = struct{}{}
	}
	return nil
}

func (m *Memory) Preferences(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefs := make(map[string]string, len(m.prefs))
	for k, v := range m.prefs {
		prefs[k] = v
	}
	return prefs, nil
}

// SetPreference sets one runtime preference key.
func (m *Memory) SetPreference(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[key] = value
}

func (m *Memory) Counts(_ context.Context) (points, invalid, responses int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ps := range m.points {
		points += len(ps)
	}
	for _, ps := range m.invalid {
		invalid += len(ps)
	}
	for _, rs := range m.responses {
		responses += len(rs)
	}
	return points, invalid, responses, nil
}

// Points returns the stored points for an owner and observer. Test helper.
func (m *Memory) Points(ownerID, observerID string) []model.DataPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.DataPoint(nil), m.points[ownerID+"|"+observerID]...)
}

// InvalidPoints returns the stored invalid points for an owner and schema.
// Test helper.
func (m *Memory) InvalidPoints(ownerID, schemaID string) []model.InvalidPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.InvalidPoint(nil), m.invalid[ownerID+"|"+schemaID]...)
}

// SurveyResponses returns the stored responses for an owner and survey.
// Test helper.
func (m *Memory) SurveyResponses(ownerID, surveyID string) []model.SurveyResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.SurveyResponse(nil), m.responses[ownerID+"|"+surveyID]...)
}

var _ Store = (*Memory)(nil)
