package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobsense/mobsense/internal/domain/model"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
)

const (
	defaultQueryTimeout = 10 * time.Second

	// Postgres unique_violation
	pgUniqueViolation = "23505"
)

// Postgres implements Store on a pgx connection pool. Definition documents
// are stored as JSONB and parsed on read; the registry layer caches the
// parsed form.
type Postgres struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgres connects to the database, verifies the connection and ensures
// the schema exists.
func NewPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	p := &Postgres{
		pool:         pool,
		queryTimeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS definitions (
		    kind TEXT NOT NULL,
		    id TEXT NOT NULL,
		    version BIGINT NOT NULL,
		    doc JSONB NOT NULL,
		    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		    PRIMARY KEY (kind, id, version)
		);

		CREATE TABLE IF NOT EXISTS points (
		    owner_id TEXT NOT NULL,
		    observer_id TEXT NOT NULL,
		    stream_id TEXT NOT NULL,
		    stream_version BIGINT NOT NULL,
		    identity_key TEXT NOT NULL,
		    point_id TEXT NOT NULL,
		    recorded_at TIMESTAMPTZ NOT NULL,
		    latitude DOUBLE PRECISION,
		    longitude DOUBLE PRECISION,
		    data JSONB NOT NULL,
		    stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		    PRIMARY KEY (owner_id, observer_id, identity_key)
		);

		CREATE TABLE IF NOT EXISTS invalid_points (
		    seq BIGSERIAL PRIMARY KEY,
		    owner_id TEXT NOT NULL,
		    schema_id TEXT NOT NULL,
		    batch_index INTEGER NOT NULL,
		    reason TEXT NOT NULL,
		    stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_invalid_points_owner ON invalid_points(owner_id, schema_id);

		CREATE TABLE IF NOT EXISTS survey_responses (
		    owner_id TEXT NOT NULL,
		    survey_id TEXT NOT NULL,
		    survey_version BIGINT NOT NULL,
		    identity_key TEXT NOT NULL,
		    response_id TEXT NOT NULL,
		    recorded_at TIMESTAMPTZ NOT NULL,
		    latitude DOUBLE PRECISION,
		    longitude DOUBLE PRECISION,
		    responses JSONB NOT NULL,
		    stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		    PRIMARY KEY (owner_id, survey_id, identity_key)
		);

		CREATE TABLE IF NOT EXISTS preferences (
		    key TEXT PRIMARY KEY,
		    value TEXT NOT NULL,
		    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.queryTimeout)
}

func (p *Postgres) definitionDoc(ctx context.Context, kind, id string, version int64) ([]byte, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM definitions WHERE kind = $1 AND id = $2 AND version = $3`,
		kind, id, version,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s v%d", ErrNotFound, kind, id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s definition: %w", kind, err)
	}
	return doc, nil
}

func (p *Postgres) ObserverDefinition(ctx context.Context, id string, version int64) (*observer.Definition, error) {
	doc, err := p.definitionDoc(ctx, "observer", id, version)
	if err != nil {
		return nil, err
	}
	return observer.Parse(doc)
}

func (p *Postgres) SurveyDefinition(ctx context.Context, id string, version int64) (*survey.Definition, error) {
	doc, err := p.definitionDoc(ctx, "survey", id, version)
	if err != nil {
		return nil, err
	}
	return survey.Parse(doc)
}

func (p *Postgres) insertDefinition(ctx context.Context, kind, id string, version int64, doc []byte) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO definitions (kind, id, version, doc) VALUES ($1, $2, $3, $4)`,
		kind, id, version, doc,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s %s v%d", ErrVersionExists, kind, id, version)
		}
		return fmt.Errorf("storing %s definition: %w", kind, err)
	}
	return nil
}

func (p *Postgres) RegisterObserverDefinition(ctx context.Context, doc []byte) (*observer.Definition, error) {
	def, err := observer.Parse(doc)
	if err != nil {
		return nil, err
	}
	if err := p.insertDefinition(ctx, "observer", def.ID, def.Version, doc); err != nil {
		return nil, err
	}
	return def, nil
}

func (p *Postgres) RegisterSurveyDefinition(ctx context.Context, doc []byte) (*survey.Definition, error) {
	def, err := survey.Parse(doc)
	if err != nil {
		return nil, err
	}
	if err := p.insertDefinition(ctx, "survey", def.ID, def.Version, doc); err != nil {
		return nil, err
	}
	return def, nil
}

func (p *Postgres) FindExisting(ctx context.Context, ownerID, schemaID string, keys []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT identity_key FROM points
		 WHERE owner_id = $1 AND observer_id = $2 AND identity_key = ANY($3)
		 UNION
		 SELECT identity_key FROM survey_responses
		 WHERE owner_id = $1 AND survey_id = $2 AND identity_key = ANY($3)`,
		ownerID, schemaID, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("querying existing identity keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning identity key: %w", err)
		}
		existing[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identity keys: %w", err)
	}
	return existing, nil
}

func (p *Postgres) StorePoints(ctx context.Context, ownerID, observerID string, points []model.DataPoint) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, pt := range points {
		data, err := json.Marshal(pt.Data)
		if err != nil {
			return fmt.Errorf("encoding point data: %w", err)
		}
		lat, lon := locationColumns(pt.Metadata.Location)
		batch.Queue(
			`INSERT INTO points
			 (owner_id, observer_id, stream_id, stream_version, identity_key, point_id, recorded_at, latitude, longitude, data)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (owner_id, observer_id, identity_key) DO NOTHING`,
			ownerID, observerID, pt.StreamID, pt.StreamVersion,
			pt.IdentityKey(), pt.Metadata.ID, pt.Metadata.Timestamp, lat, lon, data,
		)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storing points: %w", err)
	}
	return nil
}

func (p *Postgres) StoreInvalidPoints(ctx context.Context, ownerID, schemaID string, points []model.InvalidPoint) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, pt := range points {
		batch.Queue(
			`INSERT INTO invalid_points (owner_id, schema_id, batch_index, reason) VALUES ($1, $2, $3, $4)`,
			ownerID, schemaID, pt.Index, pt.Reason,
		)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storing invalid points: %w", err)
	}
	return nil
}

func (p *Postgres) StoreSurveyResponses(ctx context.Context, ownerID string, responses []model.SurveyResponse) error {
	if len(responses) == 0 {
		return nil
	}

	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, r := range responses {
		data, err := json.Marshal(r.Responses)
		if err != nil {
			return fmt.Errorf("encoding survey responses: %w", err)
		}
		lat, lon := locationColumns(r.Metadata.Location)
		batch.Queue(
			`INSERT INTO survey_responses
			 (owner_id, survey_id, survey_version, identity_key, response_id, recorded_at, latitude, longitude, responses)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (owner_id, survey_id, identity_key) DO NOTHING`,
			ownerID, r.SurveyID, r.SurveyVersion,
			r.IdentityKey(), r.Metadata.ID, r.Metadata.Timestamp, lat, lon, data,
		)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storing survey responses: %w", err)
	}
	return nil
}

func (p *Postgres) Preferences(ctx context.Context) (map[string]string, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("loading preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning preference row: %w", err)
		}
		prefs[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading preferences: %w", err)
	}
	return prefs, nil
}

func (p *Postgres) Counts(ctx context.Context) (points, invalid, responses int, err error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	err = p.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM points),
		   (SELECT COUNT(*) FROM invalid_points),
		   (SELECT COUNT(*) FROM survey_responses)`,
	).Scan(&points, &invalid, &responses)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("counting stored rows: %w", err)
	}
	return points, invalid, responses, nil
}

func locationColumns(loc *model.Location) (lat, lon *float64) {
	if loc == nil {
		return nil, nil
	}
	return &loc.Latitude, &loc.Longitude
}

var _ Store = (*Postgres)(nil)
