// Package upload implements the batch upload pipeline: decode a JSON batch,
// validate every point against its definition, drop duplicates within the
// batch and against persisted data, then hand the classified results to the
// sinks in one shot.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mobsense/mobsense/internal/adapters/repository"
	"github.com/mobsense/mobsense/internal/domain/dedupe"
	"github.com/mobsense/mobsense/internal/domain/model"
	"github.com/mobsense/mobsense/pkg/metrics"
)

const defaultMaxBatchPoints = 1000

// Pipeline classifies upload batches. Sinks are only invoked after the whole
// batch has been decoded and classified, so a rejected batch stores nothing.
type Pipeline struct {
	definitions repository.DefinitionSource
	index       repository.DuplicateIndex
	sink        repository.PointSink
	deduper     dedupe.Deduper

	maxBatchPoints int
}

// New creates a Pipeline over the given definition source, duplicate index
// and sink.
func New(definitions repository.DefinitionSource, index repository.DuplicateIndex, sink repository.PointSink, opts ...Option) *Pipeline {
	p := &Pipeline{
		definitions:    definitions,
		index:          index,
		sink:           sink,
		deduper:        dedupe.NewInMemory(),
		maxBatchPoints: defaultMaxBatchPoints,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StreamRequest is one stream upload: a JSON array of points recorded
// against the named observer.
type StreamRequest struct {
	OwnerID         string
	ObserverID      string
	ObserverVersion int64

	// PreserveInvalid stores rejected points for later inspection instead
	// of discarding them.
	PreserveInvalid bool

	Body io.Reader
}

// SurveyRequest is one survey upload: a JSON array of survey responses, each
// naming its own survey definition.
type SurveyRequest struct {
	OwnerID         string
	PreserveInvalid bool
	Body            io.Reader
}

// decodeBatch reads the outer JSON array and returns each element raw.
// Anything that is not an array of objects fails the whole batch.
func (p *Pipeline) decodeBatch(body io.Reader) ([]json.RawMessage, error) {
	dec := json.NewDecoder(body)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("%w: body must be a JSON array", ErrMalformedBatch)
	}

	var elems []json.RawMessage
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
		}
		elems = append(elems, raw)
		if len(elems) > p.maxBatchPoints {
			return nil, fmt.Errorf("%w: more than %d points", ErrBatchTooLarge, p.maxBatchPoints)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	return elems, nil
}

type classified[T any] struct {
	index int
	key   string
	value T
}

// UploadStream validates and stores one stream batch. Every point is checked
// against its stream schema; valid points are deduplicated within the batch
// and against persisted data, and only then stored.
func (p *Pipeline) UploadStream(ctx context.Context, req StreamRequest) (*model.UploadSummary, error) {
	start := time.Now()

	elems, err := p.decodeBatch(req.Body)
	if err != nil {
		metrics.RecordBatchRejected()
		return nil, err
	}

	def, err := p.definitions.ObserverDefinition(ctx, req.ObserverID, req.ObserverVersion)
	if err != nil {
		return nil, err
	}

	summary := &model.UploadSummary{InvalidPoints: []model.InvalidPoint{}}
	var valid []classified[model.DataPoint]

	for i, raw := range elems {
		var point model.DataPoint
		if err := json.Unmarshal(raw, &point); err != nil {
			summary.InvalidPoints = append(summary.InvalidPoints, model.InvalidPoint{
				Index: i, Reason: fmt.Sprintf("not a point object: %v", err),
			})
			continue
		}

		stream, err := def.Stream(point.StreamID, point.StreamVersion)
		if err != nil {
			summary.InvalidPoints = append(summary.InvalidPoints, model.InvalidPoint{
				Index: i, Reason: err.Error(),
			})
			continue
		}
		if err := stream.ValidatePoint(point.Metadata, point.Data); err != nil {
			summary.InvalidPoints = append(summary.InvalidPoints, model.InvalidPoint{
				Index: i, Reason: err.Error(),
			})
			continue
		}

		// intra-batch and recent-history dedup, scoped to the owner:
		// identity keys are only unique within one owner's data
		key := point.IdentityKey()
		if p.deduper.SeenAndRecord(ctx, dedupeKey(req.OwnerID, key)) {
			summary.DuplicateCount++
			continue
		}
		valid = append(valid, classified[model.DataPoint]{index: i, key: key, value: point})
	}

	kept, persisted, err := dropPersisted(ctx, p.index, req.OwnerID, req.ObserverID, valid)
	if err != nil {
		// nothing was stored; forget the whole batch so a retry is not
		// misclassified as duplicates
		unrecord(ctx, p.deduper, req.OwnerID, valid)
		return nil, err
	}
	valid = kept
	summary.DuplicateCount += persisted

	points := make([]model.DataPoint, len(valid))
	for i, c := range valid {
		points[i] = c.value
	}
	if err := p.sink.StorePoints(ctx, req.OwnerID, req.ObserverID, points); err != nil {
		unrecord(ctx, p.deduper, req.OwnerID, valid)
		return nil, err
	}
	summary.ValidCount = len(points)

	if err := p.storeInvalid(ctx, req.OwnerID, req.ObserverID, req.PreserveInvalid, summary); err != nil {
		return nil, err
	}

	p.record(metrics.KindStream, len(elems), summary, start)
	return summary, nil
}

// UploadSurvey validates and stores one survey response batch. Each element
// names its own survey definition; responses are canonicalized by the
// definition's validation walk before storage.
func (p *Pipeline) UploadSurvey(ctx context.Context, req SurveyRequest) (*model.UploadSummary, error) {
	start := time.Now()

	elems, err := p.decodeBatch(req.Body)
	if err != nil {
		metrics.RecordBatchRejected()
		return nil, err
	}

	summary := &model.UploadSummary{InvalidPoints: []model.InvalidPoint{}}
	var valid []classified[model.SurveyResponse]

	for i, raw := range elems {
		var resp model.SurveyResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			summary.InvalidPoints = append(summary.InvalidPoints, model.InvalidPoint{
				Index: i, Reason: fmt.Sprintf("not a response object: %v", err),
			})
			continue
		}
		if resp.Metadata.Timestamp.IsZero() {
			summary.InvalidPoints = append(summary.InvalidPoints, model.InvalidPoint{
				Index: i, Reason: "missing timestamp",
			})
			continue
		}

		def, err := p.definitions.SurveyDefinition(ctx, resp.SurveyID, resp.SurveyVersion)
		if err != nil {
			summary.InvalidPoints = append(summary.InvalidPoints, model.InvalidPoint{
				Index: i, Reason: err.Error(),
			})
			continue
		}

		canonical, err := def.Validate(resp.Responses)
		if err != nil {
			summary.InvalidPoints = append(summary.InvalidPoints, model.InvalidPoint{
				Index: i, Reason: err.Error(),
			})
			continue
		}
		resp.Responses = canonical

		key := resp.IdentityKey()
		if p.deduper.SeenAndRecord(ctx, dedupeKey(req.OwnerID, key)) {
			summary.DuplicateCount++
			continue
		}
		valid = append(valid, classified[model.SurveyResponse]{index: i, key: key, value: resp})
	}

	// recorded snapshots every key this batch put in the deduper, so a
	// failed lookup can roll back groups already kept into valid too
	recorded := append([]classified[model.SurveyResponse](nil), valid...)

	// one batched duplicate lookup per survey id
	bySurvey := make(map[string][]classified[model.SurveyResponse])
	for _, c := range valid {
		bySurvey[c.value.SurveyID] = append(bySurvey[c.value.SurveyID], c)
	}
	valid = valid[:0]
	for surveyID, group := range bySurvey {
		kept, persisted, err := dropPersisted(ctx, p.index, req.OwnerID, surveyID, group)
		if err != nil {
			unrecord(ctx, p.deduper, req.OwnerID, recorded)
			return nil, err
		}
		summary.DuplicateCount += persisted
		valid = append(valid, kept...)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].index < valid[j].index })

	responses := make([]model.SurveyResponse, len(valid))
	for i, c := range valid {
		responses[i] = c.value
	}
	if err := p.sink.StoreSurveyResponses(ctx, req.OwnerID, responses); err != nil {
		unrecord(ctx, p.deduper, req.OwnerID, valid)
		return nil, err
	}
	summary.ValidCount = len(responses)

	if err := p.storeInvalid(ctx, req.OwnerID, "survey", req.PreserveInvalid, summary); err != nil {
		return nil, err
	}

	p.record(metrics.KindSurvey, len(elems), summary, start)
	return summary, nil
}

// dropPersisted removes points whose identity keys already exist in the
// duplicate index, using a single batched lookup.
func dropPersisted[T any](ctx context.Context, index repository.DuplicateIndex, ownerID, schemaID string, points []classified[T]) ([]classified[T], int, error) {
	if len(points) == 0 {
		return points, 0, nil
	}
	keys := make([]string, len(points))
	for i, c := range points {
		keys[i] = c.key
	}
	existing, err := index.FindExisting(ctx, ownerID, schemaID, keys)
	if err != nil {
		return nil, 0, fmt.Errorf("checking persisted duplicates: %w", err)
	}

	kept := points[:0]
	dropped := 0
	for _, c := range points {
		if _, dup := existing[c.key]; dup {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped, nil
}

// storeInvalid optionally persists the batch's invalid points and stamps
// their Persisted flags.
func (p *Pipeline) storeInvalid(ctx context.Context, ownerID, schemaID string, preserve bool, summary *model.UploadSummary) error {
	if !preserve || len(summary.InvalidPoints) == 0 {
		return nil
	}
	for i := range summary.InvalidPoints {
		summary.InvalidPoints[i].Persisted = true
	}
	if err := p.sink.StoreInvalidPoints(ctx, ownerID, schemaID, summary.InvalidPoints); err != nil {
		return fmt.Errorf("storing invalid points: %w", err)
	}
	return nil
}

// dedupeKey scopes an identity key to its owner. The persisted index is
// already owner-partitioned; the in-process deduper is not.
func dedupeKey(ownerID, key string) string {
	return ownerID + "|" + key
}

func unrecord[T any](ctx context.Context, d dedupe.Deduper, ownerID string, points []classified[T]) {
	for _, c := range points {
		d.Unrecord(ctx, dedupeKey(ownerID, c.key))
	}
}

func (p *Pipeline) record(kind string, batchSize int, summary *model.UploadSummary, start time.Time) {
	metrics.RecordBatch(kind, batchSize)
	for i := 0; i < summary.ValidCount; i++ {
		metrics.RecordPointAccepted(kind)
	}
	for i := 0; i < summary.DuplicateCount; i++ {
		metrics.RecordPointDuplicate(kind)
	}
	for range summary.InvalidPoints {
		metrics.RecordPointRejected(kind)
	}
	metrics.RecordUploadDuration(kind, float64(time.Since(start).Milliseconds()))
}
