package observer

import "errors"

// Sentinel kinds for observer errors.
var (
	// ErrInvalidDefinition marks an observer definition document that cannot
	// be parsed or violates structural constraints.
	ErrInvalidDefinition = errors.New("invalid observer definition")

	// ErrSchemaMismatch marks a data point payload that does not conform to
	// its stream's schema. Recovered per point by the upload pipeline.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrUnknownStream marks a point referencing a stream id/version pair
	// the observer does not define.
	ErrUnknownStream = errors.New("unknown stream")
)
