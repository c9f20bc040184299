package survey

import "errors"

// Sentinel kinds for survey errors.
var (
	// ErrInvalidDefinition marks a survey definition document that cannot be
	// parsed or violates structural constraints.
	ErrInvalidDefinition = errors.New("invalid survey definition")

	// ErrInvalidValue marks a single response value that violates its
	// prompt's constraints. The upload pipeline recovers from it per point.
	ErrInvalidValue = errors.New("invalid response value")

	// ErrUnexpectedResponse marks a response map containing keys that are
	// not item ids of the survey. Fatal for that one survey response.
	ErrUnexpectedResponse = errors.New("unexpected response")
)
