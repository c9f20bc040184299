package condition

import "errors"

// Sentinel kinds for condition errors.
var (
	// ErrMalformed covers unparseable syntax, forward or undefined item
	// references, and operator/value type mismatches. A malformed condition
	// means the definition itself is corrupt, so callers treat it as fatal.
	ErrMalformed = errors.New("malformed condition")
)
