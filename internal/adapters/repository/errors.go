package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	// ErrNotFound marks a definition lookup for an unknown (id, version).
	ErrNotFound = errors.New("definition not found")

	// ErrVersionExists marks an attempt to re-register an already stored
	// definition version. Definitions are immutable once versioned.
	ErrVersionExists = errors.New("definition version already exists")
)
