package upload

import "errors"

// Sentinel kinds for upload errors.
var (
	// ErrMalformedBatch marks a batch body that is not a JSON array. The
	// whole upload is rejected; nothing is classified or stored.
	ErrMalformedBatch = errors.New("malformed upload batch")

	// ErrBatchTooLarge marks a batch exceeding the configured point limit.
	ErrBatchTooLarge = errors.New("upload batch too large")
)
