package model

// InvalidPoint records one rejected point from an upload batch. Index is the
// point's position in the original batch; Persisted mirrors the batch's
// preserve-invalid-points opt-in.
type InvalidPoint struct {
	Index     int    `json:"index"`
	Reason    string `json:"comment"`
	Persisted bool   `json:"persisted"`
}

// UploadSummary is the per-upload result handed back to the request layer.
// Invalid points are ordered by original batch index.
type UploadSummary struct {
	ValidCount     int            `json:"valid_count"`
	DuplicateCount int            `json:"duplicate_count"`
	InvalidPoints  []InvalidPoint `json:"invalid_points"`
}
