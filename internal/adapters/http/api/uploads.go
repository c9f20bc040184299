// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mobsense/mobsense/internal/adapters/repository"
	"github.com/mobsense/mobsense/internal/domain/upload"
)

// UploadsHandler handles batch upload requests.
type UploadsHandler struct {
	deps Dependencies
}

// NewUploadsHandler creates a new uploads handler.
func NewUploadsHandler(deps Dependencies) *UploadsHandler {
	return &UploadsHandler{deps: deps}
}

// HandleStreamUpload handles POST /uploads/stream requests. The body is a
// JSON array of data points; owner_id, observer_id and observer_version are
// query parameters, preserve_invalid is an opt-in flag.
func (h *UploadsHandler) HandleStreamUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	observerID := strings.TrimSpace(q.Get("observer_id"))
	if ownerID == "" || observerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: owner_id and observer_id are required", ErrBadRequest))
		return
	}
	version, err := strconv.ParseInt(q.Get("observer_version"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: observer_version must be an integer", ErrBadRequest))
		return
	}

	summary, err := h.deps.UploadStream(r.Context(), upload.StreamRequest{
		OwnerID:         ownerID,
		ObserverID:      observerID,
		ObserverVersion: version,
		PreserveInvalid: parseBool(q.Get("preserve_invalid")),
		Body:            r.Body,
	})
	if err != nil {
		writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleSurveyUpload handles POST /uploads/survey requests. The body is a
// JSON array of survey responses, each naming its own survey definition.
func (h *UploadsHandler) HandleSurveyUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: owner_id is required", ErrBadRequest))
		return
	}

	summary, err := h.deps.UploadSurvey(r.Context(), upload.SurveyRequest{
		OwnerID:         ownerID,
		PreserveInvalid: parseBool(q.Get("preserve_invalid")),
		Body:            r.Body,
	})
	if err != nil {
		writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// writeUploadError maps pipeline errors to HTTP statuses.
func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrMalformedBatch):
		writeError(w, http.StatusBadRequest, "malformed_batch", err)
	case errors.Is(err, upload.ErrBatchTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large", err)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}
