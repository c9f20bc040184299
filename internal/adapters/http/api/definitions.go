// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/mobsense/mobsense/internal/adapters/repository"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
)

// maxDefinitionBytes bounds definition document uploads.
const maxDefinitionBytes = 1 << 20

// DefinitionsHandler handles definition registration requests.
type DefinitionsHandler struct {
	deps Dependencies
}

// NewDefinitionsHandler creates a new definitions handler.
func NewDefinitionsHandler(deps Dependencies) *DefinitionsHandler {
	return &DefinitionsHandler{deps: deps}
}

type definitionResponse struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// HandleObserverDefinition handles POST /definitions/observer requests. The
// body is the observer definition document.
func (h *DefinitionsHandler) HandleObserverDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	doc, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	def, err := h.deps.RegisterObserverDefinition(r.Context(), doc)
	if err != nil {
		writeDefinitionError(w, err, observer.ErrInvalidDefinition)
		return
	}
	writeJSON(w, http.StatusCreated, definitionResponse{ID: def.ID, Version: def.Version})
}

// HandleSurveyDefinition handles POST /definitions/survey requests. The body
// is the survey definition document.
func (h *DefinitionsHandler) HandleSurveyDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	doc, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	def, err := h.deps.RegisterSurveyDefinition(r.Context(), doc)
	if err != nil {
		writeDefinitionError(w, err, survey.ErrInvalidDefinition)
		return
	}
	writeJSON(w, http.StatusCreated, definitionResponse{ID: def.ID, Version: def.Version})
}

func writeDefinitionError(w http.ResponseWriter, err, invalidKind error) {
	switch {
	case errors.Is(err, invalidKind):
		writeError(w, http.StatusBadRequest, "invalid_definition", err)
	case errors.Is(err, repository.ErrVersionExists):
		writeError(w, http.StatusConflict, "version_exists", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
