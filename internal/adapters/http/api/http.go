// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mobsense/mobsense/internal/domain/model"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
	"github.com/mobsense/mobsense/internal/domain/upload"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// UploadStream and UploadSurvey run a batch through the pipeline.
	UploadStream(ctx context.Context, req upload.StreamRequest) (*model.UploadSummary, error)
	UploadSurvey(ctx context.Context, req upload.SurveyRequest) (*model.UploadSummary, error)

	// RegisterObserverDefinition and RegisterSurveyDefinition install new
	// immutable definition documents.
	RegisterObserverDefinition(ctx context.Context, doc []byte) (*observer.Definition, error)
	RegisterSurveyDefinition(ctx context.Context, doc []byte) (*survey.Definition, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	uploadsHandler     *UploadsHandler
	definitionsHandler *DefinitionsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		uploadsHandler:     NewUploadsHandler(deps),
		definitionsHandler: NewDefinitionsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", MetricsMiddleware(s.healthHandler.HandleHealth, "metrics"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/uploads/stream", MetricsMiddleware(s.uploadsHandler.HandleStreamUpload, "uploads_stream"))
	mux.HandleFunc("/uploads/survey", MetricsMiddleware(s.uploadsHandler.HandleSurveyUpload, "uploads_survey"))
	mux.HandleFunc("/definitions/observer", MetricsMiddleware(s.definitionsHandler.HandleObserverDefinition, "definitions_observer"))
	mux.HandleFunc("/definitions/survey", MetricsMiddleware(s.definitionsHandler.HandleSurveyDefinition, "definitions_survey"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
