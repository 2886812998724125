package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alertstack/trigger-rca/internal/ingest"
	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/services"
)

// IngestService is the slice of the analyzer facade the handlers need.
type IngestService interface {
	Ingest(ctx context.Context, raw ingest.RawEvent) (models.IngestOutcome, error)
	Stats(ctx context.Context) (models.EventStats, error)
	Results(ctx context.Context, eventID string) ([]models.AnalysisResult, error)
	Visualize(ctx context.Context, host, triggerName string) (models.VisualizationReport, error)
}

// HealthService reports aggregated dependency health.
type HealthService interface {
	Check(ctx context.Context) services.HealthReport
}

// Handlers holds the HTTP endpoints for the webhook surface.
type Handlers struct {
	service IngestService
	health  HealthService
	logger  *slog.Logger
}

// NewHandlers wires the endpoint set.
func NewHandlers(service IngestService, health HealthService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, health: health, logger: logger}
}

// Routes builds the request mux.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/webhook", h.handleWebhook)
	mux.HandleFunc("/api/v1/health", h.handleHealth)
	mux.HandleFunc("/api/v1/stats", h.handleStats)
	mux.HandleFunc("/api/v1/analyses/", h.handleAnalyses)
	mux.HandleFunc("/api/v1/visualization", h.handleVisualization)
	return mux
}

type webhookResponse struct {
	Decision string                 `json:"decision"`
	EventID  string                 `json:"event_id"`
	Analysis *models.AnalysisResult `json:"analysis,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !enforceMethod(w, r, http.MethodPost) {
		return
	}

	var raw ingest.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	outcome, err := h.service.Ingest(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ingest.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("webhook processing failed",
			slog.String("event_id", raw.EventID),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Decision: string(outcome.Decision),
		EventID:  outcome.EventID,
		Analysis: outcome.Analysis,
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !enforceMethod(w, r, http.MethodGet) {
		return
	}

	report := h.health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	if !enforceMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if !enforceMethod(w, r, http.MethodGet) {
		return
	}

	eventID := r.URL.Path[len("/api/v1/analyses/"):]
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event id is required")
		return
	}

	results, err := h.service.Results(r.Context(), eventID)
	if err != nil {
		h.logger.Error("analysis lookup failed",
			slog.String("event_id", eventID),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "analysis lookup failed")
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "no analyses for event")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handlers) handleVisualization(w http.ResponseWriter, r *http.Request) {
	if !enforceMethod(w, r, http.MethodGet) {
		return
	}

	host := r.URL.Query().Get("host")
	trigger := r.URL.Query().Get("trigger")
	if host == "" || trigger == "" {
		writeError(w, http.StatusBadRequest, "host and trigger are required")
		return
	}

	report, err := h.service.Visualize(r.Context(), host, trigger)
	if err != nil {
		h.logger.Error("visualization failed",
			slog.String("host", host),
			slog.String("trigger", trigger),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "visualization unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func enforceMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
