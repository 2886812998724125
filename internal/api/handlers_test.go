package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alertstack/trigger-rca/internal/ingest"
	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/services"
	"github.com/alertstack/trigger-rca/internal/utils"
)

type stubService struct {
	outcome  models.IngestOutcome
	err      error
	results  []models.AnalysisResult
	stats    models.EventStats
	statsErr error
	viz      models.VisualizationReport
	vizErr   error
}

func (s *stubService) Ingest(ctx context.Context, raw ingest.RawEvent) (models.IngestOutcome, error) {
	if s.err != nil {
		return models.IngestOutcome{}, s.err
	}
	return s.outcome, nil
}

func (s *stubService) Stats(ctx context.Context) (models.EventStats, error) {
	return s.stats, s.statsErr
}

func (s *stubService) Results(ctx context.Context, eventID string) ([]models.AnalysisResult, error) {
	return s.results, nil
}

func (s *stubService) Visualize(ctx context.Context, host, triggerName string) (models.VisualizationReport, error) {
	if s.vizErr != nil {
		return models.VisualizationReport{}, s.vizErr
	}
	return s.viz, nil
}

type stubHealth struct {
	report services.HealthReport
}

func (s *stubHealth) Check(ctx context.Context) services.HealthReport { return s.report }

func newTestHandlers(service IngestService, health HealthService) http.Handler {
	return NewHandlers(service, health, utils.NewDiscardLogger()).Routes()
}

func TestWebhookProcessed(t *testing.T) {
	service := &stubService{outcome: models.IngestOutcome{
		Decision: models.DecisionProcess,
		EventID:  "ev-1",
		Analysis: &models.AnalysisResult{AnalysisID: "an-1", EventID: "ev-1", Version: 1},
	}}
	handler := newTestHandlers(service, &stubHealth{})

	body := `{"event_id":"ev-1","host":"web1","trigger":"CPU high","severity":"4","status":"PROBLEM"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp webhookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Decision != "PROCESS" || resp.EventID != "ev-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Analysis == nil || resp.Analysis.AnalysisID != "an-1" {
		t.Fatalf("analysis missing from response: %+v", resp.Analysis)
	}
}

func TestWebhookValidationMapsTo400(t *testing.T) {
	service := &stubService{err: fmt.Errorf("%w: event_id is required", ingest.ErrValidation)}
	handler := newTestHandlers(service, &stubHealth{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookInternalErrorMapsTo500(t *testing.T) {
	service := &stubService{err: errors.New("history append failed")}
	handler := newTestHandlers(service, &stubHealth{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", strings.NewReader(`{"event_id":"ev-1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	handler := newTestHandlers(&stubService{}, &stubHealth{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	handler := newTestHandlers(&stubService{}, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	healthy := &stubHealth{report: services.HealthReport{
		Healthy:    true,
		Components: map[string]string{"history": "ok"},
	}}
	handler := newTestHandlers(&stubService{}, healthy)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d, want 200", rec.Code)
	}

	unhealthy := &stubHealth{report: services.HealthReport{
		Healthy:    false,
		Components: map[string]string{"history": "connection refused"},
	}}
	handler = newTestHandlers(&stubService{}, unhealthy)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d, want 503", rec.Code)
	}
}

func TestAnalysesEndpoint(t *testing.T) {
	service := &stubService{results: []models.AnalysisResult{
		{AnalysisID: "an-1", EventID: "ev-1", Version: 1},
		{AnalysisID: "an-2", EventID: "ev-1", Version: 2},
	}}
	handler := newTestHandlers(service, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/ev-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var results []models.AnalysisResult
	if err := json.NewDecoder(rec.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 2 || results[1].Version != 2 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestAnalysesNotFound(t *testing.T) {
	handler := newTestHandlers(&stubService{}, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	service := &stubService{stats: models.EventStats{TotalEvents: 3, ProblemEvents: 2, ResolvedEvents: 1}}
	handler := newTestHandlers(service, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats models.EventStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalEvents != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestVisualizationEndpoint(t *testing.T) {
	service := &stubService{viz: models.VisualizationReport{
		Host:          "web1",
		TriggerName:   "CPU high",
		TotalProblems: 3,
		TotalResolved: 2,
	}}
	handler := newTestHandlers(service, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visualization?host=web1&trigger=CPU+high", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report models.VisualizationReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.TotalProblems != 3 || report.Host != "web1" {
		t.Fatalf("report = %+v", report)
	}
}

func TestVisualizationRequiresHostAndTrigger(t *testing.T) {
	handler := newTestHandlers(&stubService{}, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visualization?host=web1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
