package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alertstack/trigger-rca/internal/inference"
	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/research"
	"github.com/alertstack/trigger-rca/internal/utils"
)

type stubStore struct {
	results []models.AnalysisResult
	version int
	fail    error
}

func (s *stubStore) AttachResult(ctx context.Context, result models.AnalysisResult) error {
	if s.fail != nil {
		return s.fail
	}
	s.results = append(s.results, result)
	return nil
}

func (s *stubStore) NextVersion(ctx context.Context, eventID string) (int, error) {
	if s.version == 0 {
		s.version = 1
	}
	return s.version, nil
}

type stubInferencer struct {
	out   inference.Output
	err   error
	calls int
}

func (s *stubInferencer) Analyze(ctx context.Context, in inference.Input) (inference.Output, error) {
	s.calls++
	return s.out, s.err
}

func (s *stubInferencer) Name() string { return "stub" }

type stubSearcher struct {
	results []models.AnalysisResult
	err     error
}

func (s *stubSearcher) SimilarAnalyses(ctx context.Context, queryText string, limit int) ([]models.AnalysisResult, error) {
	return s.results, s.err
}

func newTestPipeline(store ResultStore, searcher SimilaritySearcher, inf Inferencer) *Pipeline {
	logger := utils.NewDiscardLogger()
	trend := NewTrendEngine(24*time.Hour, 4*time.Hour, logger)
	impact := NewImpactEngine(ImpactConfig{}, logger)
	researcher := research.NewResearcher(3, logger)
	return NewPipeline(trend, impact, nil, researcher, searcher, inf, store,
		PipelineConfig{DegradedCeiling: 0.5, SimilarLimit: 5}, logger)
}

func testPipelineEvent() (models.Event, models.HistoryWindow) {
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	event := models.Event{
		EventID:     "ev-1",
		Host:        "web1",
		TriggerName: "CPU high",
		Severity:    models.SeverityHigh,
		Status:      models.StatusProblem,
		Timestamp:   ts,
	}
	window := models.HistoryWindow{
		Host:        "web1",
		TriggerName: "CPU high",
		Since:       ts.Add(-24 * time.Hour),
		Events:      []models.Event{event},
	}
	return event, window
}

func TestPipelineInferredPath(t *testing.T) {
	store := &stubStore{}
	inf := &stubInferencer{out: inference.Output{
		Hypotheses:      []models.Hypothesis{{Cause: "Runaway batch job", Score: 0.8}},
		Recommendations: []string{"Kill the batch job"},
		Confidence:      0.8,
	}}
	p := newTestPipeline(store, nil, inf)

	event, window := testPipelineEvent()
	result, err := p.Analyze(context.Background(), event, window, models.DecisionProcess)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.InferenceUsed {
		t.Fatalf("expected inference_used")
	}
	if result.Confidence != 0.8 {
		t.Fatalf("confidence = %v", result.Confidence)
	}
	if result.TopCause() != "Runaway batch job" {
		t.Fatalf("top cause = %q", result.TopCause())
	}
	if len(store.results) != 1 {
		t.Fatalf("result not persisted")
	}
}

func TestPipelineDegradesOnInferenceFailure(t *testing.T) {
	store := &stubStore{}
	inf := &stubInferencer{err: inference.ErrTimeout}
	p := newTestPipeline(store, nil, inf)

	event, window := testPipelineEvent()
	result, err := p.Analyze(context.Background(), event, window, models.DecisionProcess)
	if err != nil {
		t.Fatalf("degraded analysis must still succeed: %v", err)
	}
	if result.InferenceUsed {
		t.Fatalf("inference_used should be false on the degraded path")
	}
	if result.Confidence >= 0.5 {
		t.Fatalf("degraded confidence %v not below ceiling", result.Confidence)
	}
	if len(result.RootCause) == 0 {
		t.Fatalf("degraded path must synthesize hypotheses")
	}
	if len(store.results) != 1 {
		t.Fatalf("degraded result must still be persisted")
	}
}

func TestPipelineNoInferencerConfigured(t *testing.T) {
	store := &stubStore{}
	p := newTestPipeline(store, nil, nil)

	event, window := testPipelineEvent()
	result, err := p.Analyze(context.Background(), event, window, models.DecisionProcess)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.InferenceUsed {
		t.Fatalf("no backend configured, inference_used must be false")
	}
}

func TestPipelinePersistFailureSurfaces(t *testing.T) {
	store := &stubStore{fail: errors.New("disk full")}
	p := newTestPipeline(store, nil, nil)

	event, window := testPipelineEvent()
	_, err := p.Analyze(context.Background(), event, window, models.DecisionProcess)
	if err == nil {
		t.Fatalf("persistence failure must surface as an error")
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, store.fail) {
		t.Fatalf("error %v should wrap the store failure with operation context", err)
	}
}

func TestPipelineSimilarRetrievalBestEffort(t *testing.T) {
	store := &stubStore{}
	searcher := &stubSearcher{err: errors.New("weaviate down")}
	p := newTestPipeline(store, searcher, nil)

	event, window := testPipelineEvent()
	result, err := p.Analyze(context.Background(), event, window, models.DecisionProcess)
	if err != nil {
		t.Fatalf("retrieval failure must not fail the analysis: %v", err)
	}
	if len(result.SimilarEvents) != 0 {
		t.Fatalf("similar events should be empty, got %v", result.SimilarEvents)
	}
}

func TestOrderHypothesesTieBreak(t *testing.T) {
	event := models.Event{
		Host: "web1",
		Tags: map[string]string{"service": "payment"},
	}
	similar := []models.AnalysisResult{
		{
			EventID:   "old",
			RootCause: []models.Hypothesis{{Cause: "network partition", Score: 0.6}},
			CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			EventID:   "recent",
			RootCause: []models.Hypothesis{{Cause: "database failover", Score: 0.6}},
			CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	tied := []models.Hypothesis{
		{Cause: "network partition upstream", Score: 0.5},
		{Cause: "database failover pending", Score: 0.5},
		{Cause: "payment queue backlog", Score: 0.5},
		{Cause: "an unrelated guess", Score: 0.5},
	}

	ordered := orderHypotheses(tied, event, similar)

	// Tag match first, then most recent similar mention, then lexical.
	want := []string{
		"payment queue backlog",
		"database failover pending",
		"network partition upstream",
		"an unrelated guess",
	}
	for i, cause := range want {
		if ordered[i].Cause != cause {
			t.Fatalf("position %d = %q, want %q (full order: %+v)", i, ordered[i].Cause, cause, ordered)
		}
	}

	// Reordering the input must not change the output.
	reversed := []models.Hypothesis{tied[3], tied[2], tied[1], tied[0]}
	again := orderHypotheses(reversed, event, similar)
	for i := range want {
		if again[i].Cause != ordered[i].Cause {
			t.Fatalf("ordering not deterministic at %d: %q vs %q", i, again[i].Cause, ordered[i].Cause)
		}
	}
}

func TestPipelineVersioning(t *testing.T) {
	store := &stubStore{version: 3}
	p := newTestPipeline(store, nil, nil)

	event, window := testPipelineEvent()
	result, err := p.Analyze(context.Background(), event, window, models.DecisionProcess)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Version != 3 || !result.Update {
		t.Fatalf("version = %d update = %v, want 3/true", result.Version, result.Update)
	}
	if result.AnalysisID == "" {
		t.Fatalf("analysis id not assigned")
	}
}

func TestPipelineCoalesceMarkedUpdate(t *testing.T) {
	store := &stubStore{}
	p := newTestPipeline(store, nil, nil)

	// A coalesced delivery carries a fresh event ID, so version allocation
	// starts at 1; the result must still present itself as an update.
	event, window := testPipelineEvent()
	result, err := p.Analyze(context.Background(), event, window, models.DecisionCoalesce)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Version != 1 {
		t.Fatalf("version = %d, want 1", result.Version)
	}
	if !result.Update {
		t.Fatalf("coalesced analysis must be marked an update")
	}
	if len(store.results) != 1 || !store.results[0].Update {
		t.Fatalf("persisted result not marked an update: %+v", store.results)
	}
}
