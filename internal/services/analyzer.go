// Package services wires ingestion, admission, history and the analysis
// pipeline into the operations the transport layer exposes.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alertstack/trigger-rca/internal/admission"
	"github.com/alertstack/trigger-rca/internal/history"
	"github.com/alertstack/trigger-rca/internal/ingest"
	"github.com/alertstack/trigger-rca/internal/metrics"
	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/utils"
)

// Pipeline is the analysis entry point the service depends on.
type Pipeline interface {
	Analyze(ctx context.Context, event models.Event, window models.HistoryWindow, decision models.Decision) (models.AnalysisResult, error)
}

// Analyzer is the ingestion facade: normalize, admit, gather history, analyze
// and persist.
type Analyzer struct {
	admitter  *admission.Controller
	store     history.Store
	pipeline  Pipeline
	lookback  time.Duration
	logger    *slog.Logger
	latencies *utils.LatencyTracker

	now func() time.Time
}

// NewAnalyzer constructs the facade.
func NewAnalyzer(admitter *admission.Controller, store history.Store, pipeline Pipeline, lookback time.Duration, logger *slog.Logger) *Analyzer {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		admitter:  admitter,
		store:     store,
		pipeline:  pipeline,
		lookback:  lookback,
		logger:    logger,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
}

// Ingest handles one webhook delivery end to end. Validation and persistence
// failures are returned as errors; inference and history-read degradation are
// reported inside a successful result.
func (a *Analyzer) Ingest(ctx context.Context, raw ingest.RawEvent) (models.IngestOutcome, error) {
	receivedAt := a.now().UTC()

	event, err := ingest.Normalize(raw, receivedAt)
	if err != nil {
		return models.IngestOutcome{}, err
	}
	for _, warning := range event.Warnings {
		a.logger.Warn("event normalized with warning",
			slog.String("event_id", event.EventID),
			slog.String("warning", warning))
	}

	res := a.admitter.Admit(ctx, event)
	metrics.ObserveAdmission(string(res.Decision))

	if res.Decision == models.DecisionSuppress {
		outcome := models.IngestOutcome{Decision: res.Decision, EventID: event.EventID}
		outcome.Analysis = a.priorAnalysis(ctx, res)
		return outcome, nil
	}

	if err := a.store.Append(ctx, event); err != nil {
		return models.IngestOutcome{}, utils.NewAppError("analyzer.ingest",
			fmt.Sprintf("recording event %s", event.EventID), err)
	}

	window := a.gatherWindow(ctx, event, receivedAt)

	start := a.now()
	result, err := a.pipeline.Analyze(ctx, event, window, res.Decision)
	duration := a.now().Sub(start)
	if err != nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError, metrics.ModeDegraded)
		a.logger.Error("analysis failed",
			slog.String("event_id", event.EventID),
			slog.Any("error", err))
		return models.IngestOutcome{}, err
	}

	mode := metrics.ModeDegraded
	if result.InferenceUsed {
		mode = metrics.ModeInferred
	}
	metrics.ObserveAnalysis(duration, metrics.OutcomeSuccess, mode)
	a.observeLatency(duration)

	a.admitter.RecordAnalysis(ctx, event, result.AnalysisID)

	return models.IngestOutcome{
		Decision: res.Decision,
		EventID:  event.EventID,
		Analysis: &result,
	}, nil
}

// Stats reports the stored event population.
func (a *Analyzer) Stats(ctx context.Context) (models.EventStats, error) {
	return a.store.Stats(ctx)
}

// Results returns all analysis versions for an event.
func (a *Analyzer) Results(ctx context.Context, eventID string) ([]models.AnalysisResult, error) {
	return a.store.Results(ctx, eventID)
}

// gatherWindow queries the lookback history. Read failure degrades to an
// empty window containing only the current event.
func (a *Analyzer) gatherWindow(ctx context.Context, event models.Event, now time.Time) models.HistoryWindow {
	since := now.Add(-a.lookback)
	window := models.HistoryWindow{
		Host:        event.Host,
		TriggerName: event.TriggerName,
		Since:       since,
	}

	events, err := a.store.Query(ctx, event.Host, event.TriggerName, since)
	if err != nil {
		a.logger.Warn("history read failed, analyzing with empty window",
			slog.String("event_id", event.EventID),
			slog.Any("error", err))
		window.Events = []models.Event{event}
		return window
	}

	window.Events = events
	if !windowContains(events, event) {
		window.Events = append(window.Events, event)
	}
	return window
}

// priorAnalysis resolves the analysis referenced by a SUPPRESS decision,
// best-effort.
func (a *Analyzer) priorAnalysis(ctx context.Context, res admission.Result) *models.AnalysisResult {
	if res.PriorEventID == "" {
		return nil
	}
	results, err := a.store.Results(ctx, res.PriorEventID)
	if err != nil || len(results) == 0 {
		return nil
	}
	if res.PriorAnalysisID != "" {
		for i := range results {
			if results[i].AnalysisID == res.PriorAnalysisID {
				return &results[i]
			}
		}
	}
	return &results[len(results)-1]
}

func (a *Analyzer) observeLatency(duration time.Duration) {
	a.latencies.Observe(duration)
	if count := a.latencies.Count(); count >= 20 && count%20 == 0 {
		a.logger.Info("analysis latency",
			slog.Duration("p95", a.latencies.Percentile(95)),
			slog.Duration("mean", a.latencies.Mean()),
			slog.Int("samples", count))
	}
}

func windowContains(events []models.Event, event models.Event) bool {
	for _, ev := range events {
		if ev.EventID == event.EventID && ev.Status == event.Status {
			return true
		}
	}
	return false
}
