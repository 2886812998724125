package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alertstack/trigger-rca/internal/inference"
	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/research"
	"github.com/alertstack/trigger-rca/internal/utils"
)

// State labels a stage of the analysis pipeline.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateContextGathered State = "CONTEXT_GATHERED"
	StateInferred        State = "INFERRED"
	StateDegraded        State = "DEGRADED"
	StatePersisted       State = "PERSISTED"
)

// Inferencer produces model-backed hypotheses. Implementations live in
// internal/inference; the pipeline treats inference as optional and falls
// back to deterministic signals when it fails.
type Inferencer interface {
	Analyze(ctx context.Context, in inference.Input) (inference.Output, error)
	Name() string
}

// ResultStore is the slice of the history store the pipeline needs to
// persist its output.
type ResultStore interface {
	AttachResult(ctx context.Context, result models.AnalysisResult) error
	NextVersion(ctx context.Context, eventID string) (int, error)
}

// SimilaritySearcher retrieves past analyses ranked by relevance to a query
// text. Retrieval is best-effort.
type SimilaritySearcher interface {
	SimilarAnalyses(ctx context.Context, queryText string, limit int) ([]models.AnalysisResult, error)
}

// PipelineConfig bounds the orchestration behaviour.
type PipelineConfig struct {
	// DegradedCeiling is the exclusive upper bound on confidence when
	// inference did not run.
	DegradedCeiling float64
	// SimilarLimit caps similarity retrieval.
	SimilarLimit int
}

func (c *PipelineConfig) applyDefaults() {
	if c.DegradedCeiling <= 0 || c.DegradedCeiling > 1 {
		c.DegradedCeiling = 0.5
	}
	if c.SimilarLimit <= 0 {
		c.SimilarLimit = 5
	}
}

// Pipeline orchestrates one root-cause analysis: context gathering,
// inference (or the degraded fallback) and persistence.
type Pipeline struct {
	trend      *TrendEngine
	impact     *ImpactEngine
	rules      *RuleEngine
	researcher *research.Researcher
	searcher   SimilaritySearcher
	inferencer Inferencer
	store      ResultStore
	cfg        PipelineConfig
	logger     *slog.Logger

	now func() time.Time
}

// NewPipeline constructs the pipeline. searcher and inferencer may be nil;
// rules may be nil (no rule pack loaded).
func NewPipeline(
	trend *TrendEngine,
	impact *ImpactEngine,
	rules *RuleEngine,
	researcher *research.Researcher,
	searcher SimilaritySearcher,
	inferencer Inferencer,
	store ResultStore,
	cfg PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if researcher == nil {
		researcher = research.NewResearcher(0, logger)
	}
	return &Pipeline{
		trend:      trend,
		impact:     impact,
		rules:      rules,
		researcher: researcher,
		searcher:   searcher,
		inferencer: inferencer,
		store:      store,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Analyze runs the full pipeline for one admitted event. decision is the
// admission outcome that let the event through; COALESCE marks the result as
// an update of earlier findings even when the new event ID has no prior
// versions. Inference failure degrades the result; persistence failure is
// returned as an error.
func (p *Pipeline) Analyze(ctx context.Context, event models.Event, window models.HistoryWindow, decision models.Decision) (models.AnalysisResult, error) {
	state := StateReceived
	p.logState(event, state)

	now := p.now().UTC()

	// Impact depends on trend, so that pair runs as one chain; research and
	// similarity retrieval are independent of it.
	var (
		trendSummary  models.TrendSummary
		impactSummary models.ImpactSummary
		report        models.ResearchReport
		similar       []models.AnalysisResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		trendSummary = p.trend.Analyze(window, now)
		impactSummary = p.impact.Assess(event, trendSummary)
		return nil
	})
	g.Go(func() error {
		report = p.researcher.Investigate(event, window)
		return nil
	})
	if p.searcher != nil {
		g.Go(func() error {
			query := event.TriggerName + " on " + event.Host
			found, err := p.searcher.SimilarAnalyses(gctx, query, p.cfg.SimilarLimit)
			if err != nil {
				p.logger.Warn("similarity retrieval failed", slog.Any("error", err))
				return nil
			}
			similar = found
			return nil
		})
	}
	_ = g.Wait()

	state = StateContextGathered
	p.logState(event, state)

	ruleRecs := p.rules.Recommend(event)

	var (
		hypotheses      []models.Hypothesis
		recommendations []string
		confidence      float64
		inferenceUsed   bool
	)

	if p.inferencer != nil {
		out, err := p.inferencer.Analyze(ctx, inference.Input{
			Event:    event,
			Window:   window,
			Trend:    trendSummary,
			Impact:   impactSummary,
			Research: report,
			Similar:  similar,
		})
		if err == nil {
			state = StateInferred
			inferenceUsed = true
			hypotheses = out.Hypotheses
			recommendations = appendUnique(out.Recommendations, ruleRecs...)
			confidence = out.Confidence
		} else {
			p.logger.Warn("inference failed, degrading",
				slog.String("backend", p.inferencer.Name()),
				slog.String("event_id", event.EventID),
				slog.Any("error", err))
		}
	}

	if !inferenceUsed {
		state = StateDegraded
		hypotheses = p.fallbackHypotheses(event, trendSummary, impactSummary, report)
		recommendations = appendUnique(fallbackRecommendations(event, report), ruleRecs...)
		confidence = p.capDegraded(fallbackConfidence(trendSummary, report, similar))
	}
	p.logState(event, state)

	hypotheses = orderHypotheses(hypotheses, event, similar)

	version, err := p.store.NextVersion(ctx, event.EventID)
	if err != nil {
		return models.AnalysisResult{}, utils.NewAppError("pipeline.analyze",
			"allocating analysis version", err)
	}

	result := models.AnalysisResult{
		AnalysisID:      uuid.NewString(),
		EventID:         event.EventID,
		Version:         version,
		Update:          decision == models.DecisionCoalesce || version > 1,
		RootCause:       hypotheses,
		Trend:           trendSummary,
		Impact:          impactSummary,
		Recommendations: recommendations,
		Confidence:      confidence,
		InferenceUsed:   inferenceUsed,
		SimilarEvents:   similarEventIDs(similar),
		CreatedAt:       now,
	}

	if err := p.store.AttachResult(ctx, result); err != nil {
		return models.AnalysisResult{}, utils.NewAppError("pipeline.analyze",
			fmt.Sprintf("persisting analysis for %s", event.EventID), err)
	}
	p.logState(event, StatePersisted)

	return result, nil
}

func (p *Pipeline) logState(event models.Event, state State) {
	p.logger.Debug("pipeline state",
		slog.String("event_id", event.EventID),
		slog.String("state", string(state)))
}

// capDegraded keeps degraded confidence strictly below the ceiling.
func (p *Pipeline) capDegraded(confidence float64) float64 {
	limit := p.cfg.DegradedCeiling - 0.01
	if limit < 0 {
		limit = 0
	}
	if confidence > limit {
		return limit
	}
	return confidence
}

// fallbackHypotheses synthesizes a root-cause ranking from deterministic
// signals when inference is unavailable.
func (p *Pipeline) fallbackHypotheses(event models.Event, trend models.TrendSummary, impact models.ImpactSummary, report models.ResearchReport) []models.Hypothesis {
	var hypotheses []models.Hypothesis

	if report.Recurring {
		hypotheses = append(hypotheses, models.Hypothesis{
			Cause: fmt.Sprintf("Recurring instability: %s fired %d times on %s in the lookback window",
				event.TriggerName, report.Occurrences, event.Host),
			Score: 0.7,
		})
	}
	if trend.SeverityTrend == models.TrendIncreasing {
		hypotheses = append(hypotheses, models.Hypothesis{
			Cause: fmt.Sprintf("Escalating condition: severity of %s on %s is trending upward", event.TriggerName, event.Host),
			Score: 0.6,
		})
	}
	if impact.Indirect >= 0.5 {
		hypotheses = append(hypotheses, models.Hypothesis{
			Cause: fmt.Sprintf("Shared dependency pressure affecting %s", event.Host),
			Score: 0.5,
		})
	}
	if len(report.Precursors) > 0 {
		hypotheses = append(hypotheses, models.Hypothesis{
			Cause: fmt.Sprintf("Correlated earlier activity: %d precursor events in the window", len(report.Precursors)),
			Score: 0.4,
		})
	}
	if len(hypotheses) == 0 {
		hypotheses = append(hypotheses, models.Hypothesis{
			Cause: fmt.Sprintf("Isolated occurrence of %s on %s", event.TriggerName, event.Host),
			Score: 0.3,
		})
	}
	return hypotheses
}

func fallbackRecommendations(event models.Event, report models.ResearchReport) []string {
	recs := []string{
		fmt.Sprintf("Inspect %s on host %s", event.TriggerName, event.Host),
	}
	if report.Recurring {
		recs = append(recs, "Investigate the recurring pattern instead of the single occurrence")
	}
	if report.Stability < 0.5 {
		recs = append(recs, fmt.Sprintf("Review host %s for chronic instability", event.Host))
	}
	return recs
}

// fallbackConfidence grows with the amount of corroborating context.
func fallbackConfidence(trend models.TrendSummary, report models.ResearchReport, similar []models.AnalysisResult) float64 {
	confidence := 0.2
	if trend.TotalEvents >= 2 {
		confidence += 0.1
	}
	if report.Recurring {
		confidence += 0.1
	}
	if len(similar) > 0 {
		confidence += 0.1
	}
	return confidence
}

// orderHypotheses sorts by score descending; ties fall back to severity-tag
// match, then the most recent similar incident mentioning the cause, then
// lexical order, so the ranking is reproducible.
func orderHypotheses(hypotheses []models.Hypothesis, event models.Event, similar []models.AnalysisResult) []models.Hypothesis {
	type candidate struct {
		models.Hypothesis
		tagMatch    bool
		similarSeen time.Time
	}

	candidates := make([]candidate, len(hypotheses))
	for i, h := range hypotheses {
		candidates[i] = candidate{
			Hypothesis:  h,
			tagMatch:    causeMatchesTags(h.Cause, event),
			similarSeen: lastSimilarMention(h.Cause, similar),
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.tagMatch != b.tagMatch {
			return a.tagMatch
		}
		if !a.similarSeen.Equal(b.similarSeen) {
			return a.similarSeen.After(b.similarSeen)
		}
		return a.Cause < b.Cause
	})

	ordered := make([]models.Hypothesis, len(candidates))
	for i, c := range candidates {
		ordered[i] = c.Hypothesis
	}
	return ordered
}

// causeMatchesTags reports whether the hypothesis text mentions any tag of
// the event.
func causeMatchesTags(cause string, event models.Event) bool {
	lower := strings.ToLower(cause)
	for key, value := range event.Tags {
		if value != "" && strings.Contains(lower, strings.ToLower(value)) {
			return true
		}
		if strings.Contains(lower, strings.ToLower(key)) {
			return true
		}
	}
	return false
}

// lastSimilarMention returns the creation time of the most recent similar
// analysis whose top cause overlaps the hypothesis text.
func lastSimilarMention(cause string, similar []models.AnalysisResult) time.Time {
	var last time.Time
	lower := strings.ToLower(cause)
	for _, sim := range similar {
		top := strings.ToLower(sim.TopCause())
		if top == "" {
			continue
		}
		if strings.Contains(lower, top) || strings.Contains(top, lower) {
			if sim.CreatedAt.After(last) {
				last = sim.CreatedAt
			}
		}
	}
	return last
}

func similarEventIDs(similar []models.AnalysisResult) []string {
	ids := make([]string, 0, len(similar))
	seen := make(map[string]struct{}, len(similar))
	for _, sim := range similar {
		if sim.EventID == "" {
			continue
		}
		if _, ok := seen[sim.EventID]; ok {
			continue
		}
		ids = append(ids, sim.EventID)
		seen[sim.EventID] = struct{}{}
	}
	return ids
}
