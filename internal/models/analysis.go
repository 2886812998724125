package models

import "time"

// Decision classifies the admission outcome for one delivery.
type Decision string

const (
	DecisionProcess  Decision = "PROCESS"
	DecisionSuppress Decision = "SUPPRESS"
	DecisionCoalesce Decision = "COALESCE"
)

// Trend labels the direction of a fitted severity slope.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendFlat       Trend = "flat"
	TrendUnknown    Trend = "unknown"
)

// Hypothesis is one ranked root-cause candidate.
type Hypothesis struct {
	Cause string
	Score float64
}

// TrendSummary captures frequency, severity-over-time and recovery statistics
// computed from a HistoryWindow.
type TrendSummary struct {
	TotalEvents     int
	ProblemsPerHour float64
	SeverityTrend   Trend
	SeveritySlope   float64
	MeanRecovery    time.Duration
	LastRecovery    time.Duration
	RecoverySamples int

	// ProjectedProblems extrapolates the observed frequency over Horizon.
	// Advisory only.
	ProjectedProblems float64
	Horizon           time.Duration
}

// ImpactSummary holds normalized [0,1] impact scores plus the cost estimate.
type ImpactSummary struct {
	Direct            float64
	Indirect          float64
	Temporal          float64
	Overall           float64
	DownstreamTags    []string
	EstimatedDowntime time.Duration
	EstimatedCost     float64
}

// AnalysisResult is the output of one RCA run for one event. Re-analysis
// appends a new version instead of overwriting.
type AnalysisResult struct {
	AnalysisID      string
	EventID         string
	Version         int
	Update          bool
	RootCause       []Hypothesis
	Trend           TrendSummary
	Impact          ImpactSummary
	Recommendations []string
	Confidence      float64
	InferenceUsed   bool
	SimilarEvents   []string
	CreatedAt       time.Time
}

// TopCause returns the highest ranked hypothesis text, or "" when none exist.
func (r AnalysisResult) TopCause() string {
	if len(r.RootCause) == 0 {
		return ""
	}
	return r.RootCause[0].Cause
}

// IngestOutcome is what the webhook caller receives: the admission decision
// and, when an analysis ran (or a prior one exists for SUPPRESS), its result.
type IngestOutcome struct {
	Decision Decision
	EventID  string
	Analysis *AnalysisResult
}
