// Package inference turns gathered analysis context into root-cause
// hypotheses via a pluggable language-model backend.
package inference

import (
	"context"
	"errors"

	"github.com/alertstack/trigger-rca/internal/models"
)

// ErrBackend marks a backend call that failed after retries.
var ErrBackend = errors.New("inference backend error")

// ErrTimeout marks a backend call that exceeded its deadline.
var ErrTimeout = errors.New("inference timed out")

// Backend is a single language-model endpoint. Complete must honour the
// context deadline.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
	Ping(ctx context.Context) error
}

// Input is the full context handed to the model for one analysis.
type Input struct {
	Event    models.Event
	Window   models.HistoryWindow
	Trend    models.TrendSummary
	Impact   models.ImpactSummary
	Research models.ResearchReport
	Similar  []models.AnalysisResult
}

// Output is the structured result extracted from the model response.
type Output struct {
	Hypotheses      []models.Hypothesis
	Recommendations []string
	Confidence      float64
}
