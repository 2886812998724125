// Package engine holds the analysis engines: trend, impact, rule-based
// recommendations and the RCA pipeline that orchestrates them.
package engine

import (
	"log/slog"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
)

// maxProjectedProblems bounds the frequency extrapolation; the projection is
// advisory and a runaway trigger must not produce absurd numbers.
const maxProjectedProblems = 1000

// TrendEngine derives frequency, severity-direction and recovery statistics
// from a history window.
type TrendEngine struct {
	lookback time.Duration
	horizon  time.Duration
	logger   *slog.Logger
}

// NewTrendEngine constructs a TrendEngine with the configured lookback and
// projection horizon.
func NewTrendEngine(lookback, horizon time.Duration, logger *slog.Logger) *TrendEngine {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	if horizon <= 0 {
		horizon = 4 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrendEngine{lookback: lookback, horizon: horizon, logger: logger}
}

// Analyze computes the trend summary for the window as of now. It always
// returns the event totals; slope and recovery fields degrade to
// unknown/zero when the window is too sparse.
func (e *TrendEngine) Analyze(window models.HistoryWindow, now time.Time) models.TrendSummary {
	summary := models.TrendSummary{
		TotalEvents:   window.Len(),
		SeverityTrend: models.TrendUnknown,
		Horizon:       e.horizon,
	}

	problems := window.Problems()

	elapsed := now.Sub(window.Since)
	if elapsed <= 0 {
		elapsed = e.lookback
	}
	hours := elapsed.Hours()
	if hours > 0 {
		summary.ProblemsPerHour = float64(len(problems)) / hours
	}

	summary.SeveritySlope, summary.SeverityTrend = severitySlope(problems)
	summary.MeanRecovery, summary.LastRecovery, summary.RecoverySamples = recoveryStats(window.Events)

	projected := summary.ProblemsPerHour * e.horizon.Hours()
	if projected > maxProjectedProblems {
		projected = maxProjectedProblems
	}
	summary.ProjectedProblems = projected

	return summary
}

// severitySlope fits severity over elapsed seconds by least squares. Fewer
// than two problem points cannot carry a direction.
func severitySlope(problems []models.Event) (float64, models.Trend) {
	if len(problems) < 2 {
		return 0, models.TrendUnknown
	}

	origin := problems[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	for _, ev := range problems {
		x := ev.Timestamp.Sub(origin).Seconds()
		y := float64(ev.Severity)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	n := float64(len(problems))
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, models.TrendFlat
	}
	slope := (n*sumXY - sumX*sumY) / denom

	const epsilon = 1e-9
	switch {
	case slope > epsilon:
		return slope, models.TrendIncreasing
	case slope < -epsilon:
		return slope, models.TrendDecreasing
	default:
		return slope, models.TrendFlat
	}
}

// recoveryStats pairs PROBLEM events with the RESOLVED event carrying the
// same event_id. Unmatched problems contribute no recovery sample.
func recoveryStats(events []models.Event) (mean, last time.Duration, samples int) {
	resolved := make(map[string]time.Time, len(events))
	for _, ev := range events {
		if ev.Status == models.StatusResolved {
			resolved[ev.EventID] = ev.Timestamp
		}
	}

	var total time.Duration
	for _, ev := range events {
		if ev.Status != models.StatusProblem {
			continue
		}
		end, ok := resolved[ev.EventID]
		if !ok || !end.After(ev.Timestamp) {
			continue
		}
		d := end.Sub(ev.Timestamp)
		total += d
		last = d
		samples++
	}
	if samples > 0 {
		mean = total / time.Duration(samples)
	}
	return mean, last, samples
}
