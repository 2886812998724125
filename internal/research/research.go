// Package research mines deeper context from a history window: recurrence,
// host stability and the temporal neighbourhood of the analyzed event.
package research

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
)

// DefaultRecurrenceThreshold is the problem count at which a trigger is
// considered recurring within its window.
const DefaultRecurrenceThreshold = 3

// Researcher derives a ResearchReport from a history window.
type Researcher struct {
	recurrenceThreshold int
	logger              *slog.Logger
}

// NewResearcher constructs a Researcher. A non-positive threshold falls back
// to the default.
func NewResearcher(recurrenceThreshold int, logger *slog.Logger) *Researcher {
	if recurrenceThreshold <= 0 {
		recurrenceThreshold = DefaultRecurrenceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Researcher{recurrenceThreshold: recurrenceThreshold, logger: logger}
}

// Investigate analyses the window around the event. The window is assumed to
// be oldest-first for the event's (host, trigger_name) pair.
func (r *Researcher) Investigate(event models.Event, window models.HistoryWindow) models.ResearchReport {
	report := models.ResearchReport{Stability: 1}

	problems := window.Problems()
	report.Occurrences = len(problems)
	report.Recurring = report.Occurrences >= r.recurrenceThreshold

	report.Stability = stabilityScore(window)
	report.Precursors, report.Followers = partition(event, window)

	if report.Recurring {
		report.Findings = append(report.Findings, fmt.Sprintf(
			"%s on %s recurred %d times since %s",
			event.TriggerName, event.Host, report.Occurrences,
			window.Since.UTC().Format(time.RFC3339)))
	}
	if report.Stability < 0.5 {
		report.Findings = append(report.Findings, fmt.Sprintf(
			"host %s is unstable for this trigger (stability %.2f)",
			event.Host, report.Stability))
	}
	if len(report.Precursors) > 0 {
		report.Findings = append(report.Findings, fmt.Sprintf(
			"%d earlier occurrences precede this event in the window",
			len(report.Precursors)))
	}

	return report
}

// stabilityScore blends recovery completeness with recurrence pressure.
// A window where every problem recovered and problems are rare scores 1.
func stabilityScore(window models.HistoryWindow) float64 {
	problems := window.Problems()
	if len(problems) == 0 {
		return 1
	}

	resolved := make(map[string]struct{})
	for _, ev := range window.Events {
		if ev.Status == models.StatusResolved {
			resolved[ev.EventID] = struct{}{}
		}
	}

	recovered := 0
	for _, ev := range problems {
		if _, ok := resolved[ev.EventID]; ok {
			recovered++
		}
	}

	recoveryRatio := float64(recovered) / float64(len(problems))
	recurrencePenalty := float64(len(problems)) / 10
	if recurrencePenalty > 1 {
		recurrencePenalty = 1
	}

	score := 0.6*recoveryRatio + 0.4*(1-recurrencePenalty)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// partition splits the window's other events into those before and after the
// analyzed event.
func partition(event models.Event, window models.HistoryWindow) (precursors, followers []string) {
	for _, ev := range window.Events {
		if ev.EventID == event.EventID {
			continue
		}
		if ev.Timestamp.Before(event.Timestamp) {
			precursors = append(precursors, ev.EventID)
		} else {
			followers = append(followers, ev.EventID)
		}
	}
	return precursors, followers
}
