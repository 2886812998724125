package research

import (
	"fmt"
	"testing"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/utils"
)

func windowOf(events ...models.Event) models.HistoryWindow {
	return models.HistoryWindow{
		Host:        "web1",
		TriggerName: "CPU high",
		Since:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Events:      events,
	}
}

func problemAt(id string, ts time.Time) models.Event {
	return models.Event{
		EventID:     id,
		Host:        "web1",
		TriggerName: "CPU high",
		Severity:    models.SeverityAverage,
		Status:      models.StatusProblem,
		Timestamp:   ts,
	}
}

func resolvedAt(id string, ts time.Time) models.Event {
	ev := problemAt(id, ts)
	ev.Status = models.StatusResolved
	return ev
}

func TestInvestigateRecurring(t *testing.T) {
	r := NewResearcher(3, utils.NewDiscardLogger())
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	var events []models.Event
	for i := 0; i < 4; i++ {
		events = append(events, problemAt(fmt.Sprintf("ev-%d", i), base.Add(time.Duration(i)*time.Hour)))
	}
	current := events[len(events)-1]

	report := r.Investigate(current, windowOf(events...))
	if !report.Recurring {
		t.Fatalf("expected recurring, got %+v", report)
	}
	if report.Occurrences != 4 {
		t.Fatalf("occurrences = %d, want 4", report.Occurrences)
	}
	if len(report.Precursors) != 3 || len(report.Followers) != 0 {
		t.Fatalf("partition = %d precursors / %d followers", len(report.Precursors), len(report.Followers))
	}
	if len(report.Findings) == 0 {
		t.Fatalf("expected findings for a recurring trigger")
	}
}

func TestInvestigateQuietWindow(t *testing.T) {
	r := NewResearcher(0, utils.NewDiscardLogger())
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	current := problemAt("ev-1", base)

	report := r.Investigate(current, windowOf(current))
	if report.Recurring {
		t.Fatalf("single event reported as recurring")
	}
	if report.Stability >= 1 {
		t.Fatalf("unrecovered problem should lower stability, got %.2f", report.Stability)
	}
}

func TestStabilityRewardsRecovery(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	recovered := windowOf(
		problemAt("ev-1", base),
		resolvedAt("ev-1", base.Add(5*time.Minute)),
	)
	hanging := windowOf(problemAt("ev-1", base))

	if stabilityScore(recovered) <= stabilityScore(hanging) {
		t.Fatalf("recovered window should score higher: %.2f vs %.2f",
			stabilityScore(recovered), stabilityScore(hanging))
	}
}
