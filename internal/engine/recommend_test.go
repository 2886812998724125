package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/utils"
)

func TestRuleEngineMatching(t *testing.T) {
	rules := []Rule{
		{
			ID: "cpu",
			Match: RuleMatch{
				TriggerContains: []string{"cpu"},
				MinSeverity:     3,
			},
			Recommendations: []string{"Inspect top CPU consumers", "Check for runaway processes"},
		},
		{
			ID: "payment",
			Match: RuleMatch{
				Tags: []string{"service=payment"},
			},
			Recommendations: []string{"Page the payments on-call"},
		},
	}
	e := NewRuleEngineFromRules(rules, utils.NewDiscardLogger())

	event := models.Event{
		TriggerName: "CPU utilization high",
		Severity:    models.SeverityHigh,
		Tags:        map[string]string{"service": "payment"},
	}
	recs := e.Recommend(event)
	if len(recs) != 3 {
		t.Fatalf("recs = %v, want all three", recs)
	}

	lowSeverity := event
	lowSeverity.Severity = models.SeverityWarning
	recs = e.Recommend(lowSeverity)
	if len(recs) != 1 || recs[0] != "Page the payments on-call" {
		t.Fatalf("min_severity not applied: %v", recs)
	}
}

func TestRuleEngineDeduplicates(t *testing.T) {
	rules := []Rule{
		{ID: "a", Recommendations: []string{"Restart the service"}},
		{ID: "b", Recommendations: []string{"Restart the service", "Check logs"}},
	}
	e := NewRuleEngineFromRules(rules, utils.NewDiscardLogger())

	recs := e.Recommend(models.Event{TriggerName: "anything"})
	if len(recs) != 2 {
		t.Fatalf("recs = %v, want deduplicated pair", recs)
	}
}

func TestRuleEngineNilMatchesNothing(t *testing.T) {
	var e *RuleEngine
	if recs := e.Recommend(models.Event{TriggerName: "x"}); recs != nil {
		t.Fatalf("nil engine returned %v", recs)
	}
}

func TestNewRuleEngineLoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	pack := `rules:
  - id: disk
    match:
      trigger_contains: ["disk", "filesystem"]
      min_severity: 2
    recommendations:
      - Check free space on the affected volume
`
	if err := os.WriteFile(path, []byte(pack), 0o600); err != nil {
		t.Fatalf("writing rule pack: %v", err)
	}

	e, err := NewRuleEngine(path, utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}
	recs := e.Recommend(models.Event{TriggerName: "Filesystem almost full", Severity: models.SeverityAverage})
	if len(recs) != 1 {
		t.Fatalf("recs = %v, want one", recs)
	}
}

func TestNewRuleEngineMissingFile(t *testing.T) {
	e, err := NewRuleEngine(filepath.Join(t.TempDir(), "absent.yaml"), utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if e != nil {
		t.Fatalf("missing file should yield nil engine")
	}
}
