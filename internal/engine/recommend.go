package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alertstack/trigger-rca/internal/models"
)

// RuleEngine produces rule-based recommendations from a YAML rule pack. It
// seeds the deterministic fallback and supplements inference output.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule is a single recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines the optional attributes a rule matches on. Empty fields
// match everything.
type RuleMatch struct {
	// TriggerContains matches when any keyword appears in the trigger name
	// or description (case-insensitive).
	TriggerContains []string `yaml:"trigger_contains"`
	// Tags requires each "key" or "key=value" entry to be present.
	Tags []string `yaml:"tags"`
	// MinSeverity is the lowest severity (0-5) the rule applies to.
	MinSeverity int `yaml:"min_severity"`
}

// RulePackFile is the YAML root structure.
type RulePackFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. An empty path or a
// missing file yields a nil engine, which recommends nothing.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var pack RulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: pack.Rules, logger: logger}, nil
}

// NewRuleEngineFromRules constructs an engine from in-memory rules.
func NewRuleEngineFromRules(rules []Rule, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: rules, logger: logger}
}

// Recommend returns deduplicated recommendations from all matching rules.
func (e *RuleEngine) Recommend(event models.Event) []string {
	if e == nil {
		return nil
	}

	matched := make([]string, 0)
	for _, rule := range e.rules {
		if int(event.Severity) < rule.Match.MinSeverity {
			continue
		}
		if len(rule.Match.TriggerContains) > 0 && !triggerContains(event, rule.Match.TriggerContains) {
			continue
		}
		if !hasAllTags(event, rule.Match.Tags) {
			continue
		}
		matched = appendUnique(matched, rule.Recommendations...)
	}
	return matched
}

func triggerContains(event models.Event, keywords []string) bool {
	haystack := strings.ToLower(event.TriggerName + " " + event.Description)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func hasAllTags(event models.Event, specs []string) bool {
	for _, spec := range specs {
		if !tagMatches(event, spec) {
			return false
		}
	}
	return true
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
