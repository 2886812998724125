package inference

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
)

const systemPrompt = `You are a root cause analyst for infrastructure alerts.
Respond with a single JSON object and nothing else:
{"hypotheses":[{"cause":"...","score":0.0}],"recommendations":["..."],"confidence":0.0}
Scores and confidence are in [0,1]. Order hypotheses by score, highest first.`

// BuildPrompt renders the analysis context into the user prompt.
func BuildPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Alert: %s on host %s (severity %d, status %s)\n",
		in.Event.TriggerName, in.Event.Host, in.Event.Severity, in.Event.Status)
	if in.Event.Item != "" {
		fmt.Fprintf(&b, "Item: %s = %s\n", in.Event.Item, in.Event.Value)
	}
	if in.Event.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.Event.Description)
	}
	if len(in.Event.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", formatTags(in.Event.Tags))
	}

	fmt.Fprintf(&b, "\nHistory (%d events since %s): %.2f problems/hour, severity trend %s",
		in.Window.Len(), in.Window.Since.UTC().Format(time.RFC3339),
		in.Trend.ProblemsPerHour, in.Trend.SeverityTrend)
	if in.Trend.RecoverySamples > 0 {
		fmt.Fprintf(&b, ", mean recovery %s over %d samples",
			in.Trend.MeanRecovery.Round(time.Second), in.Trend.RecoverySamples)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Impact: direct %.2f, indirect %.2f, temporal %.2f, estimated cost %.0f\n",
		in.Impact.Direct, in.Impact.Indirect, in.Impact.Temporal, in.Impact.EstimatedCost)

	for _, finding := range in.Research.Findings {
		fmt.Fprintf(&b, "Finding: %s\n", finding)
	}

	if len(in.Similar) > 0 {
		b.WriteString("\nSimilar past incidents:\n")
		for _, sim := range in.Similar {
			cause := sim.TopCause()
			if cause == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s (confidence %.2f, %s)\n",
				cause, sim.Confidence, sim.CreatedAt.UTC().Format(time.RFC3339))
		}
	}

	b.WriteString("\nIdentify the most likely root causes and remediation steps.")
	return b.String()
}

// SystemPrompt returns the instruction prompt shared by all backends.
func SystemPrompt() string { return systemPrompt }

type wireOutput struct {
	Hypotheses []struct {
		Cause string  `json:"cause"`
		Score float64 `json:"score"`
	} `json:"hypotheses"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

// ParseOutput extracts the structured result from a model response. The
// response may wrap the JSON in prose or markdown fences; when no JSON object
// can be recovered the raw text becomes a single low-confidence hypothesis.
func ParseOutput(content string) (Output, error) {
	raw, ok := extractJSON(content)
	if !ok {
		return fallbackOutput(content)
	}

	var wire wireOutput
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return fallbackOutput(content)
	}

	out := Output{
		Recommendations: wire.Recommendations,
		Confidence:      clamp01(wire.Confidence),
	}
	for _, h := range wire.Hypotheses {
		if strings.TrimSpace(h.Cause) == "" {
			continue
		}
		out.Hypotheses = append(out.Hypotheses, models.Hypothesis{
			Cause: strings.TrimSpace(h.Cause),
			Score: clamp01(h.Score),
		})
	}
	if len(out.Hypotheses) == 0 {
		return fallbackOutput(content)
	}
	return out, nil
}

// extractJSON strips markdown fences and returns the outermost JSON object.
func extractJSON(content string) (string, bool) {
	content = strings.TrimSpace(content)

	if idx := strings.Index(content, "```"); idx != -1 {
		content = content[idx+3:]
		if nl := strings.Index(content, "\n"); nl != -1 {
			content = content[nl+1:]
		}
		if end := strings.LastIndex(content, "```"); end != -1 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return content[start : end+1], true
}

// fallbackOutput salvages free-text responses: the first non-empty line
// becomes a single hypothesis with conservative confidence.
func fallbackOutput(content string) (Output, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*# "))
		if line == "" {
			continue
		}
		return Output{
			Hypotheses: []models.Hypothesis{{Cause: line, Score: 0.3}},
			Confidence: 0.3,
		}, nil
	}
	return Output{}, fmt.Errorf("%w: empty response", ErrBackend)
}

// formatTags renders tags in key order so identical events produce identical
// prompts.
func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if tags[k] == "" {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ", ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
