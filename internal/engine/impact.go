package engine

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
)

// ImpactConfig is the business cost model applied by the impact engine.
type ImpactConfig struct {
	// BaseCostPerHour indexes hourly downtime cost by severity (0-5).
	BaseCostPerHour []float64
	// TagMultipliers boosts the cost estimate when the event carries a
	// matching tag ("key=value" or bare "key").
	TagMultipliers map[string]float64
	// DefaultDowntime is assumed when no recovery history exists.
	DefaultDowntime time.Duration
	// CriticalTag marks production-critical hosts and items.
	CriticalTag string
	// SharedTag marks shared dependencies whose failures propagate.
	SharedTag string
}

func (c *ImpactConfig) applyDefaults() {
	if len(c.BaseCostPerHour) == 0 {
		c.BaseCostPerHour = []float64{0, 50, 200, 500, 2000, 10000}
	}
	if c.DefaultDowntime <= 0 {
		c.DefaultDowntime = 30 * time.Minute
	}
	if c.CriticalTag == "" {
		c.CriticalTag = "critical"
	}
	if c.SharedTag == "" {
		c.SharedTag = "shared"
	}
}

// ImpactEngine scores the direct, indirect and temporal business impact of an
// event and estimates a downtime cost.
type ImpactEngine struct {
	cfg    ImpactConfig
	logger *slog.Logger

	// now is injectable for business-hours tests.
	now func() time.Time
}

// NewImpactEngine constructs an ImpactEngine.
func NewImpactEngine(cfg ImpactConfig, logger *slog.Logger) *ImpactEngine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &ImpactEngine{cfg: cfg, logger: logger, now: time.Now}
}

// Assess scores the event against the window and trend. All scores are
// normalized to [0,1]; the cost estimate is in currency units per incident.
func (e *ImpactEngine) Assess(event models.Event, trend models.TrendSummary) models.ImpactSummary {
	summary := models.ImpactSummary{}

	summary.Direct = e.directScore(event)
	summary.Indirect, summary.DownstreamTags = e.indirectScore(event)
	summary.Temporal = e.temporalScore(event, trend)
	summary.Overall = clamp(0.5*summary.Direct+0.3*summary.Indirect+0.2*summary.Temporal, 0, 1)

	summary.EstimatedDowntime = trend.MeanRecovery
	if summary.EstimatedDowntime <= 0 {
		summary.EstimatedDowntime = e.cfg.DefaultDowntime
	}
	summary.EstimatedCost = e.costEstimate(event, summary.EstimatedDowntime)

	return summary
}

// directScore is the severity share, boosted for production-critical tags.
func (e *ImpactEngine) directScore(event models.Event) float64 {
	score := float64(event.Severity) / float64(models.SeverityDisaster)
	if event.HasTag(e.cfg.CriticalTag) {
		score += 0.2
	}
	return clamp(score, 0, 1)
}

// indirectScore estimates blast radius from dependency tags. Tags other than
// the critical marker are reported as the downstream surface.
func (e *ImpactEngine) indirectScore(event models.Event) (float64, []string) {
	score := 0.1
	if event.HasTag(e.cfg.SharedTag) {
		score = 0.5
	}

	downstream := make([]string, 0, len(event.Tags))
	for key, value := range event.Tags {
		if key == e.cfg.CriticalTag || key == e.cfg.SharedTag {
			continue
		}
		if value == "" {
			downstream = append(downstream, key)
			continue
		}
		downstream = append(downstream, key+"="+value)
	}
	sort.Strings(downstream)

	score += 0.05 * float64(len(downstream))
	return clamp(score, 0, 1), downstream
}

// temporalScore combines recency, business-hours exposure and recovery-trend
// urgency.
func (e *ImpactEngine) temporalScore(event models.Event, trend models.TrendSummary) float64 {
	now := e.now().UTC()

	recency := 1.0
	if age := now.Sub(event.Timestamp); age > time.Hour {
		recency = clamp(1.0-(age-time.Hour).Hours()/24, 0.1, 1)
	}

	business := 0.6
	if isBusinessHours(event.Timestamp) {
		business = 1.0
	}

	urgency := 0.5
	switch trend.SeverityTrend {
	case models.TrendIncreasing:
		urgency = 1.0
	case models.TrendDecreasing:
		urgency = 0.3
	}

	return clamp(recency*business*urgency, 0, 1)
}

func (e *ImpactEngine) costEstimate(event models.Event, downtime time.Duration) float64 {
	severity := int(event.Severity)
	if severity < 0 {
		severity = 0
	}
	if severity >= len(e.cfg.BaseCostPerHour) {
		severity = len(e.cfg.BaseCostPerHour) - 1
	}
	base := e.cfg.BaseCostPerHour[severity]

	multiplier := 1.0
	for spec, factor := range e.cfg.TagMultipliers {
		if tagMatches(event, spec) {
			multiplier *= factor
		}
	}

	return base * multiplier * downtime.Hours()
}

// tagMatches checks a "key=value" or bare "key" multiplier spec against the
// event tags.
func tagMatches(event models.Event, spec string) bool {
	key, want, exact := strings.Cut(spec, "=")
	got, ok := event.Tag(key)
	if !ok {
		return false
	}
	if !exact {
		return true
	}
	return got == want
}

func isBusinessHours(t time.Time) bool {
	t = t.UTC()
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= 9 && t.Hour() < 17
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
