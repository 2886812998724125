package services

import (
	"context"
	"fmt"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/utils"
)

// visualizationBucket is the timeline resolution.
const visualizationBucket = time.Hour

// maxTimelineBuckets bounds the timeline length for very long lookbacks.
const maxTimelineBuckets = 31 * 24

// Visualize builds the chart-ready view of one (host, trigger) history over
// the configured lookback.
func (a *Analyzer) Visualize(ctx context.Context, host, triggerName string) (models.VisualizationReport, error) {
	now := a.now().UTC()
	since := now.Add(-a.lookback)

	events, err := a.store.Query(ctx, host, triggerName, since)
	if err != nil {
		return models.VisualizationReport{}, utils.NewAppError("analyzer.visualize",
			fmt.Sprintf("reading history for %s/%s", host, triggerName), err)
	}
	return buildVisualization(host, triggerName, since, now, events), nil
}

func buildVisualization(host, triggerName string, since, now time.Time, events []models.Event) models.VisualizationReport {
	report := models.VisualizationReport{
		Host:                 host,
		TriggerName:          triggerName,
		Since:                since,
		BucketSize:           visualizationBucket,
		SeverityDistribution: make(map[models.Severity]int),
	}

	start := since.Truncate(visualizationBucket)
	n := int(now.Sub(start)/visualizationBucket) + 1
	if n < 1 {
		n = 1
	}
	if n > maxTimelineBuckets {
		n = maxTimelineBuckets
		start = now.Add(-time.Duration(n) * visualizationBucket).Truncate(visualizationBucket)
	}

	buckets := make([]models.TimelineBucket, n)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * visualizationBucket)
	}

	for _, ev := range events {
		idx := int(ev.Timestamp.Sub(start) / visualizationBucket)
		if idx < 0 || idx >= n {
			continue
		}
		bucket := &buckets[idx]
		if ev.Status == models.StatusProblem {
			bucket.Problems++
			report.TotalProblems++
			report.SeverityDistribution[ev.Severity]++
			if ev.Severity > bucket.PeakSeverity {
				bucket.PeakSeverity = ev.Severity
			}
		} else {
			bucket.Resolved++
			report.TotalResolved++
		}
	}

	if report.TotalProblems > 0 {
		report.RecoveryRatio = float64(report.TotalResolved) / float64(report.TotalProblems)
	}
	report.Timeline = buckets
	return report
}
