package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that completed and persisted.
	OutcomeSuccess = "success"
	// OutcomeError labels analyses that failed (validation or persistence).
	OutcomeError = "error"

	// ModeInferred labels analyses backed by the inference backend.
	ModeInferred = "inferred"
	// ModeDegraded labels analyses produced by the deterministic fallback.
	ModeDegraded = "degraded"
)

var (
	admissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trigger_rca",
			Name:      "admission_decisions_total",
			Help:      "Admission decisions, partitioned by decision.",
		},
		[]string{"decision"},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trigger_rca",
			Name:      "analyses_total",
			Help:      "Analyses handled, partitioned by outcome and mode.",
		},
		[]string{"outcome", "mode"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trigger_rca",
			Name:      "analysis_seconds",
			Help:      "Analysis latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// Register attaches the trigger-rca collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		admissionDecisionsTotal,
		analysesTotal,
		analysisDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAdmission records one admission decision.
func ObserveAdmission(decision string) {
	admissionDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveAnalysis records an analysis duration with its outcome and mode
// labels.
func ObserveAnalysis(duration time.Duration, outcome, mode string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	if mode != ModeInferred {
		mode = ModeDegraded
	}
	analysesTotal.WithLabelValues(outcome, mode).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}
