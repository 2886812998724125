package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each individual dependency probe.
const probeTimeout = 2 * time.Second

// Pinger is any dependency exposing a reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport aggregates per-component probe results.
type HealthReport struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// HealthChecker probes the service dependencies concurrently.
type HealthChecker struct {
	components map[string]Pinger
	logger     *slog.Logger
}

// NewHealthChecker constructs a checker; nil pingers are skipped.
func NewHealthChecker(components map[string]Pinger, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make(map[string]Pinger, len(components))
	for name, p := range components {
		if p != nil {
			filtered[name] = p
		}
	}
	return &HealthChecker{components: filtered, logger: logger}
}

// Check probes every component with an individual timeout. A failing probe
// marks the report unhealthy but never aborts the other probes.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy:    true,
		Components: make(map[string]string, len(h.components)),
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for name, pinger := range h.components {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			status := "ok"
			if err := pinger.Ping(probeCtx); err != nil {
				status = err.Error()
				h.logger.Warn("health probe failed",
					slog.String("component", name),
					slog.Any("error", err))
			}

			mu.Lock()
			report.Components[name] = status
			if status != "ok" {
				report.Healthy = false
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return report
}
