// Package history persists events and their versioned analysis results.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
)

// ErrUnavailable marks a store backend that cannot be reached. Reads degrade
// to an empty window; writes surface the error to the caller.
var ErrUnavailable = errors.New("history store unavailable")

// ErrNotFound is returned when a requested event or analysis does not exist.
var ErrNotFound = errors.New("not found")

// Store is the document-store contract the pipeline depends on. All
// operations are idempotent under retry: appending an event whose
// (event_id, status) is already known is a no-op, and attaching a result
// creates a new version rather than overwriting.
type Store interface {
	// Append persists an event. Duplicate (event_id, status) pairs are
	// silently ignored.
	Append(ctx context.Context, event models.Event) error

	// Query returns events for (host, triggerName) since the given time,
	// oldest first, bounded by the store's configured limit. The time filter
	// is applied server-side.
	Query(ctx context.Context, host, triggerName string, since time.Time) ([]models.Event, error)

	// AttachResult stores a new analysis version for the event.
	AttachResult(ctx context.Context, result models.AnalysisResult) error

	// Results returns all analysis versions for an event, oldest first.
	Results(ctx context.Context, eventID string) ([]models.AnalysisResult, error)

	// NextVersion returns the version number the next analysis for the event
	// should carry (1 for the first).
	NextVersion(ctx context.Context, eventID string) (int, error)

	// Stats summarises the stored event population.
	Stats(ctx context.Context) (models.EventStats, error)

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error

	Close() error
}

// SimilaritySearcher is the optional retrieval capability some stores offer:
// past analyses ranked by similarity to the query text. Retrieval is
// best-effort; callers proceed without it on failure.
type SimilaritySearcher interface {
	SimilarAnalyses(ctx context.Context, queryText string, limit int) ([]models.AnalysisResult, error)
}
