package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alertstack/trigger-rca/internal/models"
)

// SQLiteStore implements Store on an embedded SQLite database. The unique
// index on (event_id, status) plus INSERT OR IGNORE gives idempotent appends;
// analyses are versioned rows keyed by event_id.
type SQLiteStore struct {
	db         *sql.DB
	queryLimit int
}

// SQLiteConfig holds connection settings for the embedded store.
type SQLiteConfig struct {
	Path        string
	BusyTimeout int
	QueryLimit  int
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	event_id     TEXT NOT NULL,
	status       TEXT NOT NULL,
	host         TEXT NOT NULL,
	item         TEXT NOT NULL DEFAULT '',
	trigger_name TEXT NOT NULL DEFAULT '',
	severity     INTEGER NOT NULL DEFAULT 0,
	timestamp    DATETIME NOT NULL,
	value        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	tags         TEXT NOT NULL DEFAULT '{}',
	action       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (event_id, status)
);
CREATE INDEX IF NOT EXISTS idx_events_lookup ON events (host, trigger_name, timestamp);

CREATE TABLE IF NOT EXISTS analyses (
	analysis_id     TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL,
	version         INTEGER NOT NULL,
	is_update       INTEGER NOT NULL DEFAULT 0,
	root_cause      TEXT NOT NULL DEFAULT '[]',
	trend           TEXT NOT NULL DEFAULT '{}',
	impact          TEXT NOT NULL DEFAULT '{}',
	recommendations TEXT NOT NULL DEFAULT '[]',
	confidence      REAL NOT NULL DEFAULT 0,
	inference_used  INTEGER NOT NULL DEFAULT 0,
	similar_events  TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL,
	UNIQUE (event_id, version)
);
CREATE INDEX IF NOT EXISTS idx_analyses_event ON analyses (event_id, version);
`

// NewSQLiteStore opens (and if needed initialises) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = "trigger-rca.db"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 500
	}

	dsn := fmt.Sprintf("%s?_journal_mode=wal&_busy_timeout=%d", cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialising schema: %w", err)
	}
	return &SQLiteStore{db: db, queryLimit: cfg.QueryLimit}, nil
}

// Append inserts the event, ignoring duplicates of (event_id, status).
func (s *SQLiteStore) Append(ctx context.Context, event models.Event) error {
	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	const q = `INSERT OR IGNORE INTO events
		(event_id, status, host, item, trigger_name, severity, timestamp, value, description, tags, action)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`
	_, err = s.db.ExecContext(ctx, q,
		event.EventID, string(event.Status), event.Host, event.Item, event.TriggerName,
		int(event.Severity), event.Timestamp.UTC(), event.Value, event.Description,
		string(tags), event.Action,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting event: %v", ErrUnavailable, err)
	}
	return nil
}

// Query returns events for (host, triggerName) since the given time, oldest
// first. The lookback filter and the row limit are applied by the database.
func (s *SQLiteStore) Query(ctx context.Context, host, triggerName string, since time.Time) ([]models.Event, error) {
	const q = `SELECT event_id, status, host, item, trigger_name, severity, timestamp, value, description, tags, action
		FROM events
		WHERE host = ? AND trigger_name = ? AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, host, triggerName, since.UTC(), s.queryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying events: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// AttachResult stores a new analysis version for the event.
func (s *SQLiteStore) AttachResult(ctx context.Context, result models.AnalysisResult) error {
	rootCause, err := json.Marshal(result.RootCause)
	if err != nil {
		return fmt.Errorf("encoding root cause: %w", err)
	}
	trend, err := json.Marshal(result.Trend)
	if err != nil {
		return fmt.Errorf("encoding trend: %w", err)
	}
	impact, err := json.Marshal(result.Impact)
	if err != nil {
		return fmt.Errorf("encoding impact: %w", err)
	}
	recs, err := json.Marshal(result.Recommendations)
	if err != nil {
		return fmt.Errorf("encoding recommendations: %w", err)
	}
	similar, err := json.Marshal(result.SimilarEvents)
	if err != nil {
		return fmt.Errorf("encoding similar events: %w", err)
	}

	const q = `INSERT INTO analyses
		(analysis_id, event_id, version, is_update, root_cause, trend, impact, recommendations,
		 confidence, inference_used, similar_events, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = s.db.ExecContext(ctx, q,
		result.AnalysisID, result.EventID, result.Version, boolToInt(result.Update),
		string(rootCause), string(trend), string(impact), string(recs),
		result.Confidence, boolToInt(result.InferenceUsed), string(similar),
		result.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: inserting analysis: %v", ErrUnavailable, err)
	}
	return nil
}

// Results returns all analysis versions for an event, oldest first.
func (s *SQLiteStore) Results(ctx context.Context, eventID string) ([]models.AnalysisResult, error) {
	const q = `SELECT analysis_id, event_id, version, is_update, root_cause, trend, impact,
		recommendations, confidence, inference_used, similar_events, created_at
		FROM analyses WHERE event_id = ? ORDER BY version ASC`

	rows, err := s.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying analyses: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var results []models.AnalysisResult
	for rows.Next() {
		result, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// NextVersion returns one past the highest stored version for the event.
func (s *SQLiteStore) NextVersion(ctx context.Context, eventID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM analyses WHERE event_id = ?`, eventID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("%w: reading max version: %v", ErrUnavailable, err)
	}
	return int(max.Int64) + 1, nil
}

// Stats summarises the stored event population.
func (s *SQLiteStore) Stats(ctx context.Context) (models.EventStats, error) {
	stats := models.EventStats{BySeverity: make(map[models.Severity]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, severity, COUNT(*) FROM events GROUP BY status, severity`)
	if err != nil {
		return stats, fmt.Errorf("%w: reading stats: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var severity, count int
		if err := rows.Scan(&status, &severity, &count); err != nil {
			return stats, err
		}
		stats.TotalEvents += count
		switch models.Status(status) {
		case models.StatusProblem:
			stats.ProblemEvents += count
		case models.StatusResolved:
			stats.ResolvedEvents += count
		}
		stats.BySeverity[models.Severity(severity)] += count
	}
	return stats, rows.Err()
}

// Ping verifies the database file is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (models.Event, error) {
	var (
		event     models.Event
		status    string
		severity  int
		timestamp time.Time
		tags      string
	)
	err := row.Scan(&event.EventID, &status, &event.Host, &event.Item, &event.TriggerName,
		&severity, &timestamp, &event.Value, &event.Description, &tags, &event.Action)
	if err != nil {
		return models.Event{}, err
	}
	event.Status = models.Status(status)
	event.Severity = models.Severity(severity)
	event.Timestamp = timestamp.UTC()
	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &event.Tags); err != nil {
			return models.Event{}, fmt.Errorf("decoding tags: %w", err)
		}
	}
	return event, nil
}

func scanAnalysis(row rowScanner) (models.AnalysisResult, error) {
	var (
		result                                  models.AnalysisResult
		isUpdate, inferenceUsed                 int
		rootCause, trend, impact, recs, similar string
		createdAt                               time.Time
	)
	err := row.Scan(&result.AnalysisID, &result.EventID, &result.Version, &isUpdate,
		&rootCause, &trend, &impact, &recs, &result.Confidence, &inferenceUsed,
		&similar, &createdAt)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	result.Update = isUpdate != 0
	result.InferenceUsed = inferenceUsed != 0
	result.CreatedAt = createdAt.UTC()
	if err := json.Unmarshal([]byte(rootCause), &result.RootCause); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding root cause: %w", err)
	}
	if err := json.Unmarshal([]byte(trend), &result.Trend); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding trend: %w", err)
	}
	if err := json.Unmarshal([]byte(impact), &result.Impact); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding impact: %w", err)
	}
	if err := json.Unmarshal([]byte(recs), &result.Recommendations); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding recommendations: %w", err)
	}
	if err := json.Unmarshal([]byte(similar), &result.SimilarEvents); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding similar events: %w", err)
	}
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
