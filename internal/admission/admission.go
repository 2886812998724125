// Package admission suppresses duplicate webhook deliveries and paces
// analysis for flapping triggers.
package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alertstack/trigger-rca/internal/cache"
	"github.com/alertstack/trigger-rca/internal/models"
)

// ErrBackend marks an unreachable cache backend. The controller never returns
// it from Admit; it is surfaced on the Result for observability while the
// decision fails open to PROCESS.
var ErrBackend = errors.New("admission cache backend unavailable")

// Config tunes the suppression window. Zero values fall back to defaults so a
// partially filled config stays usable.
type Config struct {
	// Window is how long an admitted (host, trigger, status) key suppresses
	// identical deliveries.
	Window time.Duration
	// MaxOccurrences is how many deliveries per key may be admitted within
	// the window before unchanged duplicates are suppressed.
	MaxOccurrences int
	// ResultTTL is how long an admission record with an attached analysis is
	// retained, so later duplicates can reference the result.
	ResultTTL time.Duration
	// SeverityDelta is the severity change that upgrades a duplicate to
	// COALESCE instead of SUPPRESS.
	SeverityDelta int
	// ValueDeltaFrac is the relative numeric value change for COALESCE.
	ValueDeltaFrac float64
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = 1
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = c.Window
	}
	if c.SeverityDelta <= 0 {
		c.SeverityDelta = 1
	}
	if c.ValueDeltaFrac <= 0 {
		c.ValueDeltaFrac = 0.2
	}
}

// Result carries the admission decision plus context for the caller.
type Result struct {
	Decision models.Decision
	// PriorEventID and PriorAnalysisID reference the admitted occurrence that
	// caused a SUPPRESS, when known.
	PriorEventID    string
	PriorAnalysisID string
	// BackendErr is set when the decision failed open because the cache was
	// unreachable.
	BackendErr error
}

// record is the value stored under the admission key.
type record struct {
	EventID    string `json:"event_id"`
	Severity   int    `json:"severity"`
	Value      string `json:"value"`
	Count      int    `json:"count"`
	AnalysisID string `json:"analysis_id,omitempty"`
}

// Controller implements the admit-and-record step on top of a cache backend
// providing atomic SetNX-with-TTL.
type Controller struct {
	provider cache.Provider
	cfg      Config
	logger   *slog.Logger
}

// NewController constructs an admission controller.
func NewController(provider cache.Provider, cfg Config, logger *slog.Logger) *Controller {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{provider: provider, cfg: cfg, logger: logger}
}

// Admit decides whether the event proceeds to analysis. The SetNX call both
// checks and records the key, so two concurrent deliveries for the same
// (host, trigger, status) cannot both receive PROCESS. When the backend is
// unreachable the decision fails open to PROCESS; dropping events silently is
// worse than occasionally analyzing a duplicate.
func (c *Controller) Admit(ctx context.Context, event models.Event) Result {
	key := Key(event)
	payload, err := json.Marshal(record{
		EventID:  event.EventID,
		Severity: int(event.Severity),
		Value:    event.Value,
		Count:    1,
	})
	if err != nil {
		return Result{Decision: models.DecisionProcess, BackendErr: err}
	}

	stored, err := c.provider.SetNX(ctx, key, payload, c.cfg.Window)
	if err != nil {
		c.logger.Warn("admission cache unreachable, failing open",
			slog.String("event_id", event.EventID), slog.Any("error", err))
		return Result{Decision: models.DecisionProcess, BackendErr: fmt.Errorf("%w: %v", ErrBackend, err)}
	}
	if stored {
		return Result{Decision: models.DecisionProcess}
	}

	// Key already present: either a straight duplicate or a materially
	// changed occurrence within the window.
	prev, err := c.load(ctx, key)
	if err != nil {
		c.logger.Warn("admission record unreadable, failing open",
			slog.String("event_id", event.EventID), slog.Any("error", err))
		return Result{Decision: models.DecisionProcess, BackendErr: fmt.Errorf("%w: %v", ErrBackend, err)}
	}

	if c.materiallyChanged(prev, event) {
		// Refresh the record so the next delivery is compared against this
		// occurrence, then analyze as an update.
		c.refresh(ctx, key, record{
			EventID:  event.EventID,
			Severity: int(event.Severity),
			Value:    event.Value,
			Count:    prev.Count + 1,
		})
		return Result{Decision: models.DecisionCoalesce, PriorEventID: prev.EventID, PriorAnalysisID: prev.AnalysisID}
	}

	if prev.Count < c.cfg.MaxOccurrences {
		// The window still has admission budget; pass the duplicate through
		// and charge an occurrence against the key.
		c.refresh(ctx, key, record{
			EventID:  event.EventID,
			Severity: int(event.Severity),
			Value:    event.Value,
			Count:    prev.Count + 1,
		})
		return Result{Decision: models.DecisionProcess}
	}

	return Result{Decision: models.DecisionSuppress, PriorEventID: prev.EventID, PriorAnalysisID: prev.AnalysisID}
}

func (c *Controller) refresh(ctx context.Context, key string, rec record) {
	payload, _ := json.Marshal(rec)
	if err := c.provider.Set(ctx, key, payload, c.cfg.Window); err != nil {
		c.logger.Warn("admission record refresh failed", slog.Any("error", err))
	}
}

// RecordAnalysis attaches the analysis ID to the admission record so later
// SUPPRESS decisions can reference the result. The refreshed record lives for
// ResultTTL, so the reference outlasts the dedup window once an analysis
// exists. Best effort.
func (c *Controller) RecordAnalysis(ctx context.Context, event models.Event, analysisID string) {
	key := Key(event)
	prev, err := c.load(ctx, key)
	if err != nil {
		return
	}
	prev.AnalysisID = analysisID
	payload, err := json.Marshal(prev)
	if err != nil {
		return
	}
	if err := c.provider.Set(ctx, key, payload, c.cfg.ResultTTL); err != nil {
		c.logger.Debug("admission analysis reference not recorded", slog.Any("error", err))
	}
}

// Ping reports backend reachability for health checks.
func (c *Controller) Ping(ctx context.Context) error {
	return c.provider.Ping(ctx)
}

func (c *Controller) load(ctx context.Context, key string) (record, error) {
	data, err := c.provider.Get(ctx, key)
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, err
	}
	return rec, nil
}

func (c *Controller) materiallyChanged(prev record, event models.Event) bool {
	if abs(int(event.Severity)-prev.Severity) >= c.cfg.SeverityDelta {
		return true
	}
	prevVal, err1 := strconv.ParseFloat(prev.Value, 64)
	currVal, err2 := strconv.ParseFloat(event.Value, 64)
	if err1 != nil || err2 != nil {
		// Non-numeric values: any textual change counts.
		return prev.Value != event.Value && event.Value != ""
	}
	if prevVal == 0 {
		return currVal != 0
	}
	rel := (currVal - prevVal) / prevVal
	if rel < 0 {
		rel = -rel
	}
	return rel >= c.cfg.ValueDeltaFrac
}

// Key derives the admission cache key for an event.
func Key(event models.Event) string {
	h := sha256.New()
	h.Write([]byte(event.Host))
	h.Write([]byte{0})
	h.Write([]byte(event.TriggerName))
	h.Write([]byte{0})
	h.Write([]byte(event.Status))
	return "admit:" + hex.EncodeToString(h.Sum(nil))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
