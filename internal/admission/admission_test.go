package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alertstack/trigger-rca/internal/cache"
	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/utils"
)

func problemEvent(id, value string, severity models.Severity) models.Event {
	return models.Event{
		EventID:     id,
		Host:        "web1",
		TriggerName: "CPU high",
		Severity:    severity,
		Status:      models.StatusProblem,
		Value:       value,
		Timestamp:   time.Now().UTC(),
	}
}

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	provider, err := cache.NewMemoryProvider(64)
	if err != nil {
		t.Fatalf("NewMemoryProvider: %v", err)
	}
	return NewController(provider, cfg, utils.NewDiscardLogger())
}

func TestAdmitProcessThenSuppress(t *testing.T) {
	ctrl := newController(t, Config{Window: time.Minute})
	ctx := context.Background()

	first := ctrl.Admit(ctx, problemEvent("ev-1", "91", models.SeverityAverage))
	if first.Decision != models.DecisionProcess {
		t.Fatalf("first decision = %s, want PROCESS", first.Decision)
	}

	second := ctrl.Admit(ctx, problemEvent("ev-2", "91", models.SeverityAverage))
	if second.Decision != models.DecisionSuppress {
		t.Fatalf("second decision = %s, want SUPPRESS", second.Decision)
	}
	if second.PriorEventID != "ev-1" {
		t.Fatalf("prior event = %q, want ev-1", second.PriorEventID)
	}
}

func TestAdmitSuppressReferencesAnalysis(t *testing.T) {
	ctrl := newController(t, Config{Window: time.Minute})
	ctx := context.Background()

	event := problemEvent("ev-1", "91", models.SeverityAverage)
	ctrl.Admit(ctx, event)
	ctrl.RecordAnalysis(ctx, event, "an-42")

	res := ctrl.Admit(ctx, problemEvent("ev-2", "91", models.SeverityAverage))
	if res.Decision != models.DecisionSuppress {
		t.Fatalf("decision = %s, want SUPPRESS", res.Decision)
	}
	if res.PriorAnalysisID != "an-42" {
		t.Fatalf("prior analysis = %q, want an-42", res.PriorAnalysisID)
	}
}

func TestAdmitCoalesceOnSeverityChange(t *testing.T) {
	ctrl := newController(t, Config{Window: time.Minute, SeverityDelta: 1})
	ctx := context.Background()

	ctrl.Admit(ctx, problemEvent("ev-1", "91", models.SeverityAverage))
	res := ctrl.Admit(ctx, problemEvent("ev-2", "91", models.SeverityDisaster))
	if res.Decision != models.DecisionCoalesce {
		t.Fatalf("decision = %s, want COALESCE", res.Decision)
	}
}

func TestAdmitCoalesceOnValueChange(t *testing.T) {
	ctrl := newController(t, Config{Window: time.Minute, ValueDeltaFrac: 0.2})
	ctx := context.Background()

	ctrl.Admit(ctx, problemEvent("ev-1", "100", models.SeverityAverage))

	res := ctrl.Admit(ctx, problemEvent("ev-2", "105", models.SeverityAverage))
	if res.Decision != models.DecisionSuppress {
		t.Fatalf("small value change = %s, want SUPPRESS", res.Decision)
	}

	res = ctrl.Admit(ctx, problemEvent("ev-3", "150", models.SeverityAverage))
	if res.Decision != models.DecisionCoalesce {
		t.Fatalf("large value change = %s, want COALESCE", res.Decision)
	}
}

func TestAdmitDistinctStatusesDoNotCollide(t *testing.T) {
	ctrl := newController(t, Config{Window: time.Minute})
	ctx := context.Background()

	problem := problemEvent("ev-1", "91", models.SeverityAverage)
	resolved := problem
	resolved.EventID = "ev-2"
	resolved.Status = models.StatusResolved

	if res := ctrl.Admit(ctx, problem); res.Decision != models.DecisionProcess {
		t.Fatalf("problem decision = %s, want PROCESS", res.Decision)
	}
	if res := ctrl.Admit(ctx, resolved); res.Decision != models.DecisionProcess {
		t.Fatalf("resolved decision = %s, want PROCESS", res.Decision)
	}
}

func TestAdmitConcurrentDuplicatesSingleProcess(t *testing.T) {
	ctrl := newController(t, Config{Window: time.Minute})
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	decisions := make([]models.Decision, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := ctrl.Admit(ctx, problemEvent("ev-1", "91", models.SeverityAverage))
			decisions[i] = res.Decision
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, d := range decisions {
		if d == models.DecisionProcess {
			processed++
		}
	}
	if processed != 1 {
		t.Fatalf("got %d PROCESS decisions, want exactly 1", processed)
	}
}

type failingProvider struct{}

var errDown = errors.New("connection refused")

func (failingProvider) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (failingProvider) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (failingProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errDown
}
func (failingProvider) Del(context.Context, string) error { return errDown }
func (failingProvider) Ping(context.Context) error { return errDown }
func (failingProvider) Close() error { return nil }

func TestAdmitFailsOpenWhenBackendDown(t *testing.T) {
	ctrl := NewController(failingProvider{}, Config{Window: time.Minute}, utils.NewDiscardLogger())

	res := ctrl.Admit(context.Background(), problemEvent("ev-1", "91", models.SeverityAverage))
	if res.Decision != models.DecisionProcess {
		t.Fatalf("decision = %s, want PROCESS (fail open)", res.Decision)
	}
	if !errors.Is(res.BackendErr, ErrBackend) {
		t.Fatalf("BackendErr = %v, want ErrBackend", res.BackendErr)
	}
}

func TestAdmitOccurrenceBudget(t *testing.T) {
	ctrl := newController(t, Config{Window: time.Minute, MaxOccurrences: 2})
	ctx := context.Background()

	if res := ctrl.Admit(ctx, problemEvent("ev-1", "91", models.SeverityAverage)); res.Decision != models.DecisionProcess {
		t.Fatalf("first decision = %s, want PROCESS", res.Decision)
	}
	if res := ctrl.Admit(ctx, problemEvent("ev-2", "91", models.SeverityAverage)); res.Decision != models.DecisionProcess {
		t.Fatalf("second decision = %s, want PROCESS (budget 2)", res.Decision)
	}
	res := ctrl.Admit(ctx, problemEvent("ev-3", "91", models.SeverityAverage))
	if res.Decision != models.DecisionSuppress {
		t.Fatalf("third decision = %s, want SUPPRESS", res.Decision)
	}
	if res.PriorEventID != "ev-2" {
		t.Fatalf("prior event = %q, want ev-2", res.PriorEventID)
	}
}

// ttlRecordingProvider wraps a real provider and remembers the TTL of the
// last Set call.
type ttlRecordingProvider struct {
	cache.Provider
	lastSetTTL time.Duration
}

func (p *ttlRecordingProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	p.lastSetTTL = ttl
	return p.Provider.Set(ctx, key, value, ttl)
}

func TestRecordAnalysisUsesResultTTL(t *testing.T) {
	mem, err := cache.NewMemoryProvider(64)
	if err != nil {
		t.Fatalf("NewMemoryProvider: %v", err)
	}
	provider := &ttlRecordingProvider{Provider: mem}
	ctrl := NewController(provider, Config{Window: time.Minute, ResultTTL: time.Hour}, utils.NewDiscardLogger())
	ctx := context.Background()

	event := problemEvent("ev-1", "91", models.SeverityAverage)
	ctrl.Admit(ctx, event)
	ctrl.RecordAnalysis(ctx, event, "an-1")

	if provider.lastSetTTL != time.Hour {
		t.Fatalf("analysis record TTL = %v, want 1h", provider.lastSetTTL)
	}

	res := ctrl.Admit(ctx, problemEvent("ev-2", "91", models.SeverityAverage))
	if res.PriorAnalysisID != "an-1" {
		t.Fatalf("prior analysis = %q, want an-1", res.PriorAnalysisID)
	}
}
