package models

import "time"

// Status enumerates trigger lifecycle states.
type Status string

const (
	StatusProblem  Status = "PROBLEM"
	StatusResolved Status = "RESOLVED"
)

// Severity is the ordinal trigger severity scale (0 = not classified, 5 = disaster).
type Severity int

const (
	SeverityNotClassified Severity = 0
	SeverityInformation   Severity = 1
	SeverityWarning       Severity = 2
	SeverityAverage       Severity = 3
	SeverityHigh          Severity = 4
	SeverityDisaster      Severity = 5
)

// Event is one normalized trigger occurrence. Events are immutable once
// persisted; analysis output is attached as separate versioned records.
type Event struct {
	EventID     string
	Host        string
	Item        string
	TriggerName string
	Severity    Severity
	Status      Status
	Timestamp   time.Time
	Value       string
	Description string
	Tags        map[string]string
	Action      string

	// Warnings records lossy normalization steps (clamped severity,
	// defaulted timestamp). They never block ingestion.
	Warnings []string
}

// Tag reports the value for key and whether it is set.
func (e Event) Tag(key string) (string, bool) {
	if e.Tags == nil {
		return "", false
	}
	v, ok := e.Tags[key]
	return v, ok
}

// HasTag reports whether key is present with a non-empty value.
func (e Event) HasTag(key string) bool {
	v, ok := e.Tag(key)
	return ok && v != ""
}

// HistoryWindow is the bounded, time-ordered (oldest first) sequence of past
// events for one (host, trigger_name) pair. It is derived per request and
// never persisted.
type HistoryWindow struct {
	Host        string
	TriggerName string
	Since       time.Time
	Events      []Event
}

// Len returns the number of events in the window.
func (w HistoryWindow) Len() int { return len(w.Events) }

// Problems returns the PROBLEM events in window order.
func (w HistoryWindow) Problems() []Event {
	out := make([]Event, 0, len(w.Events))
	for _, ev := range w.Events {
		if ev.Status == StatusProblem {
			out = append(out, ev)
		}
	}
	return out
}

// EventStats summarises the stored event population.
type EventStats struct {
	TotalEvents    int
	ProblemEvents  int
	ResolvedEvents int
	BySeverity     map[Severity]int
}
