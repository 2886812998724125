package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
)

var received = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeRejectsMissingEventID(t *testing.T) {
	_, err := Normalize(RawEvent{Host: "web1"}, received)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestNormalizeClampsSeverity(t *testing.T) {
	cases := []struct {
		raw  string
		want models.Severity
	}{
		{"3", models.SeverityAverage},
		{"9", models.SeverityDisaster},
		{"-2", models.SeverityNotClassified},
		{"disaster", models.SeverityDisaster},
		{"bogus", models.SeverityWarning},
		{"", models.SeverityNotClassified},
	}

	for _, tc := range cases {
		event, err := Normalize(RawEvent{
			EventID:     "ev-1",
			Host:        "web1",
			TriggerName: "CPU high",
			Severity:    tc.raw,
			Status:      "PROBLEM",
			Timestamp:   "2025-06-01T11:00:00Z",
		}, received)
		if err != nil {
			t.Fatalf("severity %q: unexpected error %v", tc.raw, err)
		}
		if event.Severity != tc.want {
			t.Errorf("severity %q = %d, want %d", tc.raw, event.Severity, tc.want)
		}
	}
}

func TestNormalizeWarnsOnClampedSeverity(t *testing.T) {
	event, err := Normalize(RawEvent{
		EventID:   "ev-1",
		Host:      "web1",
		Severity:  "nonsense",
		Status:    "PROBLEM",
		Timestamp: "2025-06-01T11:00:00Z",
	}, received)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(event.Warnings) == 0 {
		t.Fatal("expected a warning for unparseable severity")
	}
}

func TestNormalizeTimestampFallback(t *testing.T) {
	event, err := Normalize(RawEvent{
		EventID:  "ev-1",
		Host:     "web1",
		Severity: "2",
		Status:   "PROBLEM",
	}, received)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !event.Timestamp.Equal(received) {
		t.Fatalf("timestamp = %v, want ingestion time %v", event.Timestamp, received)
	}
	if len(event.Warnings) == 0 {
		t.Fatal("expected a warning for defaulted timestamp")
	}
}

func TestNormalizeAcceptsEpochTimestamp(t *testing.T) {
	event, err := Normalize(RawEvent{
		EventID:   "ev-1",
		Host:      "web1",
		Severity:  "2",
		Status:    "PROBLEM",
		Timestamp: "1748775600",
	}, received)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if event.Timestamp.IsZero() || event.Timestamp.Location() != time.UTC {
		t.Fatalf("epoch timestamp not normalized to UTC: %v", event.Timestamp)
	}
}

func TestNormalizeStatusAlias(t *testing.T) {
	event, err := Normalize(RawEvent{
		EventID:   "ev-1",
		Host:      "web1",
		Status:    "OK",
		Severity:  "0",
		Timestamp: "2025-06-01T11:00:00Z",
	}, received)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if event.Status != models.StatusResolved {
		t.Fatalf("status OK = %q, want RESOLVED", event.Status)
	}
}

func TestNormalizeTags(t *testing.T) {
	event, err := Normalize(RawEvent{
		EventID:   "ev-1",
		Host:      "web1",
		Severity:  "2",
		Status:    "PROBLEM",
		Timestamp: "2025-06-01T11:00:00Z",
		Tags: []RawTag{
			{Key: "service", Value: "payment"},
			{Key: " ", Value: "dropped"},
			{Key: "critical", Value: ""},
		},
	}, received)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if v, ok := event.Tag("service"); !ok || v != "payment" {
		t.Fatalf("service tag = %q, %v", v, ok)
	}
	if _, ok := event.Tag(" "); ok {
		t.Fatal("blank tag key should be dropped")
	}
	if event.HasTag("critical") {
		t.Fatal("empty-valued tag should not satisfy HasTag")
	}
}
