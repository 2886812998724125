// Package ingest turns raw webhook payloads into normalized events.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alertstack/trigger-rca/internal/models"
	"github.com/alertstack/trigger-rca/internal/utils"
)

// ErrValidation marks events that cannot be normalized even with best-effort
// defaults. Callers should reject the ingestion.
var ErrValidation = errors.New("event validation failed")

// RawEvent mirrors the webhook payload fields before normalization. Severity,
// timestamp and tags are kept loose because monitoring sources disagree on
// their encoding.
type RawEvent struct {
	EventID     string   `json:"event_id"`
	Host        string   `json:"host"`
	Item        string   `json:"item"`
	TriggerName string   `json:"trigger"`
	Severity    string   `json:"severity"`
	Status      string   `json:"status"`
	Timestamp   string   `json:"timestamp"`
	Value       string   `json:"value"`
	Description string   `json:"description"`
	Tags        []RawTag `json:"tags"`
	Action      string   `json:"action"`
}

// RawTag is the key/value tag shape Zabbix sends.
type RawTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Normalize validates and canonicalizes a raw event. It is pure: lossy steps
// (severity clamping, timestamp defaulting) append to Event.Warnings instead
// of failing, and only a missing event_id or host rejects the event outright.
func Normalize(raw RawEvent, receivedAt time.Time) (models.Event, error) {
	if strings.TrimSpace(raw.EventID) == "" {
		return models.Event{}, fmt.Errorf("%w: event_id is required", ErrValidation)
	}
	if strings.TrimSpace(raw.Host) == "" {
		return models.Event{}, fmt.Errorf("%w: host is required", ErrValidation)
	}

	event := models.Event{
		EventID:     strings.TrimSpace(raw.EventID),
		Host:        strings.TrimSpace(raw.Host),
		Item:        strings.TrimSpace(raw.Item),
		TriggerName: strings.TrimSpace(raw.TriggerName),
		Value:       raw.Value,
		Description: raw.Description,
		Action:      strings.TrimSpace(raw.Action),
	}
	if event.TriggerName == "" {
		event.TriggerName = event.Item
	}

	status, warn := normalizeStatus(raw.Status)
	event.Status = status
	if warn != "" {
		event.Warnings = append(event.Warnings, warn)
	}

	severity, warn := normalizeSeverity(raw.Severity)
	event.Severity = severity
	if warn != "" {
		event.Warnings = append(event.Warnings, warn)
	}

	ts, err := utils.ParseEventTime(raw.Timestamp)
	if err != nil {
		// A missing or malformed timestamp degrades trend accuracy but must
		// not reject the event.
		ts = receivedAt.UTC()
		event.Warnings = append(event.Warnings, "timestamp defaulted to ingestion time")
	}
	event.Timestamp = ts

	if len(raw.Tags) > 0 {
		event.Tags = make(map[string]string, len(raw.Tags))
		for _, tag := range raw.Tags {
			key := strings.TrimSpace(tag.Key)
			if key == "" {
				continue
			}
			event.Tags[key] = strings.TrimSpace(tag.Value)
		}
	}

	return event, nil
}

func normalizeStatus(value string) (models.Status, string) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "PROBLEM":
		return models.StatusProblem, ""
	case "RESOLVED", "OK":
		return models.StatusResolved, ""
	case "":
		return models.StatusProblem, "status missing, assumed PROBLEM"
	default:
		return models.StatusProblem, fmt.Sprintf("unknown status %q, assumed PROBLEM", value)
	}
}

// normalizeSeverity maps onto the 0-5 ordinal scale. Unknown values clamp to
// the nearest defined level rather than failing; sources occasionally emit
// non-standard severities.
func normalizeSeverity(value string) (models.Severity, string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return models.SeverityNotClassified, "severity missing, clamped to 0"
	}

	if n, err := strconv.Atoi(trimmed); err == nil {
		switch {
		case n < int(models.SeverityNotClassified):
			return models.SeverityNotClassified, fmt.Sprintf("severity %d clamped to 0", n)
		case n > int(models.SeverityDisaster):
			return models.SeverityDisaster, fmt.Sprintf("severity %d clamped to 5", n)
		default:
			return models.Severity(n), ""
		}
	}

	switch strings.ToLower(trimmed) {
	case "not classified", "not_classified":
		return models.SeverityNotClassified, ""
	case "information", "info":
		return models.SeverityInformation, ""
	case "warning":
		return models.SeverityWarning, ""
	case "average":
		return models.SeverityAverage, ""
	case "high":
		return models.SeverityHigh, ""
	case "disaster", "critical":
		return models.SeverityDisaster, ""
	default:
		return models.SeverityWarning, fmt.Sprintf("unparseable severity %q, clamped to warning", value)
	}
}
