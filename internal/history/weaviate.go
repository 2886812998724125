package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alertstack/trigger-rca/internal/models"
)

// Weaviate class names. TriggerEvent holds normalized events, EventAnalysis
// the versioned analysis records attached to them.
const (
	classTriggerEvent  = "TriggerEvent"
	classEventAnalysis = "EventAnalysis"
)

// WeaviateStore implements Store (and SimilaritySearcher) against a Weaviate
// instance over its REST and GraphQL APIs. Object IDs are derived
// deterministically from the record identity, so retried appends collide with
// the stored object and become no-ops.
type WeaviateStore struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	queryLimit int
}

// WeaviateConfig holds connection settings for the vector store backend.
type WeaviateConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	QueryLimit int
}

// NewWeaviateStore constructs a Weaviate-backed store.
func NewWeaviateStore(cfg WeaviateConfig) *WeaviateStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 500
	}
	return &WeaviateStore{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		queryLimit: cfg.QueryLimit,
	}
}

// eventObjectID derives a stable object ID from the event identity, making
// Append idempotent: a duplicate POST is rejected by Weaviate as an ID clash.
func eventObjectID(eventID string, status models.Status) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventID+":"+string(status))).String()
}

func analysisObjectID(analysisID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("analysis:"+analysisID)).String()
}

// Append stores the event as a TriggerEvent object. Duplicates of
// (event_id, status) are ignored.
func (s *WeaviateStore) Append(ctx context.Context, event models.Event) error {
	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	payload := map[string]interface{}{
		"class": classTriggerEvent,
		"id":    eventObjectID(event.EventID, event.Status),
		"properties": map[string]interface{}{
			"eventId":     event.EventID,
			"host":        event.Host,
			"item":        event.Item,
			"triggerName": event.TriggerName,
			"severity":    int(event.Severity),
			"status":      string(event.Status),
			"timestamp":   event.Timestamp.UTC().Format(time.RFC3339),
			"value":       event.Value,
			"description": event.Description,
			"tags":        string(tags),
			"action":      event.Action,
		},
	}
	return s.postObject(ctx, payload)
}

// Query returns events for (host, triggerName) since the given time, oldest
// first.
func (s *WeaviateStore) Query(ctx context.Context, host, triggerName string, since time.Time) ([]models.Event, error) {
	gql := fmt.Sprintf(`{
	  Get {
	    TriggerEvent(
	      limit: %d
	      where: {
	        operator: And
	        operands: [
	          {path: ["host"], operator: Equal, valueString: %q}
	          {path: ["triggerName"], operator: Equal, valueString: %q}
	          {path: ["timestamp"], operator: GreaterThanEqual, valueDate: %q}
	        ]
	      }
	      sort: [{path: "timestamp", order: asc}]
	    ) {
	      eventId host item triggerName severity status timestamp value description tags action
	    }
	  }
	}`, s.queryLimit, host, triggerName, since.UTC().Format(time.RFC3339))

	var response struct {
		Data struct {
			Get struct {
				TriggerEvent []weaviateEvent `json:"TriggerEvent"`
			} `json:"Get"`
		} `json:"data"`
	}
	if err := s.graphql(ctx, gql, &response); err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(response.Data.Get.TriggerEvent))
	for _, rec := range response.Data.Get.TriggerEvent {
		event, err := rec.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// AttachResult stores a new EventAnalysis object for the event.
func (s *WeaviateStore) AttachResult(ctx context.Context, result models.AnalysisResult) error {
	props, err := analysisProperties(result)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"class":      classEventAnalysis,
		"id":         analysisObjectID(result.AnalysisID),
		"properties": props,
	}
	return s.postObject(ctx, payload)
}

// Results returns all analysis versions for an event, oldest first.
func (s *WeaviateStore) Results(ctx context.Context, eventID string) ([]models.AnalysisResult, error) {
	gql := fmt.Sprintf(`{
	  Get {
	    EventAnalysis(
	      where: {path: ["eventId"], operator: Equal, valueString: %q}
	      sort: [{path: "version", order: asc}]
	    ) {
	      %s
	    }
	  }
	}`, eventID, analysisFields)

	return s.queryAnalyses(ctx, gql)
}

// NextVersion returns one past the highest stored version for the event.
func (s *WeaviateStore) NextVersion(ctx context.Context, eventID string) (int, error) {
	gql := fmt.Sprintf(`{
	  Get {
	    EventAnalysis(
	      where: {path: ["eventId"], operator: Equal, valueString: %q}
	      sort: [{path: "version", order: desc}]
	      limit: 1
	    ) {
	      version
	    }
	  }
	}`, eventID)

	var response struct {
		Data struct {
			Get struct {
				EventAnalysis []struct {
					Version int `json:"version"`
				} `json:"EventAnalysis"`
			} `json:"Get"`
		} `json:"data"`
	}
	if err := s.graphql(ctx, gql, &response); err != nil {
		return 0, err
	}
	if len(response.Data.Get.EventAnalysis) == 0 {
		return 1, nil
	}
	return response.Data.Get.EventAnalysis[0].Version + 1, nil
}

// SimilarAnalyses returns past analyses ranked by BM25 relevance to the
// query text.
func (s *WeaviateStore) SimilarAnalyses(ctx context.Context, queryText string, limit int) ([]models.AnalysisResult, error) {
	if limit <= 0 {
		limit = 5
	}
	gql := fmt.Sprintf(`{
	  Get {
	    EventAnalysis(
	      bm25: {query: %q}
	      limit: %d
	    ) {
	      %s
	    }
	  }
	}`, queryText, limit, analysisFields)

	return s.queryAnalyses(ctx, gql)
}

// Stats summarises the stored event population via the Aggregate API.
func (s *WeaviateStore) Stats(ctx context.Context) (models.EventStats, error) {
	stats := models.EventStats{BySeverity: make(map[models.Severity]int)}

	gql := `{
	  Aggregate {
	    TriggerEvent(groupBy: ["status"]) {
	      meta { count }
	      groupedBy { value }
	    }
	  }
	}`

	var byStatus struct {
		Data struct {
			Aggregate struct {
				TriggerEvent []struct {
					Meta struct {
						Count int `json:"count"`
					} `json:"meta"`
					GroupedBy struct {
						Value string `json:"value"`
					} `json:"groupedBy"`
				} `json:"TriggerEvent"`
			} `json:"Aggregate"`
		} `json:"data"`
	}
	if err := s.graphql(ctx, gql, &byStatus); err != nil {
		return stats, err
	}
	for _, group := range byStatus.Data.Aggregate.TriggerEvent {
		stats.TotalEvents += group.Meta.Count
		switch models.Status(group.GroupedBy.Value) {
		case models.StatusProblem:
			stats.ProblemEvents += group.Meta.Count
		case models.StatusResolved:
			stats.ResolvedEvents += group.Meta.Count
		}
	}

	gql = `{
	  Aggregate {
	    TriggerEvent(groupBy: ["severity"]) {
	      meta { count }
	      groupedBy { value }
	    }
	  }
	}`

	var bySeverity struct {
		Data struct {
			Aggregate struct {
				TriggerEvent []struct {
					Meta struct {
						Count int `json:"count"`
					} `json:"meta"`
					GroupedBy struct {
						Value json.Number `json:"value"`
					} `json:"groupedBy"`
				} `json:"TriggerEvent"`
			} `json:"Aggregate"`
		} `json:"data"`
	}
	if err := s.graphql(ctx, gql, &bySeverity); err != nil {
		return stats, err
	}
	for _, group := range bySeverity.Data.Aggregate.TriggerEvent {
		sev, err := group.GroupedBy.Value.Int64()
		if err != nil {
			continue
		}
		stats.BySeverity[models.Severity(sev)] += group.Meta.Count
	}

	return stats, nil
}

// Ping checks readiness via the well-known endpoint.
func (s *WeaviateStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/v1/.well-known/ready", nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: readiness check returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the store holds no persistent connections.
func (s *WeaviateStore) Close() error { return nil }

func (s *WeaviateStore) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

// postObject creates an object, treating an ID clash as success.
func (s *WeaviateStore) postObject(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/objects", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnprocessableEntity && strings.Contains(string(data), "already exists") {
		return nil
	}
	return fmt.Errorf("%w: storing object: %s", ErrUnavailable, strings.TrimSpace(string(data)))
}

func (s *WeaviateStore) graphql(ctx context.Context, query string, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/graphql", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: graphql query returned %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *WeaviateStore) queryAnalyses(ctx context.Context, gql string) ([]models.AnalysisResult, error) {
	var response struct {
		Data struct {
			Get struct {
				EventAnalysis []weaviateAnalysis `json:"EventAnalysis"`
			} `json:"Get"`
		} `json:"data"`
	}
	if err := s.graphql(ctx, gql, &response); err != nil {
		return nil, err
	}

	results := make([]models.AnalysisResult, 0, len(response.Data.Get.EventAnalysis))
	for _, rec := range response.Data.Get.EventAnalysis {
		result, err := rec.toResult()
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

const analysisFields = `analysisId eventId version isUpdate rootCause trend impact recommendations confidence inferenceUsed similarEvents createdAt`

type weaviateEvent struct {
	EventID     string `json:"eventId"`
	Host        string `json:"host"`
	Item        string `json:"item"`
	TriggerName string `json:"triggerName"`
	Severity    int    `json:"severity"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	Action      string `json:"action"`
}

func (w weaviateEvent) toEvent() (models.Event, error) {
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return models.Event{}, fmt.Errorf("decoding event timestamp: %w", err)
	}
	event := models.Event{
		EventID:     w.EventID,
		Host:        w.Host,
		Item:        w.Item,
		TriggerName: w.TriggerName,
		Severity:    models.Severity(w.Severity),
		Status:      models.Status(w.Status),
		Timestamp:   ts.UTC(),
		Value:       w.Value,
		Description: w.Description,
		Action:      w.Action,
	}
	if w.Tags != "" && w.Tags != "null" {
		if err := json.Unmarshal([]byte(w.Tags), &event.Tags); err != nil {
			return models.Event{}, fmt.Errorf("decoding event tags: %w", err)
		}
	}
	return event, nil
}

type weaviateAnalysis struct {
	AnalysisID      string  `json:"analysisId"`
	EventID         string  `json:"eventId"`
	Version         int     `json:"version"`
	IsUpdate        bool    `json:"isUpdate"`
	RootCause       string  `json:"rootCause"`
	Trend           string  `json:"trend"`
	Impact          string  `json:"impact"`
	Recommendations string  `json:"recommendations"`
	Confidence      float64 `json:"confidence"`
	InferenceUsed   bool    `json:"inferenceUsed"`
	SimilarEvents   string  `json:"similarEvents"`
	CreatedAt       string  `json:"createdAt"`
}

func (w weaviateAnalysis) toResult() (models.AnalysisResult, error) {
	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding analysis timestamp: %w", err)
	}
	result := models.AnalysisResult{
		AnalysisID:    w.AnalysisID,
		EventID:       w.EventID,
		Version:       w.Version,
		Update:        w.IsUpdate,
		Confidence:    w.Confidence,
		InferenceUsed: w.InferenceUsed,
		CreatedAt:     createdAt.UTC(),
	}
	if err := json.Unmarshal([]byte(w.RootCause), &result.RootCause); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding root cause: %w", err)
	}
	if err := json.Unmarshal([]byte(w.Trend), &result.Trend); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding trend: %w", err)
	}
	if err := json.Unmarshal([]byte(w.Impact), &result.Impact); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding impact: %w", err)
	}
	if err := json.Unmarshal([]byte(w.Recommendations), &result.Recommendations); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding recommendations: %w", err)
	}
	if err := json.Unmarshal([]byte(w.SimilarEvents), &result.SimilarEvents); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decoding similar events: %w", err)
	}
	return result, nil
}

func analysisProperties(result models.AnalysisResult) (map[string]interface{}, error) {
	rootCause, err := json.Marshal(result.RootCause)
	if err != nil {
		return nil, fmt.Errorf("encoding root cause: %w", err)
	}
	trend, err := json.Marshal(result.Trend)
	if err != nil {
		return nil, fmt.Errorf("encoding trend: %w", err)
	}
	impact, err := json.Marshal(result.Impact)
	if err != nil {
		return nil, fmt.Errorf("encoding impact: %w", err)
	}
	recs, err := json.Marshal(result.Recommendations)
	if err != nil {
		return nil, fmt.Errorf("encoding recommendations: %w", err)
	}
	similar, err := json.Marshal(result.SimilarEvents)
	if err != nil {
		return nil, fmt.Errorf("encoding similar events: %w", err)
	}

	// summary is the free-text field BM25 retrieval matches against.
	summary := make([]string, 0, len(result.RootCause)+len(result.Recommendations))
	for _, h := range result.RootCause {
		summary = append(summary, h.Cause)
	}
	summary = append(summary, result.Recommendations...)

	return map[string]interface{}{
		"analysisId":      result.AnalysisID,
		"eventId":         result.EventID,
		"version":         result.Version,
		"isUpdate":        result.Update,
		"rootCause":       string(rootCause),
		"trend":           string(trend),
		"impact":          string(impact),
		"recommendations": string(recs),
		"confidence":      result.Confidence,
		"inferenceUsed":   result.InferenceUsed,
		"similarEvents":   string(similar),
		"summary":         strings.Join(summary, ". "),
		"createdAt":       result.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}
