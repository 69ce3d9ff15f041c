package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// Wikipedia answers knowledge queries with page summaries
type Wikipedia struct {
	httpBase
}

// wikiSummaryResponse mirrors the REST v1 page summary payload
type wikiSummaryResponse struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// scaffolding phrases stripped before the remaining words become the title
var topicPrefixes = []string{
	"what is the", "what is", "what are", "who is the", "who is",
	"who was", "explain", "define", "definition of", "tell me about",
	"meaning of",
}

// NewWikipedia builds the provider
func NewWikipedia(cfg Config, log zerolog.Logger) *Wikipedia {
	cfg = cfg.withDefaults("wikipedia", "https://en.wikipedia.org", 0.85, 0.9, 450*time.Millisecond)
	return &Wikipedia{httpBase: newHTTPBase(cfg, log)}
}

// Fetch strips question scaffolding and returns the page summary
func (w *Wikipedia) Fetch(ctx context.Context, query string) (domain.Value, error) {
	topic := extractTopic(query)
	if topic == "" {
		return domain.Value{}, NewUnsupportedError(w.cfg.Name, "no topic in query")
	}

	endpoint := fmt.Sprintf("%s/api/rest_v1/page/summary/%s", w.cfg.BaseURL, url.PathEscape(topic))

	var payload wikiSummaryResponse
	if err := w.getJSON(ctx, endpoint, &payload); err != nil {
		return domain.Value{}, err
	}

	if payload.Extract == "" {
		return domain.Value{}, NewMalformedError(w.cfg.Name, fmt.Errorf("empty summary for %q", topic))
	}

	record := map[string]interface{}{
		"title":   payload.Title,
		"summary": payload.Extract,
	}
	if page := payload.ContentURLs.Desktop.Page; page != "" {
		record["url"] = page
	}
	return domain.ObjectValue(record), nil
}

// HealthCheck fetches a summary that always exists
func (w *Wikipedia) HealthCheck(ctx context.Context) error {
	return w.ping(ctx, w.cfg.BaseURL+"/api/rest_v1/page/summary/Earth")
}

// CalculateConfidence scores summary substance; stub extracts score low
func (w *Wikipedia) CalculateConfidence(value domain.Value) float64 {
	record, ok := value.Object()
	if !ok {
		return 0
	}
	summary, _ := record["summary"].(string)
	if summary == "" {
		return 0.1
	}

	confidence := 0.5 + float64(len(summary))/1000.0
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

// extractTopic reduces a question to the page title words
func extractTopic(query string) string {
	topic := strings.ToLower(strings.TrimSpace(query))
	topic = strings.TrimRight(topic, "?!. ")

	for _, prefix := range topicPrefixes {
		if strings.HasPrefix(topic, prefix+" ") {
			topic = strings.TrimSpace(topic[len(prefix):])
			break
		}
	}

	topic = strings.TrimPrefix(topic, "a ")
	topic = strings.TrimPrefix(topic, "an ")
	topic = strings.TrimPrefix(topic, "the ")

	return strings.ReplaceAll(strings.TrimSpace(topic), " ", "_")
}
