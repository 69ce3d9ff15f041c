package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// NASA answers space queries with the astronomy picture of the day
type NASA struct {
	httpBase
}

// apodResponse mirrors the APOD payload
type apodResponse struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	URL         string `json:"url"`
	Explanation string `json:"explanation"`
}

// NewNASA builds the provider; DEMO_KEY works for light traffic
func NewNASA(cfg Config, log zerolog.Logger) *NASA {
	cfg = cfg.withDefaults("nasa", "https://api.nasa.gov", 0.8, 0.9, 700*time.Millisecond)
	if cfg.APIKey == "" {
		cfg.APIKey = "DEMO_KEY"
	}
	return &NASA{httpBase: newHTTPBase(cfg, log)}
}

// Fetch returns today's APOD record
func (n *NASA) Fetch(ctx context.Context, query string) (domain.Value, error) {
	endpoint := fmt.Sprintf("%s/planetary/apod?api_key=%s", n.cfg.BaseURL, url.QueryEscape(n.cfg.APIKey))

	var payload apodResponse
	if err := n.getJSON(ctx, endpoint, &payload); err != nil {
		return domain.Value{}, err
	}

	if payload.Title == "" {
		return domain.Value{}, NewMalformedError(n.cfg.Name, fmt.Errorf("empty APOD payload"))
	}

	record := map[string]interface{}{
		"title": payload.Title,
		"date":  payload.Date,
	}
	if payload.URL != "" {
		record["url"] = payload.URL
	}
	return domain.ObjectValue(record), nil
}

// HealthCheck reuses the APOD endpoint; a 403 on an exhausted key still
// proves the service is reachable
func (n *NASA) HealthCheck(ctx context.Context) error {
	return n.ping(ctx, fmt.Sprintf("%s/planetary/apod?api_key=%s", n.cfg.BaseURL, url.QueryEscape(n.cfg.APIKey)))
}

// CalculateConfidence is flat for well-formed records; APOD has one source
func (n *NASA) CalculateConfidence(value domain.Value) float64 {
	record, ok := value.Object()
	if !ok {
		return 0
	}
	if title, _ := record["title"].(string); title == "" {
		return 0.1
	}
	return 0.85
}
