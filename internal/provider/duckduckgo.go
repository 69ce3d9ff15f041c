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

// DuckDuckGo answers search queries from the instant answer API. Results are
// text answers; queries with no instant answer are unsupported rather than
// answered with noise.
type DuckDuckGo struct {
	httpBase
}

// instantAnswerResponse mirrors the instant answer payload
type instantAnswerResponse struct {
	Heading       string `json:"Heading"`
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// NewDuckDuckGo builds the provider
func NewDuckDuckGo(cfg Config, log zerolog.Logger) *DuckDuckGo {
	cfg = cfg.withDefaults("duckduckgo", "https://api.duckduckgo.com", 0.6, 0.8, 600*time.Millisecond)
	return &DuckDuckGo{httpBase: newHTTPBase(cfg, log)}
}

// Fetch returns the instant answer abstract, falling back to the first
// related topic
func (d *DuckDuckGo) Fetch(ctx context.Context, query string) (domain.Value, error) {
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		d.cfg.BaseURL, url.QueryEscape(query))

	var payload instantAnswerResponse
	if err := d.getJSON(ctx, endpoint, &payload); err != nil {
		return domain.Value{}, err
	}

	answer := strings.TrimSpace(payload.AbstractText)
	if answer == "" && len(payload.RelatedTopics) > 0 {
		answer = strings.TrimSpace(payload.RelatedTopics[0].Text)
	}
	if answer == "" {
		return domain.Value{}, NewUnsupportedError(d.cfg.Name, "no instant answer for query")
	}

	return domain.TextValue(answer), nil
}

// HealthCheck runs a trivial instant answer
func (d *DuckDuckGo) HealthCheck(ctx context.Context) error {
	return d.ping(ctx, d.cfg.BaseURL+"/?q=ping&format=json")
}

// CalculateConfidence rewards substantive abstracts over one-liners
func (d *DuckDuckGo) CalculateConfidence(value domain.Value) float64 {
	text, ok := value.Text()
	if !ok || text == "" {
		return 0
	}
	if len(text) > 80 {
		return 0.75
	}
	return 0.6
}
