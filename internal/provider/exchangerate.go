package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// ExchangeRate serves fiat FX rates from an open rates API
type ExchangeRate struct {
	httpBase
}

// ratesResponse mirrors /v6/latest payloads
type ratesResponse struct {
	Result   string             `json:"result"`
	BaseCode string             `json:"base_code"`
	Rates    map[string]float64 `json:"rates"`
}

var (
	fxPairExpr = regexp.MustCompile(`\b([a-zA-Z]{3})\s*(?:/|to|in)\s*([a-zA-Z]{3})\b`)

	knownFiat = newWordList(
		"USD", "EUR", "GBP", "JPY", "CHF", "CAD", "AUD", "NZD", "CNY",
		"INR", "SEK", "NOK", "BRL", "MXN",
	)
)

// NewExchangeRate builds the provider
func NewExchangeRate(cfg Config, log zerolog.Logger) *ExchangeRate {
	cfg = cfg.withDefaults("exchangerate", "https://open.er-api.com", 0.8, 0.9, 350*time.Millisecond)
	return &ExchangeRate{httpBase: newHTTPBase(cfg, log)}
}

// Fetch parses the currency pair out of the query and returns base→target
func (e *ExchangeRate) Fetch(ctx context.Context, query string) (domain.Value, error) {
	base, target, ok := parseCurrencyPair(query)
	if !ok {
		return domain.Value{}, NewUnsupportedError(e.cfg.Name, "no currency pair in query")
	}

	url := fmt.Sprintf("%s/v6/latest/%s", e.cfg.BaseURL, base)

	var payload ratesResponse
	if err := e.getJSON(ctx, url, &payload); err != nil {
		return domain.Value{}, err
	}

	if payload.Result != "success" {
		return domain.Value{}, NewUpstreamError(e.cfg.Name, 0, fmt.Sprintf("rates API result %q", payload.Result))
	}
	rate, ok := payload.Rates[target]
	if !ok {
		return domain.Value{}, NewMalformedError(e.cfg.Name, fmt.Errorf("no %s rate in %s table", target, base))
	}
	return domain.NumberValue(rate), nil
}

// HealthCheck fetches the USD table
func (e *ExchangeRate) HealthCheck(ctx context.Context) error {
	return e.ping(ctx, e.cfg.BaseURL+"/v6/latest/USD")
}

// CalculateConfidence scores by rate plausibility; fiat crosses live in a
// narrow band
func (e *ExchangeRate) CalculateConfidence(value domain.Value) float64 {
	rate, ok := value.Number()
	if !ok || rate <= 0 {
		return 0
	}
	if rate > 1e4 {
		return 0.5
	}
	return 0.93
}

// parseCurrencyPair pulls (base, target) out of free text. A pair form wins;
// a single mentioned currency pairs against USD.
func parseCurrencyPair(query string) (string, string, bool) {
	if m := fxPairExpr.FindStringSubmatch(query); m != nil {
		base, target := strings.ToUpper(m[1]), strings.ToUpper(m[2])
		if knownFiat[base] && knownFiat[target] {
			return base, target, true
		}
	}

	var found []string
	for _, word := range strings.Fields(strings.ToUpper(query)) {
		word = strings.Trim(word, "?.,!:;\"'")
		if knownFiat[word] {
			found = append(found, word)
		}
	}

	switch len(found) {
	case 0:
		return "", "", false
	case 1:
		if found[0] == "USD" {
			return "USD", "EUR", true
		}
		return found[0], "USD", true
	default:
		return found[0], found[1], true
	}
}

func newWordList(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
