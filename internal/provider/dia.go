package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// DIA serves crypto quotations from the DIA open data API
type DIA struct {
	httpBase
}

// diaQuotationResponse mirrors /v1/quotation payloads
type diaQuotationResponse struct {
	Symbol             string  `json:"Symbol"`
	Name               string  `json:"Name"`
	Price              float64 `json:"Price"`
	PriceYesterday     float64 `json:"PriceYesterday"`
	VolumeYesterdayUSD float64 `json:"VolumeYesterdayUSD"`
	Time               string  `json:"Time"`
}

// NewDIA builds the provider
func NewDIA(cfg Config, log zerolog.Logger) *DIA {
	cfg = cfg.withDefaults("dia", "https://api.diadata.org", 0.75, 0.85, 500*time.Millisecond)
	return &DIA{httpBase: newHTTPBase(cfg, log)}
}

// Fetch returns the quoted USD price for the asset named in the query
func (d *DIA) Fetch(ctx context.Context, query string) (domain.Value, error) {
	symbol, ok := resolveDIASymbol(query)
	if !ok {
		return domain.Value{}, NewUnsupportedError(d.cfg.Name, "no known symbol in query")
	}

	url := fmt.Sprintf("%s/v1/quotation/%s", d.cfg.BaseURL, symbol)

	var payload diaQuotationResponse
	if err := d.getJSON(ctx, url, &payload); err != nil {
		return domain.Value{}, err
	}

	if payload.Price <= 0 {
		return domain.Value{}, NewMalformedError(d.cfg.Name, fmt.Errorf("non-positive price for %s", symbol))
	}
	return domain.NumberValue(payload.Price), nil
}

// HealthCheck fetches a cheap known quotation
func (d *DIA) HealthCheck(ctx context.Context) error {
	return d.ping(ctx, d.cfg.BaseURL+"/v1/quotation/BTC")
}

// CalculateConfidence favors positive quotes; DIA aggregates fewer venues
// than the feed gateways so it scores slightly lower
func (d *DIA) CalculateConfidence(value domain.Value) float64 {
	price, ok := value.Number()
	if !ok || price <= 0 {
		return 0
	}
	return 0.9
}

func resolveDIASymbol(query string) (string, bool) {
	id, ok := resolveCoinID(query)
	if !ok {
		return "", false
	}
	// DIA keys quotations by upper-case ticker
	switch id {
	case "avalanche-2":
		return "AVAX", true
	case "binancecoin":
		return "BNB", true
	case "hedera-hashgraph":
		return "HBAR", true
	default:
		return strings.ToUpper(tickerFor(id)), true
	}
}

// tickerFor inverts the coin id table back to the short ticker
func tickerFor(coinID string) string {
	shortest := coinID
	for word, id := range coinIDs {
		if id == coinID && len(word) < len(shortest) {
			shortest = word
		}
	}
	return shortest
}
