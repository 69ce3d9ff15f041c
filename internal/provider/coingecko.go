package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// CoinGecko serves crypto spot prices in USD. The free tier wants at least
// three seconds between calls, enforced by the local pacing limiter.
type CoinGecko struct {
	httpBase
}

// coinIDs maps ticker words found in queries to CoinGecko asset ids
var coinIDs = map[string]string{
	"btc": "bitcoin", "bitcoin": "bitcoin",
	"eth": "ethereum", "ethereum": "ethereum",
	"sol": "solana", "solana": "solana",
	"ada": "cardano", "cardano": "cardano",
	"xrp": "ripple", "ripple": "ripple",
	"doge": "dogecoin", "dogecoin": "dogecoin",
	"ltc": "litecoin", "litecoin": "litecoin",
	"dot": "polkadot", "polkadot": "polkadot",
	"avax": "avalanche-2", "avalanche": "avalanche-2",
	"bnb": "binancecoin",
	"hbar": "hedera-hashgraph", "hedera": "hedera-hashgraph",
}

// NewCoinGecko builds the provider with free-tier pacing defaults
func NewCoinGecko(cfg Config, log zerolog.Logger) *CoinGecko {
	cfg = cfg.withDefaults("coingecko", "https://api.coingecko.com", 0.8, 0.9, 400*time.Millisecond)
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 3 * time.Second
	}
	return &CoinGecko{httpBase: newHTTPBase(cfg, log)}
}

// Fetch resolves the asset mentioned in the query and returns its USD price
func (c *CoinGecko) Fetch(ctx context.Context, query string) (domain.Value, error) {
	id, ok := resolveCoinID(query)
	if !ok {
		return domain.Value{}, NewUnsupportedError(c.cfg.Name, "no known asset in query")
	}

	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd", c.cfg.BaseURL, id)

	var payload map[string]map[string]float64
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return domain.Value{}, err
	}

	price, ok := payload[id]["usd"]
	if !ok {
		return domain.Value{}, NewMalformedError(c.cfg.Name, fmt.Errorf("no usd quote for %s in payload", id))
	}
	return domain.NumberValue(price), nil
}

// HealthCheck hits the dedicated ping endpoint
func (c *CoinGecko) HealthCheck(ctx context.Context) error {
	return c.ping(ctx, c.cfg.BaseURL+"/api/v3/ping")
}

// CalculateConfidence scores by price sanity: anything outside the plausible
// band for listed assets is suspect
func (c *CoinGecko) CalculateConfidence(value domain.Value) float64 {
	price, ok := value.Number()
	if !ok || price <= 0 {
		return 0
	}
	if price < 1e-6 || price > 1e7 {
		return 0.5
	}
	return 0.95
}

func resolveCoinID(query string) (string, bool) {
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, "?.,!:;\"'")
		if id, ok := coinIDs[word]; ok {
			return id, true
		}
	}
	return "", false
}
