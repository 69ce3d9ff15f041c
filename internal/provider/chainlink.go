package provider

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// Chainlink reads price feeds from an aggregator REST gateway. Feed answers
// arrive as fixed-point integers scaled by the feed's decimals.
type Chainlink struct {
	httpBase
}

// chainlinkFeedResponse mirrors the gateway's feed payload
type chainlinkFeedResponse struct {
	Pair      string `json:"pair"`
	Answer    string `json:"answer"`
	Decimals  int    `json:"decimals"`
	UpdatedAt int64  `json:"updatedAt"`
}

// NewChainlink builds the provider. Feeds are the highest-weight price
// source because aggregation already happened upstream.
func NewChainlink(cfg Config, log zerolog.Logger) *Chainlink {
	cfg = cfg.withDefaults("chainlink", "https://feeds.chain.link", 0.9, 0.95, 250*time.Millisecond)
	return &Chainlink{httpBase: newHTTPBase(cfg, log)}
}

// Fetch resolves the feed pair from the query and returns its latest answer
func (c *Chainlink) Fetch(ctx context.Context, query string) (domain.Value, error) {
	id, ok := resolveCoinID(query)
	if !ok {
		return domain.Value{}, NewUnsupportedError(c.cfg.Name, "no known feed pair in query")
	}
	pair := feedPairFor(id)

	url := fmt.Sprintf("%s/v1/feeds/%s", c.cfg.BaseURL, pair)

	var payload chainlinkFeedResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return domain.Value{}, err
	}

	raw, err := strconv.ParseFloat(payload.Answer, 64)
	if err != nil {
		return domain.Value{}, NewMalformedError(c.cfg.Name, fmt.Errorf("unparseable feed answer %q: %w", payload.Answer, err))
	}
	if payload.Decimals < 0 || payload.Decimals > 18 {
		return domain.Value{}, NewMalformedError(c.cfg.Name, fmt.Errorf("implausible feed decimals %d", payload.Decimals))
	}

	return domain.NumberValue(raw / math.Pow10(payload.Decimals)), nil
}

// HealthCheck probes the gateway health endpoint
func (c *Chainlink) HealthCheck(ctx context.Context) error {
	return c.ping(ctx, c.cfg.BaseURL+"/health")
}

// CalculateConfidence trusts positive feed answers highly; feeds are already
// a consensus of upstream oracles
func (c *Chainlink) CalculateConfidence(value domain.Value) float64 {
	price, ok := value.Number()
	if !ok || price <= 0 {
		return 0.2
	}
	return 0.97
}

// feedPairFor maps a CoinGecko-style asset id onto the gateway's pair slug
func feedPairFor(coinID string) string {
	switch coinID {
	case "bitcoin":
		return "btc-usd"
	case "ethereum":
		return "eth-usd"
	case "solana":
		return "sol-usd"
	case "cardano":
		return "ada-usd"
	case "ripple":
		return "xrp-usd"
	case "dogecoin":
		return "doge-usd"
	case "litecoin":
		return "ltc-usd"
	case "polkadot":
		return "dot-usd"
	case "avalanche-2":
		return "avax-usd"
	case "binancecoin":
		return "bnb-usd"
	case "hedera-hashgraph":
		return "hbar-usd"
	default:
		return coinID + "-usd"
	}
}
