package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	userAgent       = "stratoquery-oracle/1.0"
	maxResponseBody = 1 << 20 // upstream payloads larger than 1 MiB are malformed for our purposes
)

// Config carries the tunable knobs shared by the built-in HTTP providers
type Config struct {
	Name            string
	BaseURL         string
	APIKey          string
	Weight          float64
	Reliability     float64
	LatencyEstimate time.Duration

	// MinInterval spaces consecutive upstream calls. Zero disables the
	// local limiter.
	MinInterval time.Duration

	// Timeout bounds a single HTTP exchange independent of the caller's
	// deadline.
	Timeout time.Duration

	// BreakerFailures trips the circuit after this many consecutive
	// failures.
	BreakerFailures uint32

	// BreakerCooldown is how long the circuit stays open before probing.
	BreakerCooldown time.Duration
}

func (c Config) withDefaults(name, baseURL string, weight, reliability float64, latency time.Duration) Config {
	if c.Name == "" {
		c.Name = name
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Weight <= 0 || c.Weight > 1 {
		c.Weight = weight
	}
	if c.Reliability <= 0 || c.Reliability > 1 {
		c.Reliability = reliability
	}
	if c.LatencyEstimate <= 0 {
		c.LatencyEstimate = latency
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// httpBase bundles the transport plumbing every built-in provider shares:
// an HTTP client, a circuit breaker, and an optional pacing limiter.
type httpBase struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newHTTPBase(cfg Config, log zerolog.Logger) httpBase {
	b := httpBase{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("provider", cfg.Name).Logger(),
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	b.breaker = gobreaker.NewCircuitBreaker(settings)

	if cfg.MinInterval > 0 {
		b.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return b
}

// Name returns the configured provider name
func (b *httpBase) Name() string { return b.cfg.Name }

// Weight returns the static vote weight
func (b *httpBase) Weight() float64 { return b.cfg.Weight }

// Reliability returns the static prior
func (b *httpBase) Reliability() float64 { return b.cfg.Reliability }

// LatencyEstimate returns the informational latency figure
func (b *httpBase) LatencyEstimate() time.Duration { return b.cfg.LatencyEstimate }

// getJSON fetches url and decodes the body into out, going through the
// pacing limiter and the circuit breaker. A provider under rate pressure
// self-throttles until ctx's deadline, then reports RATE_LIMIT.
func (b *httpBase) getJSON(ctx context.Context, url string, out interface{}) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return NewRateLimitError(b.cfg.Name, err)
		}
	}

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.doGet(ctx, url, out)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &Error{
				Provider:  b.cfg.Name,
				Code:      ErrCodeCircuitOpen,
				Message:   "circuit breaker open",
				Temporary: true,
				Cause:     err,
			}
		}
		return err
	}
	return nil
}

func (b *httpBase) doGet(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NewUpstreamError(b.cfg.Name, 0, fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return NewTimeoutError(b.cfg.Name, ctx.Err())
		}
		return &Error{
			Provider:  b.cfg.Name,
			Code:      ErrCodeUpstream,
			Message:   "request failed",
			Temporary: true,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewUpstreamError(b.cfg.Name, resp.StatusCode, fmt.Sprintf("HTTP %d from upstream", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return NewUpstreamError(b.cfg.Name, resp.StatusCode, "failed to read response body")
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewMalformedError(b.cfg.Name, err)
	}
	return nil
}

// ping issues a GET and only checks reachability; 2xx-4xx counts as alive,
// transport errors and 5xx do not
func (b *httpBase) ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("upstream unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}
