package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// Provider is the uniform capability every data source implements. Concrete
// providers are plain structs satisfying this interface; the fanout engine
// never sees anything more specific.
type Provider interface {
	// Core identification
	Name() string
	Weight() float64      // static vote weight, (0,1]
	Reliability() float64 // static prior, (0,1]
	LatencyEstimate() time.Duration

	// Fetch answers the query or fails with a *provider.Error. It must
	// honor ctx's deadline; late work is discarded by the caller.
	Fetch(ctx context.Context, query string) (domain.Value, error)

	// HealthCheck probes the upstream. Best effort: it has no side effect
	// on fetch metrics beyond the recorded health flag.
	HealthCheck(ctx context.Context) error

	// CalculateConfidence scores a fetched value in [0,1]. Called once per
	// successful fetch before the response is emitted.
	CalculateConfidence(value domain.Value) float64
}

// Record binds a registered provider to its private cache and metrics.
// Lifecycle follows registration: created on Register, dropped on Unregister.
type Record struct {
	provider Provider
	cache    Cache
	metrics  *Metrics
	log      zerolog.Logger
}

// NewRecord wraps a provider with a fresh metrics counter and the given cache
func NewRecord(p Provider, cache Cache, log zerolog.Logger) *Record {
	return &Record{
		provider: p,
		cache:    cache,
		metrics:  NewMetrics(),
		log:      log.With().Str("provider", p.Name()).Logger(),
	}
}

// Provider returns the wrapped provider
func (r *Record) Provider() Provider { return r.provider }

// Name returns the provider name
func (r *Record) Name() string { return r.provider.Name() }

// Weight returns the provider's static vote weight
func (r *Record) Weight() float64 { return r.provider.Weight() }

// Metrics returns the record's live counters
func (r *Record) Metrics() *Metrics { return r.metrics }

// Cache returns the record's cache
func (r *Record) Cache() Cache { return r.cache }

// Execute performs one cached fetch under ctx's deadline.
//
// Cache hits return the stored response without touching metrics: a served
// cache entry is not a new fetch. On a miss the provider is asked, latency
// is observed, confidence is computed from the fetched value, and exactly
// one of successes or failures is recorded.
func (r *Record) Execute(ctx context.Context, query string, opts domain.Options) (*domain.Response, error) {
	key := opts.CacheKey(query)

	if resp, ok := r.cache.Get(key, opts.CacheTime); ok {
		r.log.Debug().Str("query", query).Msg("cache hit")
		return resp, nil
	}

	start := time.Now()
	value, err := r.provider.Fetch(ctx, query)
	elapsed := time.Since(start)

	if err != nil {
		err = normalizeError(r.provider.Name(), err, ctx)
		r.metrics.RecordFailure(elapsed, err)
		r.log.Debug().Err(err).Int64("latency_ms", elapsed.Milliseconds()).Msg("fetch failed")
		return nil, err
	}

	resp := &domain.Response{
		Value:      value,
		Confidence: clamp01(r.provider.CalculateConfidence(value)),
		Source:     r.provider.Name(),
		Timestamp:  time.Now().UTC(),
		LatencyMS:  elapsed.Milliseconds(),
		Metadata: map[string]interface{}{
			"query":  query,
			"cached": false,
		},
	}

	r.metrics.RecordSuccess(elapsed)
	r.cache.Set(key, resp)

	r.log.Debug().
		Str("query", query).
		Int64("latency_ms", resp.LatencyMS).
		Float64("confidence", resp.Confidence).
		Msg("fetch ok")

	return resp, nil
}

// Health probes the provider and records the outcome on its metrics
func (r *Record) Health(ctx context.Context) bool {
	err := r.provider.HealthCheck(ctx)
	healthy := err == nil
	r.metrics.RecordHealth(healthy)
	if !healthy {
		r.log.Debug().Err(err).Msg("health check failed")
	}
	return healthy
}

// Info snapshots the record for status surfaces
func (r *Record) Info() Info {
	return Info{
		Name:              r.provider.Name(),
		Weight:            r.provider.Weight(),
		Reliability:       r.provider.Reliability(),
		LatencyEstimateMS: r.provider.LatencyEstimate().Milliseconds(),
		Metrics:           r.metrics.Snapshot(),
		Cache:             r.cache.Stats(),
	}
}

// Info is the read-only view of a registered provider
type Info struct {
	Name              string          `json:"name"`
	Weight            float64         `json:"weight"`
	Reliability       float64         `json:"reliability"`
	LatencyEstimateMS int64           `json:"latency_estimate_ms"`
	Metrics           MetricsSnapshot `json:"metrics"`
	Cache             CacheStats      `json:"cache"`
}

// normalizeError folds context deadline errors into the timeout code so the
// metrics see a uniform taxonomy
func normalizeError(name string, err error, ctx context.Context) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return NewTimeoutError(name, err)
	}
	return NewUpstreamError(name, 0, err.Error())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
