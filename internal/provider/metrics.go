package provider

import (
	"sync"
	"time"
)

// emaAlpha is the smoothing factor applied to each newly observed latency
const emaAlpha = 0.1

// Metrics tracks one provider's fetch history. Every concluded fetch bumps
// exactly one of successes or failures and folds its latency into the EMA;
// cache hits bypass metrics entirely.
type Metrics struct {
	mu sync.Mutex

	total     int64
	successes int64
	failures  int64

	timeouts    int64
	rateLimited int64

	emaLatencyMS float64

	lastHealthy  bool
	lastHealthAt time.Time
	lastError    string
}

// MetricsSnapshot is a point-in-time copy safe to serialize
type MetricsSnapshot struct {
	Total               int64     `json:"total"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Timeouts            int64     `json:"timeouts"`
	RateLimited         int64     `json:"rate_limited"`
	EMALatencyMS        float64   `json:"ema_latency_ms"`
	ObservedReliability float64   `json:"observed_reliability"`
	LastHealthy         bool      `json:"last_healthy"`
	LastHealthAt        time.Time `json:"last_health_at"`
	LastError           string    `json:"last_error,omitempty"`
}

// NewMetrics returns a fresh counter. A provider with no history reports
// reliability 1.0 until observations say otherwise.
func NewMetrics() *Metrics {
	return &Metrics{lastHealthy: true}
}

// RecordSuccess counts one successful fetch
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.successes++
	m.observeLatency(latency)
}

// RecordFailure counts one failed fetch, keeping the timeout and throttle
// sub-counters for diagnostics
func (m *Metrics) RecordFailure(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.failures++
	m.observeLatency(latency)

	if err != nil {
		m.lastError = err.Error()
		switch {
		case CodeOf(err) == ErrCodeTimeout:
			m.timeouts++
		case IsRateLimited(err):
			m.rateLimited++
		}
	}
}

// RecordHealth stores the latest probe outcome. Probes do not touch fetch
// counters.
func (m *Metrics) RecordHealth(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastHealthy = healthy
	m.lastHealthAt = time.Now().UTC()
}

// observeLatency updates the EMA; the first observation seeds it directly
func (m *Metrics) observeLatency(latency time.Duration) {
	observed := float64(latency.Milliseconds())
	if m.total == 1 {
		m.emaLatencyMS = observed
		return
	}
	m.emaLatencyMS = (1-emaAlpha)*m.emaLatencyMS + emaAlpha*observed
}

// Snapshot copies the counters under the lock
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	reliability := 1.0
	if m.total > 0 {
		reliability = float64(m.successes) / float64(m.total)
	}

	return MetricsSnapshot{
		Total:               m.total,
		Successes:           m.successes,
		Failures:            m.failures,
		Timeouts:            m.timeouts,
		RateLimited:         m.rateLimited,
		EMALatencyMS:        m.emaLatencyMS,
		ObservedReliability: reliability,
		LastHealthy:         m.lastHealthy,
		LastHealthAt:        m.lastHealthAt,
		LastError:           m.lastError,
	}
}
