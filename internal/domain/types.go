package domain

import (
	"fmt"
	"time"
)

// QueryType classifies what kind of data a query is asking for. The type
// restricts the eligible provider set before fanout.
type QueryType string

const (
	QueryPriceFeed    QueryType = "price_feed"
	QueryExchangeRate QueryType = "exchange_rate"
	QueryWeather      QueryType = "weather"
	QuerySpaceData    QueryType = "space_data"
	QueryKnowledge    QueryType = "knowledge"
	QueryNewsSearch   QueryType = "news_search"
	QueryCustom       QueryType = "custom"
)

// ConsensusMethod selects how multiple responses collapse into one value
type ConsensusMethod string

const (
	MethodMedian             ConsensusMethod = "median"
	MethodWeightedAverage    ConsensusMethod = "weighted_average"
	MethodMajorityVote       ConsensusMethod = "majority_vote"
	MethodConfidenceWeighted ConsensusMethod = "confidence_weighted"
)

// ParseMethod validates a wire token against the closed method set
func ParseMethod(token string) (ConsensusMethod, error) {
	switch ConsensusMethod(token) {
	case MethodMedian, MethodWeightedAverage, MethodMajorityVote, MethodConfidenceWeighted:
		return ConsensusMethod(token), nil
	default:
		return "", NewQueryError(FailUnsupportedMethod, "unknown consensus method %q", token)
	}
}

// Response is one provider's successful reply. Failures never become
// responses; they are counted in provider metrics instead.
type Response struct {
	Value      Value                  `json:"value"`
	Confidence float64                `json:"confidence"`
	Source     string                 `json:"source"`
	Timestamp  time.Time              `json:"timestamp"`
	LatencyMS  int64                  `json:"latencyMs"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ConsensusResult is the reconciled answer returned to the caller.
// Sources lists the providers surviving outlier removal; RawResponses keeps
// the full pre-outlier input for diagnostics.
type ConsensusResult struct {
	Value        Value           `json:"value"`
	Confidence   float64         `json:"confidence"`
	Method       ConsensusMethod `json:"method"`
	Sources      []string        `json:"sources"`
	RawResponses []Response      `json:"rawResponses,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// AuditRecord is the immutable post-consensus log entry appended to the
// ledger topic. TransactionID is filled after ledger ack; a batched record
// carries a synthetic handle until flushed.
type AuditRecord struct {
	QueryID       string          `json:"queryId"`
	QueryText     string          `json:"query"`
	Result        ConsensusResult `json:"result"`
	SubmittedAt   time.Time       `json:"submittedAt"`
	TransactionID string          `json:"transactionId,omitempty"`
}

// Options are the caller-controlled knobs of a single query
type Options struct {
	// Sources overrides the classifier-derived eligible set; it is
	// intersected with the registered provider names.
	Sources []string

	// ConsensusMethod overrides the configured default when non-empty.
	ConsensusMethod ConsensusMethod

	// Timeout bounds each provider fetch. Zero means the configured
	// default (10s).
	Timeout time.Duration

	// CacheTime is the maximum age of a cached response the caller will
	// accept. Zero means the provider cache TTL applies unchanged.
	CacheTime time.Duration
}

// Fingerprint digests the option subset that can change a single provider's
// answer. Sources and ConsensusMethod shape the fanout, not any one answer,
// so they stay out of cache keys.
func (o Options) Fingerprint() string {
	return "v1"
}

// EffectiveTimeout applies the configured default when the caller left the
// per-provider deadline unset.
func (o Options) EffectiveTimeout(def time.Duration) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return def
}

// CacheKey builds the provider-cache key for a query under these options
func (o Options) CacheKey(query string) string {
	return fmt.Sprintf("%s|%s", query, o.Fingerprint())
}
