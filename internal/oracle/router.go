// Package oracle wires the query pipeline together: classify, fan out,
// reconcile, audit.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/audit"
	"github.com/stratoquery/oracle/internal/consensus"
	"github.com/stratoquery/oracle/internal/domain"
	"github.com/stratoquery/oracle/internal/fanout"
	"github.com/stratoquery/oracle/internal/provider"
	"github.com/stratoquery/oracle/internal/telemetry"
)

// auditTimeout bounds one background audit submission.
const auditTimeout = 30 * time.Second

// eligibleByType is the fixed QueryType to provider-name table. Custom is
// absent on purpose: it fans out to every registered provider.
var eligibleByType = map[domain.QueryType][]string{
	domain.QueryPriceFeed:    {"chainlink", "coingecko", "dia"},
	domain.QueryExchangeRate: {"exchangerate"},
	domain.QueryWeather:      {"weather"},
	domain.QueryKnowledge:    {"wikipedia"},
	domain.QueryNewsSearch:   {"duckduckgo"},
	domain.QuerySpaceData:    {"nasa"},
}

// Config holds the router-level knobs.
type Config struct {
	// DefaultMethod applies when the caller does not pick a consensus
	// method. Empty means median.
	DefaultMethod domain.ConsensusMethod
}

// Deps are the collaborators a router composes. Registry, Fanout and
// Consensus are required; the rest may be nil.
type Deps struct {
	Registry  *provider.Registry
	Fanout    *fanout.Engine
	Consensus *consensus.Engine
	Audit     *audit.Logger
	Prefilter Prefilter
	Hub       *telemetry.Hub
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
}

// Router is the public entry point of the oracle. One instance serves many
// concurrent Query calls over a shared registry and audit logger.
type Router struct {
	registry  *provider.Registry
	fanout    *fanout.Engine
	consensus *consensus.Engine
	auditor   *audit.Logger
	prefilter Prefilter
	hub       *telemetry.Hub
	metrics   *telemetry.Metrics
	method    domain.ConsensusMethod
	log       zerolog.Logger

	mu     sync.Mutex
	closed bool

	// Tracks background audit submissions so Close can wait for them.
	auditWG sync.WaitGroup
}

// New builds a router from its collaborators.
func New(cfg Config, deps Deps) (*Router, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("router requires a provider registry")
	}
	if deps.Fanout == nil {
		return nil, fmt.Errorf("router requires a fanout engine")
	}
	if deps.Consensus == nil {
		return nil, fmt.Errorf("router requires a consensus engine")
	}

	method := cfg.DefaultMethod
	if method == "" {
		method = domain.MethodMedian
	}
	if _, err := domain.ParseMethod(string(method)); err != nil {
		return nil, fmt.Errorf("invalid default consensus method %q", method)
	}

	return &Router{
		registry:  deps.Registry,
		fanout:    deps.Fanout,
		consensus: deps.Consensus,
		auditor:   deps.Audit,
		prefilter: deps.Prefilter,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		method:    method,
		log:       deps.Logger.With().Str("component", "router").Logger(),
	}, nil
}

// Query classifies the text, fans it out to the eligible providers and
// reconciles their responses into one consensus result. The audit record is
// submitted in the background; its failure never affects the returned result.
func (r *Router) Query(ctx context.Context, text string, opts domain.Options) (*domain.ConsensusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("router is closed")
	}

	method := opts.ConsensusMethod
	if method == "" {
		method = r.method
	}

	if r.prefilter != nil {
		if reply, ok := r.prefilter.Conversational(text); ok {
			if r.metrics != nil {
				r.metrics.QueriesTotal.WithLabelValues("conversational", string(method)).Inc()
			}
			return &domain.ConsensusResult{
				Value:      domain.TextValue(reply),
				Confidence: 0.95,
				Method:     method,
				Sources:    []string{"conversational"},
				Timestamp:  time.Now().UTC(),
			}, nil
		}
	}

	queryID := uuid.NewString()
	qlog := r.log.With().Str("query_id", queryID).Logger()

	var timer *telemetry.QueryTimer
	if r.metrics != nil {
		timer = r.metrics.StartQueryTimer(string(method))
	}

	qtype := Classify(text)
	records, eligible := r.eligibleRecords(qtype, opts.Sources)
	qlog.Debug().
		Str("type", string(qtype)).
		Strs("eligible", eligible).
		Str("method", string(method)).
		Msg("query classified")

	if min := r.consensus.MinResponses(); len(records) < min {
		err := domain.NewQueryError(domain.FailInsufficientProviders,
			"%d eligible providers for %s query, need at least %d", len(records), qtype, min)
		r.finishFailed(timer, qlog, queryID, err)
		return nil, err
	}

	responses := r.fanout.Fetch(ctx, records, text, opts)
	r.recordFetchOutcomes(eligible, responses)

	result, err := r.consensus.Reconcile(responses, method, r.registry.Weights())
	if err != nil {
		r.finishFailed(timer, qlog, queryID, err)
		return nil, err
	}

	if timer != nil {
		timer.Stop("success")
	}
	qlog.Info().
		Str("value", result.Value.String()).
		Float64("confidence", result.Confidence).
		Str("method", string(result.Method)).
		Strs("sources", result.Sources).
		Msg("consensus reached")
	r.hub.Emit(telemetry.EventQueryCompleted, map[string]interface{}{
		"queryId":    queryID,
		"method":     string(result.Method),
		"confidence": result.Confidence,
		"sources":    result.Sources,
	})

	// A cancelled query must not reach the ledger.
	if r.auditor != nil && ctx.Err() == nil {
		r.submitAudit(qlog, domain.AuditRecord{
			QueryID:     queryID,
			QueryText:   text,
			Result:      *result,
			SubmittedAt: time.Now().UTC(),
		})
	}

	return result, nil
}

func (r *Router) finishFailed(timer *telemetry.QueryTimer, qlog zerolog.Logger, queryID string, err error) {
	kind := string(domain.FailureKindOf(err))
	if timer != nil {
		timer.Stop(kind)
	}
	qlog.Warn().Err(err).Str("kind", kind).Msg("query failed")
	r.hub.Emit(telemetry.EventQueryFailed, map[string]interface{}{
		"queryId": queryID,
		"kind":    kind,
	})
}

// recordFetchOutcomes mirrors per-provider outcomes into Prometheus. A
// provider absent from the responses either failed or timed out; its exact
// failure kind lives in the provider's own metrics.
func (r *Router) recordFetchOutcomes(eligible []string, responses []domain.Response) {
	if r.metrics == nil {
		return
	}
	succeeded := make(map[string]domain.Response, len(responses))
	for _, resp := range responses {
		succeeded[resp.Source] = resp
	}
	for _, name := range eligible {
		if resp, ok := succeeded[name]; ok {
			r.metrics.RecordProviderFetch(name, "success", float64(resp.LatencyMS))
		} else {
			r.metrics.RecordProviderFetch(name, "error", 0)
		}
	}
}

func (r *Router) submitAudit(qlog zerolog.Logger, rec domain.AuditRecord) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.auditWG.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.auditWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if _, err := r.auditor.Submit(ctx, rec); err != nil {
			qlog.Error().Err(err).Msg("audit submission failed")
			return
		}
		qlog.Debug().Msg("audit record submitted")
	}()
}

// eligibleRecords resolves the provider set for a query type. An explicit
// caller override replaces the table and is intersected with the registered
// names either way.
func (r *Router) eligibleRecords(qtype domain.QueryType, override []string) ([]*provider.Record, []string) {
	var names []string
	switch {
	case len(override) > 0:
		names = override
	case qtype == domain.QueryCustom:
		names = r.registry.Names()
	default:
		names = eligibleByType[qtype]
	}

	records := make([]*provider.Record, 0, len(names))
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if rec, ok := r.registry.Get(name); ok {
			records = append(records, rec)
			kept = append(kept, name)
		}
	}
	return records, kept
}

// RegisterProvider adds a provider to the shared registry.
func (r *Router) RegisterProvider(p provider.Provider) error {
	return r.registry.Register(p)
}

// UnregisterProvider removes a provider and reports whether it existed.
func (r *Router) UnregisterProvider(name string) bool {
	return r.registry.Unregister(name)
}

// Provider returns the live record for a registered name.
func (r *Router) Provider(name string) (*provider.Record, bool) {
	return r.registry.Get(name)
}

// Providers returns every registered record sorted by name.
func (r *Router) Providers() []*provider.Record {
	return r.registry.All()
}

// HealthCheckAll probes every registered provider.
func (r *Router) HealthCheckAll(ctx context.Context) map[string]bool {
	return r.registry.HealthCheckAll(ctx)
}

// Close stops accepting queries, waits for in-flight audit submissions and
// flushes the audit logger.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.registry.Stop()
	r.auditWG.Wait()
	if r.auditor != nil {
		return r.auditor.Close()
	}
	return nil
}
