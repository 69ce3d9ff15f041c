package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratoquery/oracle/internal/audit"
	"github.com/stratoquery/oracle/internal/consensus"
	"github.com/stratoquery/oracle/internal/domain"
	"github.com/stratoquery/oracle/internal/fanout"
	"github.com/stratoquery/oracle/internal/ledger"
	"github.com/stratoquery/oracle/internal/provider"
	"github.com/stratoquery/oracle/internal/telemetry"
)

type stubProvider struct {
	name       string
	weight     float64
	value      domain.Value
	confidence float64
	err        error
	delay      time.Duration
	fetches    atomic.Int64
}

func (s *stubProvider) Name() string                          { return s.name }
func (s *stubProvider) Weight() float64                       { return s.weight }
func (s *stubProvider) Reliability() float64                  { return 0.9 }
func (s *stubProvider) LatencyEstimate() time.Duration        { return 50 * time.Millisecond }
func (s *stubProvider) HealthCheck(ctx context.Context) error { return nil }
func (s *stubProvider) CalculateConfidence(domain.Value) float64 {
	return s.confidence
}

func (s *stubProvider) Fetch(ctx context.Context, query string) (domain.Value, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.Value{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.Value{}, s.err
	}
	return s.value, nil
}

func numStub(name string, weight, value float64) *stubProvider {
	return &stubProvider{name: name, weight: weight, value: domain.NumberValue(value), confidence: 0.9}
}

func textStub(name string, text string) *stubProvider {
	return &stubProvider{name: name, weight: 0.8, value: domain.TextValue(text), confidence: 0.9}
}

type fixture struct {
	router *Router
	topic  *ledger.MemoryTopic
	hub    *telemetry.Hub
}

func newFixture(t *testing.T, minResponses int, cfg Config, auditCfg audit.Config, providers ...provider.Provider) *fixture {
	t.Helper()
	log := zerolog.Nop()

	reg := provider.NewRegistry(log)
	for _, p := range providers {
		require.NoError(t, reg.Register(p))
	}

	topic := ledger.NewMemoryTopic("audit")
	auditor, err := audit.NewLogger(topic, auditCfg, nil, nil, log)
	require.NoError(t, err)

	hub := telemetry.NewHub()
	r, err := New(cfg, Deps{
		Registry:  reg,
		Fanout:    fanout.NewEngine(2*time.Second, log),
		Consensus: consensus.NewEngine(minResponses, consensus.DefaultOutlierThreshold, log),
		Audit:     auditor,
		Prefilter: NewKeywordPrefilter(),
		Hub:       hub,
		Logger:    log,
	})
	require.NoError(t, err)
	return &fixture{router: r, topic: topic, hub: hub}
}

func TestQuery_MedianPipeline(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.8, 42000),
		numStub("chainlink", 0.9, 42100),
		numStub("dia", 0.7, 42200),
	)
	defer f.router.Close()

	result, err := f.router.Query(context.Background(), "bitcoin price in usd", domain.Options{})
	require.NoError(t, err)

	val, ok := result.Value.Number()
	require.True(t, ok)
	assert.Equal(t, 42100.0, val)
	assert.Equal(t, domain.MethodMedian, result.Method)
	assert.ElementsMatch(t, []string{"coingecko", "chainlink", "dia"}, result.Sources)
	assert.GreaterOrEqual(t, result.Confidence, 0.5)
	assert.Len(t, result.RawResponses, 3)

	require.Eventually(t, func() bool { return f.topic.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestQuery_AuditRecordShape(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.8, 100),
		numStub("dia", 0.7, 100),
	)
	defer f.router.Close()

	_, err := f.router.Query(context.Background(), "btc price", domain.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.topic.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(f.topic.Messages()[0].Payload, &got))
	assert.Equal(t, "btc price", got["query"])
	assert.NotEmpty(t, got["queryId"])
	assert.NotEmpty(t, got["hcsTimestamp"])

	result := got["result"].(map[string]interface{})
	assert.Equal(t, 100.0, result["value"])
	assert.Equal(t, "median", result["method"])
}

func TestQuery_ConversationalShortCircuit(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.8, 42000),
		numStub("dia", 0.7, 42100),
	)
	defer f.router.Close()

	result, err := f.router.Query(context.Background(), "hello", domain.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"conversational"}, result.Sources)
	assert.Equal(t, 0.95, result.Confidence)
	assert.Equal(t, domain.MethodMedian, result.Method)
	text, ok := result.Value.Text()
	require.True(t, ok)
	assert.NotEmpty(t, text)

	// Short-circuit path never queues an audit record.
	assert.Equal(t, 0, f.topic.Len())
}

func TestQuery_InsufficientProviders(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.8, 42000),
	)
	defer f.router.Close()

	// Weather eligibility only admits the weather provider, which is
	// not registered.
	_, err := f.router.Query(context.Background(), "weather in tokyo", domain.Options{})
	require.Error(t, err)
	assert.True(t, domain.IsFailure(err, domain.FailInsufficientProviders))
	assert.Equal(t, 0, f.topic.Len())
}

func TestQuery_InsufficientResponses(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.8, 42000),
		&stubProvider{name: "dia", weight: 0.7, err: errors.New("upstream down")},
		&stubProvider{name: "chainlink", weight: 0.9, err: errors.New("upstream down")},
	)
	defer f.router.Close()

	_, err := f.router.Query(context.Background(), "bitcoin price", domain.Options{})
	require.Error(t, err)
	assert.True(t, domain.IsFailure(err, domain.FailInsufficientResponses))

	var qerr *domain.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Len(t, qerr.RawResponses, 1)
	assert.Equal(t, 0, f.topic.Len())
}

func TestQuery_SourcesOverride(t *testing.T) {
	a := numStub("alpha", 0.8, 10)
	b := numStub("beta", 0.8, 10)
	c := numStub("gamma", 0.8, 10)
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1}, a, b, c)
	defer f.router.Close()

	result, err := f.router.Query(context.Background(), "unclassifiable gibberish", domain.Options{
		Sources: []string{"alpha", "beta", "unknown"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"alpha", "beta"}, result.Sources)
	assert.EqualValues(t, 0, c.fetches.Load())
	assert.EqualValues(t, 1, a.fetches.Load())
	assert.EqualValues(t, 1, b.fetches.Load())
}

func TestQuery_CustomTypeFansOutToAllRegistered(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		textStub("alpha", "ok"),
		textStub("beta", "ok"),
	)
	defer f.router.Close()

	result, err := f.router.Query(context.Background(), "unclassifiable gibberish", domain.Options{})
	require.NoError(t, err)

	text, ok := result.Value.Text()
	require.True(t, ok)
	assert.Equal(t, "ok", text)
	assert.Equal(t, domain.MethodMajorityVote, result.Method)
	assert.Len(t, result.Sources, 2)
}

func TestQuery_WeightedAverage(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.7, 40000),
		numStub("chainlink", 0.8, 42000),
		numStub("dia", 0.9, 44000),
	)
	defer f.router.Close()

	result, err := f.router.Query(context.Background(), "bitcoin price", domain.Options{
		ConsensusMethod: domain.MethodWeightedAverage,
	})
	require.NoError(t, err)

	val, ok := result.Value.Number()
	require.True(t, ok)
	assert.InDelta(t, 42166.67, val, 0.01)
	assert.Equal(t, domain.MethodWeightedAverage, result.Method)
}

func TestQuery_TimeoutIsolation(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		&stubProvider{name: "coingecko", weight: 0.8, value: domain.NumberValue(42000), confidence: 0.9, delay: 2 * time.Second},
		numStub("chainlink", 0.9, 42100),
		numStub("dia", 0.7, 42200),
	)
	defer f.router.Close()

	start := time.Now()
	result, err := f.router.Query(context.Background(), "bitcoin price", domain.Options{
		Timeout: 150 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chainlink", "dia"}, result.Sources)
	assert.Less(t, elapsed, time.Second)
}

func TestQuery_CancelledContext(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.8, 42000),
		numStub("dia", 0.7, 42100),
	)
	defer f.router.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.router.Query(ctx, "bitcoin price", domain.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.topic.Len())
}

func TestQuery_DefaultMethodFromConfig(t *testing.T) {
	f := newFixture(t, 2, Config{DefaultMethod: domain.MethodWeightedAverage}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.8, 100),
		numStub("dia", 0.8, 200),
	)
	defer f.router.Close()

	result, err := f.router.Query(context.Background(), "bitcoin price", domain.Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.MethodWeightedAverage, result.Method)
}

func TestQuery_EmitsCompletionEvent(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1},
		numStub("coingecko", 0.8, 100),
		numStub("dia", 0.8, 100),
	)
	defer f.router.Close()

	events, cancel := f.hub.Subscribe(8)
	defer cancel()

	_, err := f.router.Query(context.Background(), "bitcoin price", domain.Options{})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, telemetry.EventQueryCompleted, ev.Kind)
		assert.NotEmpty(t, ev.Fields["queryId"])
	case <-time.After(time.Second):
		t.Fatal("expected a query_completed event")
	}
}

func TestRouter_ProviderManagement(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 1})
	defer f.router.Close()

	require.NoError(t, f.router.RegisterProvider(numStub("alpha", 0.8, 1)))
	require.NoError(t, f.router.RegisterProvider(numStub("beta", 0.9, 2)))

	rec, ok := f.router.Provider("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", rec.Name())

	all := f.router.Providers()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name())
	assert.Equal(t, "beta", all[1].Name())

	health := f.router.HealthCheckAll(context.Background())
	assert.True(t, health["alpha"])
	assert.True(t, health["beta"])

	assert.True(t, f.router.UnregisterProvider("alpha"))
	assert.False(t, f.router.UnregisterProvider("alpha"))
}

func TestRouter_CloseFlushesBatchedAudit(t *testing.T) {
	f := newFixture(t, 2, Config{}, audit.Config{BatchSize: 10, BatchWindow: time.Hour},
		numStub("coingecko", 0.8, 100),
		numStub("dia", 0.8, 100),
	)

	_, err := f.router.Query(context.Background(), "bitcoin price", domain.Options{})
	require.NoError(t, err)

	// The audit submission is asynchronous; wait for it to land in the
	// batch queue, then close.
	require.Eventually(t, func() bool { return f.router.auditor.Pending() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.router.Close())
	assert.Equal(t, 1, f.topic.Len())

	_, err = f.router.Query(context.Background(), "bitcoin price", domain.Options{})
	assert.Error(t, err)

	require.NoError(t, f.router.Close())
}

func TestNew_Validation(t *testing.T) {
	log := zerolog.Nop()
	reg := provider.NewRegistry(log)
	fan := fanout.NewEngine(time.Second, log)
	cons := consensus.NewEngine(2, 0.3, log)

	_, err := New(Config{}, Deps{Fanout: fan, Consensus: cons, Logger: log})
	assert.Error(t, err)

	_, err = New(Config{}, Deps{Registry: reg, Consensus: cons, Logger: log})
	assert.Error(t, err)

	_, err = New(Config{}, Deps{Registry: reg, Fanout: fan, Logger: log})
	assert.Error(t, err)

	_, err = New(Config{DefaultMethod: "average"}, Deps{Registry: reg, Fanout: fan, Consensus: cons, Logger: log})
	assert.Error(t, err)

	r, err := New(Config{}, Deps{Registry: reg, Fanout: fan, Consensus: cons, Logger: log})
	require.NoError(t, err)
	require.NoError(t, r.Close())
}
