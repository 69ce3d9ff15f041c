package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// mockProvider is a configurable stand-in for tests across this package
type mockProvider struct {
	name        string
	weight      float64
	reliability float64
	latency     time.Duration

	fetchValue domain.Value
	fetchErr   error
	fetchDelay time.Duration
	healthErr  error
	confidence float64

	fetchCount atomic.Int64
}

func newMockProvider(name string, value domain.Value) *mockProvider {
	return &mockProvider{
		name:        name,
		weight:      0.8,
		reliability: 0.9,
		latency:     50 * time.Millisecond,
		fetchValue:  value,
		confidence:  0.9,
	}
}

func (m *mockProvider) Name() string                   { return m.name }
func (m *mockProvider) Weight() float64                { return m.weight }
func (m *mockProvider) Reliability() float64           { return m.reliability }
func (m *mockProvider) LatencyEstimate() time.Duration { return m.latency }

func (m *mockProvider) Fetch(ctx context.Context, query string) (domain.Value, error) {
	m.fetchCount.Add(1)
	if m.fetchDelay > 0 {
		select {
		case <-time.After(m.fetchDelay):
		case <-ctx.Done():
			return domain.Value{}, ctx.Err()
		}
	}
	if m.fetchErr != nil {
		return domain.Value{}, m.fetchErr
	}
	return m.fetchValue, nil
}

func (m *mockProvider) HealthCheck(ctx context.Context) error { return m.healthErr }

func (m *mockProvider) CalculateConfidence(value domain.Value) float64 { return m.confidence }

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())

	if err := reg.Register(newMockProvider("alpha", domain.NumberValue(1))); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(newMockProvider("beta", domain.NumberValue(2))); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if reg.Len() != 2 {
		t.Errorf("expected 2 providers, got %d", reg.Len())
	}

	rec, ok := reg.Get("alpha")
	if !ok {
		t.Fatal("expected alpha to be registered")
	}
	if rec.Name() != "alpha" {
		t.Errorf("expected record name alpha, got %s", rec.Name())
	}

	if _, ok := reg.Get("gamma"); ok {
		t.Error("expected gamma to be absent")
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	reg := NewRegistry(testLogger())

	if err := reg.Register(nil); err == nil {
		t.Error("expected error registering nil provider")
	}
	if err := reg.Register(newMockProvider("", domain.NumberValue(1))); err == nil {
		t.Error("expected error registering empty name")
	}
}

func TestRegistry_LastWriterWins(t *testing.T) {
	reg := NewRegistry(testLogger())

	first := newMockProvider("alpha", domain.NumberValue(1))
	first.weight = 0.5
	second := newMockProvider("alpha", domain.NumberValue(2))
	second.weight = 0.9

	reg.Register(first)
	rec, _ := reg.Get("alpha")
	rec.Metrics().RecordSuccess(10 * time.Millisecond)

	reg.Register(second)

	if reg.Len() != 1 {
		t.Fatalf("expected replacement, not addition; have %d providers", reg.Len())
	}
	rec, _ = reg.Get("alpha")
	if rec.Weight() != 0.9 {
		t.Errorf("expected replacement weight 0.9, got %f", rec.Weight())
	}
	if rec.Metrics().Snapshot().Total != 0 {
		t.Error("expected replacement to start with fresh metrics")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(newMockProvider("alpha", domain.NumberValue(1)))

	if !reg.Unregister("alpha") {
		t.Error("expected unregister to report removal")
	}
	if reg.Unregister("alpha") {
		t.Error("expected second unregister to report absence")
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry(testLogger())
	for _, name := range []string{"zeta", "alpha", "mu"} {
		reg.Register(newMockProvider(name, domain.NumberValue(1)))
	}

	names := reg.Names()
	want := []string{"alpha", "mu", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected names[%d]=%s, got %s", i, want[i], names[i])
		}
	}
}

func TestRegistry_Weights(t *testing.T) {
	reg := NewRegistry(testLogger())

	a := newMockProvider("alpha", domain.NumberValue(1))
	a.weight = 0.7
	b := newMockProvider("beta", domain.NumberValue(2))
	b.weight = 0.3
	reg.Register(a)
	reg.Register(b)

	weights := reg.Weights()
	if weights["alpha"] != 0.7 || weights["beta"] != 0.3 {
		t.Errorf("unexpected weights: %v", weights)
	}
}

func TestRegistry_HealthCheckAll(t *testing.T) {
	reg := NewRegistry(testLogger())

	healthy := newMockProvider("healthy", domain.NumberValue(1))
	sick := newMockProvider("sick", domain.NumberValue(2))
	sick.healthErr = errors.New("connection refused")
	reg.Register(healthy)
	reg.Register(sick)

	health := reg.HealthCheckAll(context.Background())
	if !health["healthy"] {
		t.Error("expected healthy provider to pass")
	}
	if health["sick"] {
		t.Error("expected sick provider to fail")
	}

	rec, _ := reg.Get("sick")
	if rec.Metrics().Snapshot().LastHealthy {
		t.Error("expected failed probe to be recorded on metrics")
	}
}

func TestRegistry_UnhealthyCallback(t *testing.T) {
	reg := NewRegistry(testLogger())

	sick := newMockProvider("sick", domain.NumberValue(1))
	sick.healthErr = errors.New("down")
	reg.Register(sick)

	var mu sync.Mutex
	var flagged []string
	reg.SetUnhealthyCallback(func(name string) {
		mu.Lock()
		flagged = append(flagged, name)
		mu.Unlock()
	})

	reg.probeAll()

	mu.Lock()
	defer mu.Unlock()
	if len(flagged) != 1 || flagged[0] != "sick" {
		t.Errorf("expected callback for sick provider, got %v", flagged)
	}
}

func TestRegistry_StartStopIdempotent(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.SetHealthInterval(10 * time.Millisecond)

	reg.Start()
	reg.Start()
	reg.Stop()
	reg.Stop()

	// restart must work on the replaced stop channel
	reg.Start()
	reg.Stop()
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			reg.Register(newMockProvider(name, domain.NumberValue(float64(i))))
		}(i)
		go func() {
			defer wg.Done()
			reg.Names()
			reg.Weights()
			reg.Len()
		}()
	}
	wg.Wait()

	if reg.Len() != 10 {
		t.Errorf("expected 10 providers after concurrent registration, got %d", reg.Len())
	}
}
