package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHealthInterval paces the background health probe loop
const DefaultHealthInterval = 30 * time.Second

// CacheFactory builds the cache attached to a newly registered provider
type CacheFactory func(providerName string) Cache

// Registry maps unique provider names to their records. Mutation is
// serialized; lookups take the shared read lock. Registering an existing
// name replaces it (last writer wins) with a fresh cache and metrics.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	log     zerolog.Logger

	cacheFactory CacheFactory

	// Health monitoring
	healthInterval time.Duration
	stopHealth     chan struct{}
	started        bool

	// Invoked outside the registry lock when a probe flips unhealthy
	unhealthyCallback func(name string)
}

// NewRegistry creates an empty registry with in-memory caches by default
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		log:     log.With().Str("component", "registry").Logger(),
		cacheFactory: func(string) Cache {
			return NewMemoryCache(DefaultCacheCapacity, DefaultCacheTTL)
		},
		healthInterval: DefaultHealthInterval,
		stopHealth:     make(chan struct{}),
	}
}

// SetCacheFactory overrides how per-provider caches are built. Affects
// registrations made after the call.
func (r *Registry) SetCacheFactory(factory CacheFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if factory != nil {
		r.cacheFactory = factory
	}
}

// SetHealthInterval configures probe frequency for the background loop
func (r *Registry) SetHealthInterval(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if interval > 0 {
		r.healthInterval = interval
	}
}

// SetUnhealthyCallback registers a hook fired when a background probe fails
func (r *Registry) SetUnhealthyCallback(cb func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhealthyCallback = cb
}

// Register adds a provider under its name, replacing any previous holder
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("cannot register nil provider")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider must have a non-empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; exists {
		r.log.Warn().Str("provider", name).Msg("replacing registered provider")
	}
	r.records[name] = NewRecord(p, r.cacheFactory(name), r.log)

	r.log.Info().
		Str("provider", name).
		Float64("weight", p.Weight()).
		Float64("reliability", p.Reliability()).
		Msg("provider registered")

	return nil
}

// Unregister removes a provider and reports whether it existed
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; !exists {
		return false
	}
	delete(r.records, name)
	r.log.Info().Str("provider", name).Msg("provider unregistered")
	return true
}

// Get returns the record for a name
func (r *Registry) Get(name string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	return rec, ok
}

// All returns every record sorted by name
func (r *Registry) All() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name() < records[j].Name() })
	return records
}

// Names returns the registered names sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Weights returns the static vote weight per registered provider
func (r *Registry) Weights() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	weights := make(map[string]float64, len(r.records))
	for name, rec := range r.records {
		weights[name] = rec.Weight()
	}
	return weights
}

// HealthCheckAll probes every provider concurrently and returns the outcome
// per name. Probe results land in each record's metrics.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	records := r.All()

	type outcome struct {
		name    string
		healthy bool
	}

	results := make(chan outcome, len(records))
	var wg sync.WaitGroup
	for _, rec := range records {
		wg.Add(1)
		go func(rec *Record) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			results <- outcome{name: rec.Name(), healthy: rec.Health(probeCtx)}
		}(rec)
	}
	wg.Wait()
	close(results)

	health := make(map[string]bool, len(records))
	for res := range results {
		health[res.name] = res.healthy
	}
	return health
}

// Start launches the periodic health loop. Idempotent.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	interval := r.healthInterval
	stop := r.stopHealth
	r.mu.Unlock()

	go r.runHealthLoop(interval, stop)
	r.log.Info().Dur("interval", interval).Msg("health loop started")
}

// Stop halts the health loop. Idempotent.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}
	r.started = false
	close(r.stopHealth)
	r.stopHealth = make(chan struct{})
}

func (r *Registry) runHealthLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.probeAll()
		case <-stop:
			return
		}
	}
}

func (r *Registry) probeAll() {
	health := r.HealthCheckAll(context.Background())

	r.mu.RLock()
	cb := r.unhealthyCallback
	r.mu.RUnlock()

	for name, healthy := range health {
		if !healthy {
			r.log.Warn().Str("provider", name).Msg("provider unhealthy")
			if cb != nil {
				cb(name)
			}
		}
	}
}
