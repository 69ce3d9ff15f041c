// Package config loads and validates the oracle's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stratoquery/oracle/internal/domain"
)

// Config is the complete oracle configuration.
type Config struct {
	Oracle    OracleConfig              `yaml:"oracle"`
	Cache     CacheConfig               `yaml:"cache"`
	Audit     AuditConfig               `yaml:"audit"`
	Ledger    LedgerConfig              `yaml:"ledger"`
	Server    ServerConfig              `yaml:"server"`
	Log       LogConfig                 `yaml:"log"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// OracleConfig tunes the query pipeline.
type OracleConfig struct {
	DefaultMethod     string  `yaml:"default_method"`       // consensus method when the caller picks none
	MinResponses      int     `yaml:"min_responses"`        // quorum for consensus
	MaxResponseTimeMS int     `yaml:"max_response_time_ms"` // per-provider fetch deadline
	OutlierThreshold  float64 `yaml:"outlier_threshold"`    // stddev multiplier inside the 3-sigma rule
	HealthIntervalMS  int     `yaml:"health_interval_ms"`   // background probe period, 0 disables
}

// CacheConfig tunes the per-provider response caches.
type CacheConfig struct {
	TTLMS    int         `yaml:"ttl_ms"`   // entry lifetime
	Capacity int         `yaml:"capacity"` // LRU entries per provider
	Redis    RedisConfig `yaml:"redis"`    // shared cache backend
}

// RedisConfig switches provider caches from in-process LRU to Redis.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuditConfig tunes the ledger batcher.
type AuditConfig struct {
	BatchSize     int    `yaml:"batch_size"`      // flush threshold, clamped to [1, 50]
	BatchWindowMS int    `yaml:"batch_window_ms"` // flush deadline after first enqueue
	MaxRetries    int    `yaml:"max_retries"`     // re-queue rounds before a record is dropped
	Oversize      string `yaml:"oversize"`        // prune | chunk
}

// LedgerConfig selects the audit topic backend.
type LedgerConfig struct {
	Backend string   `yaml:"backend"` // memory | kafka
	Topic   string   `yaml:"topic"`
	Brokers []string `yaml:"brokers"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

// LogConfig tunes process logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace | debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

// ProviderConfig overrides one built-in provider. A provider listed here is
// built only when enabled; unlisted built-ins run with their defaults.
type ProviderConfig struct {
	Enabled       bool    `yaml:"enabled"`
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Weight        float64 `yaml:"weight"`
	Reliability   float64 `yaml:"reliability"`
	TimeoutMS     int     `yaml:"timeout_ms"`
	MinIntervalMS int     `yaml:"min_interval_ms"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Oracle.DefaultMethod == "" {
		c.Oracle.DefaultMethod = string(domain.MethodMedian)
	}
	if c.Oracle.MinResponses == 0 {
		c.Oracle.MinResponses = 2
	}
	if c.Oracle.MaxResponseTimeMS == 0 {
		c.Oracle.MaxResponseTimeMS = 10000
	}
	if c.Oracle.OutlierThreshold == 0 {
		c.Oracle.OutlierThreshold = 0.3
	}
	if c.Oracle.HealthIntervalMS == 0 {
		c.Oracle.HealthIntervalMS = 30000
	}

	if c.Cache.TTLMS == 0 {
		c.Cache.TTLMS = 60000
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 100
	}

	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 10
	}
	if c.Audit.BatchSize < 1 {
		c.Audit.BatchSize = 1
	}
	if c.Audit.BatchSize > 50 {
		c.Audit.BatchSize = 50
	}
	if c.Audit.BatchWindowMS == 0 {
		c.Audit.BatchWindowMS = 5000
	}
	if c.Audit.MaxRetries == 0 {
		c.Audit.MaxRetries = 3
	}
	if c.Audit.Oversize == "" {
		c.Audit.Oversize = "prune"
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "memory"
	}
	if c.Ledger.Topic == "" {
		c.Ledger.Topic = "oracle-audit"
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = 15000
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = 30000
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate ensures the configuration is consistent.
func (c *Config) Validate() error {
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	for name, pc := range c.Providers {
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the pipeline section.
func (o OracleConfig) Validate() error {
	if _, err := domain.ParseMethod(o.DefaultMethod); err != nil {
		return fmt.Errorf("default_method %q is not a consensus method", o.DefaultMethod)
	}
	if o.MinResponses < 1 {
		return fmt.Errorf("min_responses must be >= 1, got %d", o.MinResponses)
	}
	if o.MaxResponseTimeMS <= 0 {
		return fmt.Errorf("max_response_time_ms must be positive, got %d", o.MaxResponseTimeMS)
	}
	if o.OutlierThreshold <= 0 {
		return fmt.Errorf("outlier_threshold must be positive, got %f", o.OutlierThreshold)
	}
	if o.HealthIntervalMS < 0 {
		return fmt.Errorf("health_interval_ms cannot be negative, got %d", o.HealthIntervalMS)
	}
	return nil
}

// Validate checks the cache section.
func (c CacheConfig) Validate() error {
	if c.TTLMS <= 0 {
		return fmt.Errorf("ttl_ms must be positive, got %d", c.TTLMS)
	}
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be >= 1, got %d", c.Capacity)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled without an addr")
	}
	return nil
}

// Validate checks the audit section.
func (a AuditConfig) Validate() error {
	if a.BatchSize < 1 || a.BatchSize > 50 {
		return fmt.Errorf("batch_size must be in [1, 50], got %d", a.BatchSize)
	}
	if a.BatchWindowMS <= 0 {
		return fmt.Errorf("batch_window_ms must be positive, got %d", a.BatchWindowMS)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}
	if a.Oversize != "prune" && a.Oversize != "chunk" {
		return fmt.Errorf("oversize must be prune or chunk, got %q", a.Oversize)
	}
	return nil
}

// Validate checks the ledger section.
func (l LedgerConfig) Validate() error {
	switch l.Backend {
	case "memory":
	case "kafka":
		if len(l.Brokers) == 0 {
			return fmt.Errorf("kafka backend requires brokers")
		}
	default:
		return fmt.Errorf("backend must be memory or kafka, got %q", l.Backend)
	}
	if l.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	return nil
}

// Validate checks the server section.
func (s ServerConfig) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("listen cannot be empty")
	}
	if s.ReadTimeoutMS <= 0 || s.WriteTimeoutMS <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// Validate checks the log section.
func (l LogConfig) Validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch l.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	return nil
}

// Validate checks one provider override.
func (p ProviderConfig) Validate() error {
	if p.Weight < 0 || p.Weight > 1 {
		return fmt.Errorf("weight must be in [0, 1], got %f", p.Weight)
	}
	if p.Reliability < 0 || p.Reliability > 1 {
		return fmt.Errorf("reliability must be in [0, 1], got %f", p.Reliability)
	}
	if p.TimeoutMS < 0 {
		return fmt.Errorf("timeout_ms cannot be negative, got %d", p.TimeoutMS)
	}
	if p.MinIntervalMS < 0 {
		return fmt.Errorf("min_interval_ms cannot be negative, got %d", p.MinIntervalMS)
	}
	return nil
}

// ResponseTimeout is the per-provider fetch deadline.
func (o OracleConfig) ResponseTimeout() time.Duration {
	return time.Duration(o.MaxResponseTimeMS) * time.Millisecond
}

// HealthInterval is the background probe period.
func (o OracleConfig) HealthInterval() time.Duration {
	return time.Duration(o.HealthIntervalMS) * time.Millisecond
}

// TTL is the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

// BatchWindow is the audit flush deadline.
func (a AuditConfig) BatchWindow() time.Duration {
	return time.Duration(a.BatchWindowMS) * time.Millisecond
}

// ReadTimeout bounds reading one HTTP request.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout bounds writing one HTTP response.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}
