package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "median", cfg.Oracle.DefaultMethod)
	assert.Equal(t, 2, cfg.Oracle.MinResponses)
	assert.Equal(t, 10*time.Second, cfg.Oracle.ResponseTimeout())
	assert.Equal(t, 0.3, cfg.Oracle.OutlierThreshold)

	assert.Equal(t, time.Minute, cfg.Cache.TTL())
	assert.Equal(t, 100, cfg.Cache.Capacity)

	assert.Equal(t, 10, cfg.Audit.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Audit.BatchWindow())
	assert.Equal(t, 3, cfg.Audit.MaxRetries)
	assert.Equal(t, "prune", cfg.Audit.Oversize)

	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Equal(t, "oracle-audit", cfg.Ledger.Topic)
	assert.Equal(t, ":8080", cfg.Server.Listen)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
oracle:
  default_method: weighted_average
  min_responses: 3
  max_response_time_ms: 5000
  outlier_threshold: 0.5
cache:
  ttl_ms: 30000
  capacity: 50
audit:
  batch_size: 20
  batch_window_ms: 2000
  oversize: chunk
ledger:
  backend: kafka
  topic: audit-prod
  brokers: ["kafka-1:9092", "kafka-2:9092"]
server:
  listen: ":9090"
providers:
  coingecko:
    enabled: true
    weight: 0.85
    min_interval_ms: 3000
  nasa:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "weighted_average", cfg.Oracle.DefaultMethod)
	assert.Equal(t, 3, cfg.Oracle.MinResponses)
	assert.Equal(t, 5*time.Second, cfg.Oracle.ResponseTimeout())
	assert.Equal(t, 0.5, cfg.Oracle.OutlierThreshold)

	assert.Equal(t, 30*time.Second, cfg.Cache.TTL())
	assert.Equal(t, 50, cfg.Cache.Capacity)

	assert.Equal(t, 20, cfg.Audit.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Audit.BatchWindow())
	assert.Equal(t, "chunk", cfg.Audit.Oversize)

	assert.Equal(t, "kafka", cfg.Ledger.Backend)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Ledger.Brokers)

	assert.Equal(t, ":9090", cfg.Server.Listen)

	require.Contains(t, cfg.Providers, "coingecko")
	assert.True(t, cfg.Providers["coingecko"].Enabled)
	assert.Equal(t, 0.85, cfg.Providers["coingecko"].Weight)
	assert.Equal(t, 3000, cfg.Providers["coingecko"].MinIntervalMS)
	assert.False(t, cfg.Providers["nasa"].Enabled)

	// Fields the file leaves unset still take defaults.
	assert.Equal(t, 3, cfg.Audit.MaxRetries)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout())
}

func TestLoad_BatchSizeClamped(t *testing.T) {
	cfg, err := Load(writeConfig(t, "audit:\n  batch_size: 500\n"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Audit.BatchSize)

	cfg, err = Load(writeConfig(t, "audit:\n  batch_size: -3\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Audit.BatchSize)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad method", "oracle:\n  default_method: average\n"},
		{"bad min responses", "oracle:\n  min_responses: -1\n"},
		{"bad outlier threshold", "oracle:\n  outlier_threshold: -0.5\n"},
		{"bad oversize", "audit:\n  oversize: truncate\n"},
		{"kafka without brokers", "ledger:\n  backend: kafka\n"},
		{"unknown ledger backend", "ledger:\n  backend: hedera\n"},
		{"redis without addr", "cache:\n  redis:\n    enabled: true\n"},
		{"provider weight out of range", "providers:\n  coingecko:\n    weight: 1.5\n"},
		{"unknown log level", "log:\n  level: loud\n"},
		{"unknown log format", "log:\n  format: xml\n"},
		{"malformed yaml", "oracle: [broken\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
