package main

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/stratoquery/oracle/internal/audit"
	"github.com/stratoquery/oracle/internal/config"
	"github.com/stratoquery/oracle/internal/consensus"
	"github.com/stratoquery/oracle/internal/domain"
	"github.com/stratoquery/oracle/internal/fanout"
	"github.com/stratoquery/oracle/internal/ledger"
	"github.com/stratoquery/oracle/internal/oracle"
	"github.com/stratoquery/oracle/internal/provider"
	"github.com/stratoquery/oracle/internal/telemetry"
)

// app bundles the wired oracle with the infrastructure it owns. close tears
// everything down in dependency order: the router first so the audit queue
// drains before the topic goes away.
type app struct {
	cfg      *config.Config
	router   *oracle.Router
	registry *provider.Registry
	metrics  *telemetry.Metrics
	hub      *telemetry.Hub
	topic    ledger.Topic
	redis    *redis.Client
	log      zerolog.Logger
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// configureLogging applies the validated log section to the global logger.
// The console format set up in main stays unless the config asks for JSON.
func configureLogging(cfg config.LogConfig) {
	if level, err := zerolog.ParseLevel(cfg.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Format == "json" {
		zlog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// buildApp assembles the full pipeline from configuration. The registry's
// health loop is not started here; long-running commands start it themselves.
func buildApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	metrics := telemetry.NewMetrics(nil)
	hub := telemetry.NewHub()

	topic, err := buildTopic(cfg.Ledger, log)
	if err != nil {
		return nil, err
	}

	auditor, err := audit.NewLogger(topic, audit.Config{
		BatchSize:   cfg.Audit.BatchSize,
		BatchWindow: cfg.Audit.BatchWindow(),
		MaxRetries:  cfg.Audit.MaxRetries,
		Oversize:    cfg.Audit.Oversize,
	}, hub, metrics, log)
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("audit logger: %w", err)
	}

	registry := provider.NewRegistry(log)
	registry.SetHealthInterval(cfg.Oracle.HealthInterval())
	registry.SetUnhealthyCallback(func(name string) {
		hub.Emit(telemetry.EventProviderUnhealthy, map[string]interface{}{"provider": name})
	})

	var redisClient *redis.Client
	if cfg.Cache.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		ttl := cfg.Cache.TTL()
		registry.SetCacheFactory(func(name string) provider.Cache {
			return provider.NewRedisCache(redisClient, name, ttl, log)
		})
	} else {
		capacity, ttl := cfg.Cache.Capacity, cfg.Cache.TTL()
		registry.SetCacheFactory(func(string) provider.Cache {
			return provider.NewMemoryCache(capacity, ttl)
		})
	}

	if err := registerProviders(registry, cfg, log); err != nil {
		topic.Close()
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, err
	}

	router, err := oracle.New(oracle.Config{
		DefaultMethod: domain.ConsensusMethod(cfg.Oracle.DefaultMethod),
	}, oracle.Deps{
		Registry:  registry,
		Fanout:    fanout.NewEngine(cfg.Oracle.ResponseTimeout(), log),
		Consensus: consensus.NewEngine(cfg.Oracle.MinResponses, cfg.Oracle.OutlierThreshold, log),
		Audit:     auditor,
		Prefilter: oracle.NewKeywordPrefilter(),
		Hub:       hub,
		Metrics:   metrics,
		Logger:    log,
	})
	if err != nil {
		topic.Close()
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, err
	}

	return &app{
		cfg:      cfg,
		router:   router,
		registry: registry,
		metrics:  metrics,
		hub:      hub,
		topic:    topic,
		redis:    redisClient,
		log:      log,
	}, nil
}

func buildTopic(cfg config.LedgerConfig, log zerolog.Logger) (ledger.Topic, error) {
	switch cfg.Backend {
	case "kafka":
		topic, err := ledger.NewKafkaTopic(ledger.KafkaConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("kafka ledger: %w", err)
		}
		return topic, nil
	default:
		return ledger.NewMemoryTopic(cfg.Topic), nil
	}
}

// registerProviders builds every enabled built-in. A provider listed in the
// config with enabled: false is skipped; unlisted built-ins get defaults.
func registerProviders(registry *provider.Registry, cfg *config.Config, log zerolog.Logger) error {
	registered := 0
	for _, name := range provider.BuiltinNames() {
		pcfg, listed := cfg.Providers[name]
		if listed && !pcfg.Enabled {
			log.Debug().Str("provider", name).Msg("provider disabled by config")
			continue
		}

		p, err := provider.Build(name, provider.Config{
			BaseURL:     pcfg.BaseURL,
			APIKey:      pcfg.APIKey,
			Weight:      pcfg.Weight,
			Reliability: pcfg.Reliability,
			Timeout:     time.Duration(pcfg.TimeoutMS) * time.Millisecond,
			MinInterval: time.Duration(pcfg.MinIntervalMS) * time.Millisecond,
		}, log)
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("all providers are disabled; nothing to query")
	}
	return nil
}

func (a *app) close() {
	if err := a.router.Close(); err != nil {
		a.log.Error().Err(err).Msg("Router shutdown error")
	}
	if err := a.topic.Close(); err != nil {
		a.log.Error().Err(err).Msg("Ledger topic close error")
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error().Err(err).Msg("Redis close error")
		}
	}
}
