package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig carries broker connection settings for the audit topic
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxAttempts  int
}

// KafkaTopic appends audit messages to a Kafka topic. The broker does not
// hand back per-message ids, so Append synthesizes a transaction id from the
// topic, key and append instant.
type KafkaTopic struct {
	writer *kafka.Writer
	topic  string
	log    zerolog.Logger
	now    func() time.Time
}

// NewKafkaTopic connects a writer to the configured brokers
func NewKafkaTopic(cfg KafkaConfig, log zerolog.Logger) (*KafkaTopic, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka ledger: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka ledger: topic required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	// Audit records must not vanish on a leader failover, so every replica
	// acknowledges the append.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaTopic{
		writer: writer,
		topic:  cfg.Topic,
		log:    log.With().Str("component", "ledger").Str("topic", cfg.Topic).Logger(),
		now:    time.Now,
	}, nil
}

// Append writes one message and returns its synthesized transaction id
func (t *KafkaTopic) Append(ctx context.Context, key string, payload []byte) (string, error) {
	if len(payload) > MaxMessageSize {
		return "", fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "producer", Value: []byte("stratoquery-oracle")},
		},
	}

	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("kafka append: %w", err)
	}

	txID := fmt.Sprintf("%s:%s@%d", t.topic, key, t.now().UnixNano())
	t.log.Debug().Str("tx", txID).Int("bytes", len(payload)).Msg("message appended")
	return txID, nil
}

// Name returns the topic name
func (t *KafkaTopic) Name() string { return t.topic }

// Close flushes and closes the writer
func (t *KafkaTopic) Close() error { return t.writer.Close() }
