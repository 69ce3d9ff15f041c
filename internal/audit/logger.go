// Package audit persists post-consensus query records to an append-only
// ledger topic, batching submissions to amortize ledger round-trips.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
	"github.com/stratoquery/oracle/internal/ledger"
	"github.com/stratoquery/oracle/internal/telemetry"
)

const (
	DefaultBatchSize   = 10
	MaxBatchSize       = 50
	DefaultBatchWindow = 5 * time.Second
	DefaultMaxRetries  = 3

	// flushTimeout bounds a single background flush pass.
	flushTimeout = 30 * time.Second

	// closeTimeout bounds the final drain during shutdown.
	closeTimeout = 10 * time.Second
)

// Config controls batching and oversize handling.
type Config struct {
	// BatchSize is the queue length that triggers a flush. 1 disables
	// batching: every record is appended synchronously and the real
	// ledger transaction id is returned.
	BatchSize int

	// BatchWindow is the maximum wait since the first enqueue of the
	// current batch before it is flushed regardless of size.
	BatchWindow time.Duration

	// MaxRetries is how many re-queue rounds a failed entry gets before
	// it is dropped.
	MaxRetries int

	// Oversize selects the strategy for records over the message budget.
	Oversize string
}

func (c Config) normalized() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = DefaultBatchWindow
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Oversize == "" {
		c.Oversize = OversizePrune
	}
	return c
}

// entry is one encoded ledger message waiting in the batch queue.
type entry struct {
	queryID  string
	payload  []byte
	attempts int
}

// Logger appends audit records to a ledger topic. Batched entries are
// flushed when the queue reaches BatchSize or when BatchWindow elapses
// after the first enqueue, whichever comes first. Entries within and
// across batches are appended in enqueue order.
type Logger struct {
	topic   ledger.Topic
	cfg     Config
	hub     *telemetry.Hub
	metrics *telemetry.Metrics
	log     zerolog.Logger

	mu         sync.Mutex
	pending    []entry
	flushTimer *time.Timer
	timerArmed bool
	closed     bool

	// flushMu serializes flush passes so cross-batch append order holds.
	flushMu sync.Mutex

	wg sync.WaitGroup
}

// NewLogger builds an audit logger on top of a ledger topic. hub and
// metrics may be nil.
func NewLogger(topic ledger.Topic, cfg Config, hub *telemetry.Hub, metrics *telemetry.Metrics, log zerolog.Logger) (*Logger, error) {
	if topic == nil {
		return nil, fmt.Errorf("audit logger requires a ledger topic")
	}
	cfg = cfg.normalized()
	if cfg.Oversize != OversizePrune && cfg.Oversize != OversizeChunk {
		return nil, fmt.Errorf("unknown oversize strategy %q", cfg.Oversize)
	}

	return &Logger{
		topic:   topic,
		cfg:     cfg,
		hub:     hub,
		metrics: metrics,
		log:     log.With().Str("component", "audit").Logger(),
	}, nil
}

// Submit records one audit entry. With BatchSize 1 the record is appended
// immediately and the ledger transaction id is returned; otherwise it is
// enqueued and a synthetic "queued:<queryId>" handle comes back.
func (l *Logger) Submit(ctx context.Context, rec domain.AuditRecord) (string, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return "", fmt.Errorf("audit logger is closed")
	}

	payloads, err := encodePayloads(rec, l.cfg.Oversize)
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordAuditSubmission("encode_error")
		}
		return "", err
	}

	if l.cfg.BatchSize == 1 {
		return l.submitNow(ctx, rec.QueryID, payloads)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return "", fmt.Errorf("audit logger is closed")
	}
	for _, p := range payloads {
		l.pending = append(l.pending, entry{queryID: rec.QueryID, payload: p})
	}
	depth := len(l.pending)
	full := depth >= l.cfg.BatchSize
	if !full && !l.timerArmed {
		l.timerArmed = true
		l.flushTimer = time.AfterFunc(l.cfg.BatchWindow, l.timerFire)
	}
	if full {
		// Taken under the lock so Close cannot start waiting between the
		// closed check and this Add.
		l.wg.Add(1)
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetAuditQueueDepth(depth)
	}
	if full {
		go func() {
			defer l.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			l.flushOnce(ctx)
			l.rearmIfPending()
		}()
	}
	return "queued:" + rec.QueryID, nil
}

// submitNow appends every payload of one record in order, synchronously.
// Chunked records return the transaction id of their first chunk.
func (l *Logger) submitNow(ctx context.Context, queryID string, payloads [][]byte) (string, error) {
	var firstTx string
	for i, p := range payloads {
		txID, err := l.topic.Append(ctx, queryID, p)
		if err != nil {
			if l.metrics != nil {
				l.metrics.RecordAuditSubmission("failed")
			}
			return "", fmt.Errorf("failed to append audit record %s: %w", queryID, err)
		}
		if i == 0 {
			firstTx = txID
		}
		if l.metrics != nil {
			l.metrics.RecordAuditSubmission("submitted")
		}
	}
	return firstTx, nil
}

func (l *Logger) timerFire() {
	l.mu.Lock()
	l.timerArmed = false
	skip := l.closed
	l.mu.Unlock()
	if skip {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	l.flushOnce(ctx)
	l.rearmIfPending()
}

// flushOnce drains one snapshot of the queue. On a retryable append
// failure the failed entry and everything behind it go back to the front
// of the queue; entries past their retry budget are dropped with an event.
func (l *Logger) flushOnce(ctx context.Context) {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	if l.timerArmed {
		l.flushTimer.Stop()
		l.timerArmed = false
	}
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	submitted := 0
	for i := 0; i < len(batch); i++ {
		e := batch[i]
		_, err := l.topic.Append(ctx, e.queryID, e.payload)
		if err == nil {
			submitted++
			if l.metrics != nil {
				l.metrics.RecordAuditSubmission("submitted")
			}
			continue
		}

		if ledger.IsTooLarge(err) {
			// Encoder guarantees the budget, so this is unretryable.
			l.drop(e, err)
			continue
		}

		e.attempts++
		if e.attempts > l.cfg.MaxRetries {
			l.drop(e, err)
			continue
		}

		batch[i] = e
		requeued := batch[i:]
		l.mu.Lock()
		l.pending = append(append(make([]entry, 0, len(requeued)+len(l.pending)), requeued...), l.pending...)
		l.mu.Unlock()
		l.log.Warn().Err(err).
			Str("query_id", e.queryID).
			Int("attempt", e.attempts).
			Int("requeued", len(requeued)).
			Msg("audit batch append failed, re-queued for retry")
		break
	}

	if submitted > 0 {
		l.log.Debug().Int("submitted", submitted).Msg("audit batch flushed")
		l.hub.Emit(telemetry.EventAuditFlushed, map[string]interface{}{"count": submitted})
	}
}

func (l *Logger) drop(e entry, err error) {
	l.log.Error().Err(err).
		Str("query_id", e.queryID).
		Int("attempts", e.attempts).
		Msg("audit record dropped after retries exhausted")
	if l.metrics != nil {
		l.metrics.RecordAuditSubmission("dropped")
	}
	l.hub.Emit(telemetry.EventAuditDropped, map[string]interface{}{
		"queryId": e.queryID,
		"error":   err.Error(),
	})
}

func (l *Logger) rearmIfPending() {
	l.mu.Lock()
	depth := len(l.pending)
	if depth > 0 && !l.timerArmed && !l.closed {
		l.timerArmed = true
		l.flushTimer = time.AfterFunc(l.cfg.BatchWindow, l.timerFire)
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetAuditQueueDepth(depth)
	}
}

// Pending reports how many encoded messages wait in the batch queue.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush drains the queue completely. Entries that keep failing consume
// their retry budget and are dropped, so the queue always reaches empty
// unless the context expires first.
func (l *Logger) Flush(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		remaining := len(l.pending)
		l.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		l.flushOnce(ctx)
	}
}

// Close stops the timer, waits for in-flight flushes and drains whatever
// is left in the queue.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.timerArmed {
		l.flushTimer.Stop()
		l.timerArmed = false
	}
	l.mu.Unlock()

	l.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return l.Flush(ctx)
}
