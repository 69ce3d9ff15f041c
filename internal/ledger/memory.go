package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Message is one accepted append, kept for inspection
type Message struct {
	Key        string
	Payload    []byte
	TxID       string
	AppendedAt time.Time
}

// MemoryTopic is the in-process ledger. It backs tests and the one-shot CLI
// path where no broker is configured, and enforces the same size budget a
// real ledger would.
type MemoryTopic struct {
	mu       sync.Mutex
	name     string
	seq      int
	messages []Message
}

// NewMemoryTopic creates an empty in-process topic
func NewMemoryTopic(name string) *MemoryTopic {
	return &MemoryTopic{name: name}
}

// Append accepts a payload within the size budget and returns a local
// transaction id
func (t *MemoryTopic) Append(ctx context.Context, key string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(payload) > MaxMessageSize {
		return "", fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	txID := fmt.Sprintf("local-%06d", t.seq)

	stored := make([]byte, len(payload))
	copy(stored, payload)
	t.messages = append(t.messages, Message{
		Key:        key,
		Payload:    stored,
		TxID:       txID,
		AppendedAt: time.Now().UTC(),
	})
	return txID, nil
}

// Name returns the topic name
func (t *MemoryTopic) Name() string { return t.name }

// Close is a no-op for the in-process topic
func (t *MemoryTopic) Close() error { return nil }

// Messages returns a copy of everything appended so far, in append order
func (t *MemoryTopic) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len reports the number of accepted messages
func (t *MemoryTopic) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
