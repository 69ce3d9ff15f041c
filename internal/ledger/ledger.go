// Package ledger abstracts the append-only topic audit records land on.
package ledger

import (
	"context"
	"errors"
)

// MaxMessageSize is the hard upper bound the ledger enforces on a single
// serialized message. Callers must prune or chunk anything larger.
const MaxMessageSize = 1024

// ErrMessageTooLarge rejects payloads over MaxMessageSize
var ErrMessageTooLarge = errors.New("ledger: message exceeds size budget")

// Topic is a named append-only, size-bounded message stream. Append returns
// the transaction id of the accepted message.
type Topic interface {
	Append(ctx context.Context, key string, payload []byte) (string, error)
	Name() string
	Close() error
}

// IsTooLarge reports whether an append was rejected for exceeding the budget
func IsTooLarge(err error) bool {
	return errors.Is(err, ErrMessageTooLarge)
}
