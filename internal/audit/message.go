package audit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stratoquery/oracle/internal/domain"
	"github.com/stratoquery/oracle/internal/ledger"
)

// Oversize strategies for records exceeding the ledger message budget.
const (
	// OversizePrune drops everything but queryId, value, confidence and
	// sources. Falls back to chunking when even the pruned form is too big.
	OversizePrune = "prune"

	// OversizeChunk splits the full record across ordered chunk messages.
	OversizeChunk = "chunk"
)

// maxChunks caps how many pieces one record may be split into. The chunk
// envelope reserves four digits per counter, so this is also the wire limit.
const maxChunks = 9999

// wireResult is the consensus outcome as persisted on the ledger. Raw
// responses never reach the topic; they stay in process memory only.
type wireResult struct {
	Value      domain.Value `json:"value"`
	Confidence float64      `json:"confidence"`
	Method     string       `json:"method"`
	Sources    []string     `json:"sources"`
	Timestamp  string       `json:"timestamp"`
}

// wireRecord is the full audit message shape.
type wireRecord struct {
	QueryID       string     `json:"queryId"`
	Query         string     `json:"query"`
	Result        wireResult `json:"result"`
	HCSTimestamp  string     `json:"hcsTimestamp"`
	TransactionID string     `json:"transactionId,omitempty"`
}

// prunedResult keeps only the fields the budget-reduced form retains.
type prunedResult struct {
	Value      domain.Value `json:"value"`
	Confidence float64      `json:"confidence"`
	Sources    []string     `json:"sources"`
}

type prunedRecord struct {
	QueryID string       `json:"queryId"`
	Result  prunedResult `json:"result"`
}

// ChunkEnvelope is one piece of a record split across several ledger
// messages. Entries holds base64 segments of the full record's JSON;
// concatenating the entries of all chunks in index order and decoding
// yields the original bytes.
type ChunkEnvelope struct {
	Type        string   `json:"type"`
	ChunkIndex  int      `json:"chunkIndex"`
	TotalChunks int      `json:"totalChunks"`
	QueryID     string   `json:"queryId"`
	Entries     []string `json:"entries"`
}

// marshalWire serializes the full audit record.
func marshalWire(rec domain.AuditRecord) ([]byte, error) {
	w := wireRecord{
		QueryID: rec.QueryID,
		Query:   rec.QueryText,
		Result: wireResult{
			Value:      rec.Result.Value,
			Confidence: rec.Result.Confidence,
			Method:     string(rec.Result.Method),
			Sources:    rec.Result.Sources,
			Timestamp:  rec.Result.Timestamp.UTC().Format(time.RFC3339),
		},
		HCSTimestamp:  rec.SubmittedAt.UTC().Format(time.RFC3339),
		TransactionID: rec.TransactionID,
	}
	return json.Marshal(w)
}

func marshalPruned(rec domain.AuditRecord) ([]byte, error) {
	p := prunedRecord{
		QueryID: rec.QueryID,
		Result: prunedResult{
			Value:      rec.Result.Value,
			Confidence: rec.Result.Confidence,
			Sources:    rec.Result.Sources,
		},
	}
	return json.Marshal(p)
}

// encodePayloads turns one audit record into the ledger messages that carry
// it. Within the budget the record is a single message; beyond it the
// configured oversize strategy applies. Pruning that still exceeds the
// budget falls through to chunking so no record is ever lost to size.
func encodePayloads(rec domain.AuditRecord, oversize string) ([][]byte, error) {
	full, err := marshalWire(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize audit record %s: %w", rec.QueryID, err)
	}
	if len(full) <= ledger.MaxMessageSize {
		return [][]byte{full}, nil
	}

	if oversize == OversizePrune {
		pruned, err := marshalPruned(rec)
		if err == nil && len(pruned) <= ledger.MaxMessageSize {
			return [][]byte{pruned}, nil
		}
	}

	return chunkPayloads(rec.QueryID, full)
}

// chunkCapacity computes how many base64 characters fit in one chunk
// message once the envelope itself is accounted for. The probe uses
// four-digit counters so capacity never depends on the actual totals.
func chunkCapacity(queryID string) int {
	probe := ChunkEnvelope{
		Type:        "chunk",
		ChunkIndex:  maxChunks,
		TotalChunks: maxChunks,
		QueryID:     queryID,
		Entries:     []string{""},
	}
	b, err := json.Marshal(probe)
	if err != nil {
		return 0
	}
	return ledger.MaxMessageSize - len(b)
}

func chunkPayloads(queryID string, full []byte) ([][]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(full)
	capacity := chunkCapacity(queryID)
	if capacity < 1 {
		return nil, fmt.Errorf("query id %q leaves no room for chunk payload", queryID)
	}

	total := (len(encoded) + capacity - 1) / capacity
	if total > maxChunks {
		return nil, fmt.Errorf("audit record %s needs %d chunks, limit is %d", queryID, total, maxChunks)
	}

	payloads := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * capacity
		end := start + capacity
		if end > len(encoded) {
			end = len(encoded)
		}
		env := ChunkEnvelope{
			Type:        "chunk",
			ChunkIndex:  i,
			TotalChunks: total,
			QueryID:     queryID,
			Entries:     []string{encoded[start:end]},
		}
		b, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize chunk %d of %s: %w", i, queryID, err)
		}
		payloads = append(payloads, b)
	}
	return payloads, nil
}

// DecodeChunk reports whether a ledger payload is a chunk envelope and
// returns it when so.
func DecodeChunk(payload []byte) (ChunkEnvelope, bool) {
	var env ChunkEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ChunkEnvelope{}, false
	}
	if env.Type != "chunk" {
		return ChunkEnvelope{}, false
	}
	return env, true
}

// Reassemble restores the original record bytes from its chunk envelopes.
// Chunks may arrive in any order; they are sorted by index here.
func Reassemble(chunks []ChunkEnvelope) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to reassemble")
	}

	sorted := make([]ChunkEnvelope, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })

	total := sorted[0].TotalChunks
	if len(sorted) != total {
		return nil, fmt.Errorf("have %d chunks of %d for query %s", len(sorted), total, sorted[0].QueryID)
	}

	var encoded strings.Builder
	for i, c := range sorted {
		if c.ChunkIndex != i {
			return nil, fmt.Errorf("missing chunk %d for query %s", i, c.QueryID)
		}
		if c.TotalChunks != total || c.QueryID != sorted[0].QueryID {
			return nil, fmt.Errorf("chunk %d does not belong to query %s", c.ChunkIndex, sorted[0].QueryID)
		}
		for _, e := range c.Entries {
			encoded.WriteString(e)
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		return nil, fmt.Errorf("failed to decode reassembled record: %w", err)
	}
	return decoded, nil
}
