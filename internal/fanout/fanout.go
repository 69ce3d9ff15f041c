// Package fanout dispatches one query to many providers concurrently and
// collects whatever came back in time.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stratoquery/oracle/internal/domain"
	"github.com/stratoquery/oracle/internal/provider"
)

// DefaultTimeout bounds a provider fetch when the caller did not say
const DefaultTimeout = 10 * time.Second

// Engine runs the concurrent fetch phase. Stateless apart from configuration;
// safe for concurrent use.
type Engine struct {
	timeout time.Duration
	log     zerolog.Logger
}

// NewEngine builds a fanout engine with the given default per-provider timeout
func NewEngine(timeout time.Duration, log zerolog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		timeout: timeout,
		log:     log.With().Str("component", "fanout").Logger(),
	}
}

// Fetch queries every record concurrently, each under an independent deadline,
// and returns the successful responses. It waits for all fetches to conclude;
// there is no first-k early return. Fanout itself never fails: fetch errors
// land in provider metrics and the response is simply absent. Response order
// is not guaranteed.
func (e *Engine) Fetch(ctx context.Context, records []*provider.Record, query string, opts domain.Options) []domain.Response {
	if len(records) == 0 {
		return nil
	}

	timeout := opts.EffectiveTimeout(e.timeout)

	var (
		mu        sync.Mutex
		responses []domain.Response
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			resp, err := rec.Execute(fetchCtx, query, opts)
			if err != nil {
				// counted in the provider's metrics already
				e.log.Debug().Err(err).Str("provider", rec.Name()).Msg("fetch dropped")
				return nil
			}

			mu.Lock()
			responses = append(responses, *resp)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	e.log.Debug().
		Int("providers", len(records)).
		Int("responses", len(responses)).
		Str("query", query).
		Msg("fanout complete")

	return responses
}
