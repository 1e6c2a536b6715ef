// Package runner executes many pipeline runs concurrently. Runs share no
// mutable state; the only shared resources are the LLM backend, guarded by a
// rate limiter, and the optional result store.
package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dshills/panelcheck/internal/pipeline"
	"github.com/dshills/panelcheck/internal/schema"
)

// Batch fans seeds out over concurrent pipeline runs.
type Batch struct {
	Orchestrator *pipeline.Orchestrator

	// Concurrency caps simultaneous runs. Zero or negative means no cap.
	Concurrency int

	// Limiter, when non-nil, paces run starts so a burst of seeds cannot
	// stampede the backend.
	Limiter *rate.Limiter
}

// Run executes one pipeline run per seed and returns results in seed order.
// A failed run is a result with StatusError, not a batch failure; the only
// batch-level error is context cancellation.
func (b Batch) Run(ctx context.Context, seeds []string, maxIterations int) ([]schema.RunResult, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("runner: no seeds")
	}

	results := make([]schema.RunResult, len(seeds))
	g, ctx := errgroup.WithContext(ctx)
	if b.Concurrency > 0 {
		g.SetLimit(b.Concurrency)
	}

	for i, seed := range seeds {
		g.Go(func() error {
			if b.Limiter != nil {
				if err := b.Limiter.Wait(ctx); err != nil {
					return fmt.Errorf("runner: rate limit wait: %w", err)
				}
			}
			st, err := b.Orchestrator.Run(ctx, seed, maxIterations)
			if err != nil {
				// The run's own failure is recorded in its result; the
				// remaining seeds keep going.
				log.Warn().Int("seed_index", i).Err(err).Msg("runner: run failed")
			}
			results[i] = st.Result()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
