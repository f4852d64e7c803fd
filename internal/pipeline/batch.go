package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/insightagent/pkg/models"
)

// DefaultBatchConcurrency is used by RunBatch when limit is not positive.
const DefaultBatchConcurrency = 4

// RunBatch runs independent requests concurrently, at most limit at a time.
// Results are returned in request order. Runs never fail the group, so one
// failing query does not cancel the others.
func RunBatch(ctx context.Context, o *Orchestrator, reqs []Request, limit int) []models.PipelineResult {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}
	results := make([]models.PipelineResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = o.Run(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
