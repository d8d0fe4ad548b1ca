package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"
)

const reindexChunk = 64

// ReindexInput holds the workflow parameters.
type ReindexInput struct {
	// Full rebuilds the whole index from the metadata store instead of
	// backfilling only the pages that are missing from it.
	Full bool

	// ChunkSize overrides the per-activity URL batch size (optional).
	ChunkSize int
}

// ReindexOutput holds the workflow result.
type ReindexOutput struct {
	Scanned int      // URLs considered for indexing
	Indexed int      // URLs successfully embedded and indexed
	Errors  []string // Per-chunk failures (the workflow keeps going)
}

// ReindexWorkflow backfills the vector index from stored page metadata.
// Pages are indexed chunk by chunk so a single bad batch cannot sink the
// whole run.
func ReindexWorkflow(ctx workflow.Context, input ReindexInput) (*ReindexOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	if input.Full {
		var result RebuildResult
		if err := workflow.ExecuteActivity(ctx, RebuildActivity).Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("rebuild: %w", err)
		}
		return &ReindexOutput{Scanned: result.Indexed, Indexed: result.Indexed}, nil
	}

	var pending []string
	if err := workflow.ExecuteActivity(ctx, ListUnindexedActivity).Get(ctx, &pending); err != nil {
		return nil, fmt.Errorf("list unindexed: %w", err)
	}

	output := &ReindexOutput{Scanned: len(pending)}
	if len(pending) == 0 {
		return output, nil
	}

	chunk := input.ChunkSize
	if chunk <= 0 {
		chunk = reindexChunk
	}

	for start := 0; start < len(pending); start += chunk {
		end := start + chunk
		if end > len(pending) {
			end = len(pending)
		}

		var indexed int
		if err := workflow.ExecuteActivity(ctx, ReindexChunkActivity, pending[start:end]).Get(ctx, &indexed); err != nil {
			output.Errors = append(output.Errors, fmt.Sprintf("chunk %d-%d: %v", start, end, err))
			continue
		}
		output.Indexed += indexed
	}

	return output, nil
}
