package temporal

import (
	"context"
	"fmt"

	"github.com/pastense/pastense/internal/ingest"
	"github.com/pastense/pastense/internal/vector"
)

// RebuildResult is the serializable result of a full index rebuild.
type RebuildResult struct {
	Indexed int
}

// Dependencies holds shared resources injected into activities. When the
// worker runs against an in-process flat index, Flat and SnapshotPath let
// each activity persist its work so the API server can pick it up on the
// next snapshot load.
type Dependencies struct {
	Pipeline *ingest.Pipeline

	Flat         *vector.Flat
	SnapshotPath string
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func persistIndex() error {
	if deps.Flat == nil || deps.SnapshotPath == "" {
		return nil
	}
	if err := deps.Flat.Save(deps.SnapshotPath); err != nil {
		return fmt.Errorf("saving index snapshot: %w", err)
	}
	return nil
}

// ListUnindexedActivity returns the URLs stored in the metadata store that
// have no live slot in the vector index.
func ListUnindexedActivity(ctx context.Context) ([]string, error) {
	return deps.Pipeline.Unindexed(ctx)
}

// ReindexChunkActivity embeds and indexes one batch of URLs, returning how
// many of them made it into the index.
func ReindexChunkActivity(ctx context.Context, urls []string) (int, error) {
	indexed, err := deps.Pipeline.Reindex(ctx, urls)
	if err != nil {
		return indexed, err
	}
	return indexed, persistIndex()
}

// RebuildActivity rebuilds the vector index from scratch out of the metadata
// store and atomically swaps it in.
func RebuildActivity(ctx context.Context) (RebuildResult, error) {
	if err := deps.Pipeline.RebuildIndex(ctx); err != nil {
		return RebuildResult{}, err
	}
	if err := persistIndex(); err != nil {
		return RebuildResult{}, err
	}

	pending, err := deps.Pipeline.Unindexed(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	total, err := deps.Pipeline.StoredCount(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	// Everything not still pending was indexed by the rebuild.
	return RebuildResult{Indexed: total - len(pending)}, nil
}
