package temporal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pastense/pastense/internal/ingest"
	"github.com/pastense/pastense/internal/store"
	"github.com/pastense/pastense/internal/vector"
)

// hashEmbedder derives a stable vector from the text length so tests are
// deterministic without a network call.
type hashEmbedder struct{ dim int }

func (e *hashEmbedder) Name() string { return "hash" }

func (e *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		for j := range vec {
			vec[j] = float32((len(text)+i*j)%7) + 1
		}
		out[i] = vec
	}
	return out, nil
}

func setupPipeline(t *testing.T) (*ingest.Pipeline, store.Repository, *vector.Flat) {
	t.Helper()
	repo := store.NewMemory()
	flat, err := vector.NewFlat(4, vector.MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	pipe := ingest.New(repo, &hashEmbedder{dim: 4}, vector.AsSearcher(flat), nil)
	return pipe, repo, flat
}

func storePages(t *testing.T, repo store.Repository, n int) []string {
	t.Helper()
	urls := make([]string, 0, n)
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://example.com/page-%d", i)
		record := store.PageRecord{
			URL:       url,
			Title:     fmt.Sprintf("Page %d", i),
			Content:   fmt.Sprintf("content for page number %d", i),
			VisitedAt: time.Now(),
		}
		if err := repo.Upsert(context.Background(), record); err != nil {
			t.Fatal(err)
		}
		urls = append(urls, url)
	}
	return urls
}

func TestSetDependencies(t *testing.T) {
	pipe, _, _ := setupPipeline(t)

	SetDependencies(&Dependencies{Pipeline: pipe})

	if deps == nil {
		t.Fatal("SetDependencies failed: deps is nil")
	}
	if deps.Pipeline != pipe {
		t.Error("SetDependencies did not set pipeline correctly")
	}
}

func TestListUnindexedActivity(t *testing.T) {
	pipe, repo, _ := setupPipeline(t)
	SetDependencies(&Dependencies{Pipeline: pipe})

	storePages(t, repo, 3)

	pending, err := ListUnindexedActivity(context.Background())
	if err != nil {
		t.Fatalf("ListUnindexedActivity failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 unindexed urls, got %d", len(pending))
	}
}

func TestReindexChunkActivity(t *testing.T) {
	pipe, repo, flat := setupPipeline(t)
	SetDependencies(&Dependencies{Pipeline: pipe})

	urls := storePages(t, repo, 5)

	indexed, err := ReindexChunkActivity(context.Background(), urls)
	if err != nil {
		t.Fatalf("ReindexChunkActivity failed: %v", err)
	}
	if indexed != 5 {
		t.Fatalf("expected 5 indexed, got %d", indexed)
	}
	if flat.Len() != 5 {
		t.Fatalf("expected 5 index slots, got %d", flat.Len())
	}

	pending, err := ListUnindexedActivity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no unindexed urls after reindex, got %d", len(pending))
	}
}

func TestReindexChunkActivity_SkipsDeleted(t *testing.T) {
	pipe, repo, _ := setupPipeline(t)
	SetDependencies(&Dependencies{Pipeline: pipe})

	urls := storePages(t, repo, 3)
	if err := repo.Delete(context.Background(), urls[1]); err != nil {
		t.Fatal(err)
	}

	indexed, err := ReindexChunkActivity(context.Background(), urls)
	if err != nil {
		t.Fatalf("ReindexChunkActivity failed: %v", err)
	}
	if indexed != 2 {
		t.Fatalf("expected 2 indexed with one deleted, got %d", indexed)
	}
}

func TestRebuildActivity(t *testing.T) {
	pipe, repo, flat := setupPipeline(t)
	SetDependencies(&Dependencies{Pipeline: pipe})

	urls := storePages(t, repo, 4)
	// Index two of them twice so rebuild has stale slots to collapse.
	if _, err := ReindexChunkActivity(context.Background(), urls[:2]); err != nil {
		t.Fatal(err)
	}
	if _, err := ReindexChunkActivity(context.Background(), urls[:2]); err != nil {
		t.Fatal(err)
	}
	if flat.Len() != 4 {
		t.Fatalf("expected 4 slots before rebuild, got %d", flat.Len())
	}

	result, err := RebuildActivity(context.Background())
	if err != nil {
		t.Fatalf("RebuildActivity failed: %v", err)
	}
	if result.Indexed != 4 {
		t.Fatalf("expected 4 pages rebuilt, got %d", result.Indexed)
	}
	if flat.Len() != 4 {
		t.Fatalf("expected 4 slots after rebuild, got %d", flat.Len())
	}
}

// urlKeyedIndex stands in for a server-side index: upserts overwrite by URL
// and the contents are enumerable, but there is no atomic replace.
type urlKeyedIndex struct {
	vectors map[string][]float32
}

func (r *urlKeyedIndex) Upsert(_ context.Context, url string, vec []float32) error {
	r.vectors[url] = vec
	return nil
}

func (r *urlKeyedIndex) Query(_ context.Context, vec []float32, k int) ([]vector.Candidate, error) {
	return nil, nil
}

func (r *urlKeyedIndex) IndexedURLs(_ context.Context) (map[string]struct{}, error) {
	urls := make(map[string]struct{}, len(r.vectors))
	for url := range r.vectors {
		urls[url] = struct{}{}
	}
	return urls, nil
}

func TestActivities_RemoteIndexBackend(t *testing.T) {
	repo := store.NewMemory()
	remote := &urlKeyedIndex{vectors: make(map[string][]float32)}
	pipe := ingest.New(repo, &hashEmbedder{dim: 4}, remote, nil)
	SetDependencies(&Dependencies{Pipeline: pipe})
	ctx := context.Background()

	urls := storePages(t, repo, 5)

	pending, err := ListUnindexedActivity(ctx)
	if err != nil {
		t.Fatalf("ListUnindexedActivity: %v", err)
	}
	if len(pending) != len(urls) {
		t.Fatalf("pending = %d, want %d", len(pending), len(urls))
	}

	indexed, err := ReindexChunkActivity(ctx, pending[:2])
	if err != nil {
		t.Fatalf("ReindexChunkActivity: %v", err)
	}
	if indexed != 2 {
		t.Errorf("indexed = %d, want 2", indexed)
	}

	result, err := RebuildActivity(ctx)
	if err != nil {
		t.Fatalf("RebuildActivity: %v", err)
	}
	if result.Indexed != len(urls) {
		t.Errorf("rebuild indexed = %d, want %d", result.Indexed, len(urls))
	}
	if len(remote.vectors) != len(urls) {
		t.Errorf("remote index holds %d vectors, want %d", len(remote.vectors), len(urls))
	}
}
