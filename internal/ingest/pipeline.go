// Package ingest runs the page-visit pipeline: durable metadata write first,
// then best-effort normalize → embed → index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pastense/pastense/internal/embed"
	"github.com/pastense/pastense/internal/normalize"
	"github.com/pastense/pastense/internal/observability"
	"github.com/pastense/pastense/internal/store"
	"github.com/pastense/pastense/internal/vector"
)

// ErrInvalidVisit reports malformed ingest input. Nothing is written when
// validation fails.
var ErrInvalidVisit = errors.New("invalid page visit")

// Visit is one page-visit event.
type Visit struct {
	URL       string
	Title     string
	Content   string
	VisitedAt time.Time
	Owner     string
}

// Pipeline orchestrates ingestion. The metadata write is authoritative;
// embedding and indexing failures are logged and counted, never propagated,
// and never roll the metadata back. Pages missed by indexing are picked up
// later via Unindexed/Reindex.
type Pipeline struct {
	store    store.Repository
	embedder embed.Provider
	index    vector.Searcher
	metrics  *observability.PastenseMetrics
	log      *slog.Logger
}

// New creates a pipeline. A nil logger falls back to slog's default.
func New(repo store.Repository, embedder embed.Provider, index vector.Searcher, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:    repo,
		embedder: embedder,
		index:    index,
		metrics:  observability.Metrics(),
		log:      log,
	}
}

// Ingest records a visit. The returned error reflects metadata durability
// only: validation failure or a store outage fails the request, an
// embedding or index failure does not.
func (p *Pipeline) Ingest(ctx context.Context, visit Visit) error {
	start := time.Now()
	ctx, span := observability.StartIngestSpan(ctx, visit.URL)
	defer span.End()

	if err := validate(visit); err != nil {
		p.metrics.RecordIngest(time.Since(start), false, false)
		observability.RecordError(span, err)
		return err
	}

	record := store.PageRecord{
		URL:       visit.URL,
		Title:     visit.Title,
		Content:   visit.Content,
		VisitedAt: visit.VisitedAt,
		Owner:     visit.Owner,
	}
	if err := p.store.Upsert(ctx, record); err != nil {
		p.metrics.RecordIngest(time.Since(start), false, false)
		observability.RecordError(span, err)
		return fmt.Errorf("store page visit: %w", err)
	}

	// Metadata is durable from here on. If the caller has gone away, leave
	// the committed write alone and let a later reindex pick the page up.
	if ctx.Err() != nil {
		p.metrics.RecordIngest(time.Since(start), true, false)
		return nil
	}

	indexErr := p.indexPage(ctx, visit.URL, visit.Content)
	if indexErr != nil {
		p.log.Warn("page stored but not indexed",
			"url", visit.URL, "error", indexErr)
	}
	observability.RecordIngestOutcome(span, indexErr == nil, indexErr)
	p.metrics.RecordIngest(time.Since(start), true, indexErr == nil)
	return nil
}

// indexPage derives the embedding and upserts it. The embedding call runs
// before any index locking; only the in-memory append is serialized.
func (p *Pipeline) indexPage(ctx context.Context, url, content string) error {
	text := normalize.Text(content)

	vecs, err := p.embedText(ctx, text)
	if err != nil {
		return err
	}

	if err := p.index.Upsert(ctx, url, vecs[0]); err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	return nil
}

func (p *Pipeline) embedText(ctx context.Context, texts ...string) ([][]float32, error) {
	start := time.Now()
	ctx, span := observability.StartEmbedSpan(ctx, p.embedder.Name(), len(texts))
	defer span.End()

	vecs, err := p.embedder.Embed(ctx, texts)
	p.metrics.RecordEmbed(time.Since(start), err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(vecs) != len(texts) {
		err := fmt.Errorf("%w: got %d embeddings for %d texts", embed.ErrUnavailable, len(vecs), len(texts))
		observability.RecordError(span, err)
		return nil, err
	}
	return vecs, nil
}

func validate(visit Visit) error {
	if visit.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidVisit)
	}
	if visit.VisitedAt.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidVisit)
	}
	return nil
}

// Unindexed returns stored URLs the index holds no vector for. Both index
// backends can enumerate their URLs; the flat index reads its latest map,
// the qdrant backend scrolls the collection.
func (p *Pipeline) Unindexed(ctx context.Context) ([]string, error) {
	lister, ok := p.index.(vector.URLLister)
	if !ok {
		return nil, fmt.Errorf("index backend cannot enumerate indexed urls")
	}

	stored, err := p.store.ListURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored urls: %w", err)
	}

	indexed, err := lister.IndexedURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexed urls: %w", err)
	}
	var missing []string
	for _, url := range stored {
		if _, ok := indexed[url]; !ok {
			missing = append(missing, url)
		}
	}
	p.metrics.UnindexedPages.Set(float64(len(missing)))
	return missing, nil
}

// StoredCount reports how many pages the metadata store holds.
func (p *Pipeline) StoredCount(ctx context.Context) (int, error) {
	urls, err := p.store.ListURLs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored urls: %w", err)
	}
	return len(urls), nil
}

// reindexBatch bounds how many pages go to the embedding API per request.
const reindexBatch = 16

// Reindex re-embeds and re-indexes the given URLs from stored content.
// Returns the number of pages successfully indexed; the first error is
// returned after the batch in progress completes.
func (p *Pipeline) Reindex(ctx context.Context, urls []string) (int, error) {
	indexed := 0
	for batchStart := 0; batchStart < len(urls); batchStart += reindexBatch {
		end := min(batchStart+reindexBatch, len(urls))
		batch := urls[batchStart:end]

		texts := make([]string, 0, len(batch))
		live := make([]string, 0, len(batch))
		for _, url := range batch {
			record, err := p.store.Get(ctx, url)
			if errors.Is(err, store.ErrNotFound) {
				continue // deleted since listing, nothing to index
			}
			if err != nil {
				return indexed, fmt.Errorf("load page %s: %w", url, err)
			}
			live = append(live, url)
			texts = append(texts, normalize.Text(record.Content))
		}
		if len(live) == 0 {
			continue
		}

		vecs, err := p.embedText(ctx, texts...)
		if err != nil {
			return indexed, err
		}
		for i, url := range live {
			if err := p.index.Upsert(ctx, url, vecs[i]); err != nil {
				return indexed, fmt.Errorf("index upsert %s: %w", url, err)
			}
			indexed++
		}
	}
	return indexed, nil
}

// RebuildIndex reconstructs the index from the full metadata store. This is
// the recovery path after restart or corruption. Backends with a Replace
// operation get the rebuilt contents swapped in atomically, so concurrent
// searches see either the old index or the new one; other backends are
// rebuilt by overwriting every URL's vector in place.
func (p *Pipeline) RebuildIndex(ctx context.Context) error {
	rebuilder, atomicSwap := p.index.(vector.Rebuilder)

	ctx, span := observability.StartIndexSpan(ctx, "rebuild")
	defer span.End()

	urls, err := p.store.ListURLs(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("list stored urls: %w", err)
	}

	newURLs := make([]string, 0, len(urls))
	newVecs := make([][]float32, 0, len(urls))
	for batchStart := 0; batchStart < len(urls); batchStart += reindexBatch {
		end := min(batchStart+reindexBatch, len(urls))
		batch := urls[batchStart:end]

		texts := make([]string, 0, len(batch))
		live := make([]string, 0, len(batch))
		for _, url := range batch {
			record, err := p.store.Get(ctx, url)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				observability.RecordError(span, err)
				return fmt.Errorf("load page %s: %w", url, err)
			}
			live = append(live, url)
			texts = append(texts, normalize.Text(record.Content))
		}
		if len(live) == 0 {
			continue
		}

		vecs, err := p.embedText(ctx, texts...)
		if err != nil {
			observability.RecordError(span, err)
			return err
		}
		if atomicSwap {
			newURLs = append(newURLs, live...)
			newVecs = append(newVecs, vecs...)
			continue
		}
		for i, url := range live {
			if err := p.index.Upsert(ctx, url, vecs[i]); err != nil {
				observability.RecordError(span, err)
				return fmt.Errorf("index upsert %s: %w", url, err)
			}
			newURLs = append(newURLs, url)
		}
	}

	if atomicSwap {
		if err := rebuilder.Replace(newURLs, newVecs); err != nil {
			observability.RecordError(span, err)
			return fmt.Errorf("swap rebuilt index: %w", err)
		}
	}
	p.metrics.IndexSize.Set(float64(len(newURLs)))
	p.log.Info("vector index rebuilt", "pages", len(newURLs))
	return nil
}
