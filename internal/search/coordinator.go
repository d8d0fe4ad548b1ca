// Package search joins the vector index and the metadata store into
// semantic search results.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pastense/pastense/internal/embed"
	"github.com/pastense/pastense/internal/observability"
	"github.com/pastense/pastense/internal/store"
	"github.com/pastense/pastense/internal/vector"
)

var (
	// ErrInvalidQuery reports malformed search input (empty query,
	// non-positive k). Rejected before any work happens.
	ErrInvalidQuery = errors.New("invalid search query")

	// ErrQueryUnavailable reports that the query text could not be
	// embedded. There is no keyword fallback; the search fails cleanly
	// rather than returning silently wrong results.
	ErrQueryUnavailable = errors.New("query unavailable")
)

// DefaultK is the result count when the caller doesn't specify one.
const DefaultK = 5

// Result is one semantic search match.
type Result struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Coordinator runs semantic searches: embed the query, ask the index for
// nearest neighbors, then resolve every candidate against the metadata
// store, dropping anything without a live record.
type Coordinator struct {
	store    store.Repository
	embedder embed.Provider
	index    vector.Searcher
	metrics  *observability.PastenseMetrics
	log      *slog.Logger
}

// New creates a coordinator. A nil logger falls back to slog's default.
func New(repo store.Repository, embedder embed.Provider, index vector.Searcher, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:    repo,
		embedder: embedder,
		index:    index,
		metrics:  observability.Metrics(),
		log:      log,
	}
}

// Search returns up to k results ordered nearest-first. Fewer than k results
// after filtering is expected, not an error. A store outage fails the
// search; a stale or dangling index entry only shrinks it.
func (c *Coordinator) Search(ctx context.Context, query string, k int) ([]Result, error) {
	start := time.Now()
	ctx, span := observability.StartSearchSpan(ctx, k)
	defer span.End()

	if k <= 0 {
		err := fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidQuery, k)
		c.metrics.RecordSearch(time.Since(start), 0, err)
		observability.RecordError(span, err)
		return nil, err
	}
	if query == "" {
		err := fmt.Errorf("%w: empty query", ErrInvalidQuery)
		c.metrics.RecordSearch(time.Since(start), 0, err)
		observability.RecordError(span, err)
		return nil, err
	}

	vecs, err := c.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		if err == nil {
			err = fmt.Errorf("got %d embeddings for one query", len(vecs))
		}
		wrapped := fmt.Errorf("%w: %v", ErrQueryUnavailable, err)
		c.metrics.RecordSearch(time.Since(start), 0, wrapped)
		observability.RecordError(span, wrapped)
		return nil, wrapped
	}

	candidates, err := c.index.Query(ctx, vecs[0], k)
	if err != nil {
		wrapped := fmt.Errorf("index search: %w", err)
		c.metrics.RecordSearch(time.Since(start), 0, wrapped)
		observability.RecordError(span, wrapped)
		return nil, wrapped
	}

	results := make([]Result, 0, len(candidates))
	dropped := 0
	for _, cand := range candidates {
		record, err := c.store.Get(ctx, cand.URL)
		if errors.Is(err, store.ErrNotFound) {
			// Metadata was deleted after indexing. Filter silently;
			// the log line is the operator's rebuild signal.
			dropped++
			c.log.Debug("dropping search hit without metadata", "url", cand.URL)
			continue
		}
		if err != nil {
			wrapped := fmt.Errorf("resolve %s: %w", cand.URL, err)
			c.metrics.RecordSearch(time.Since(start), dropped, wrapped)
			observability.RecordError(span, wrapped)
			return nil, wrapped
		}
		results = append(results, Result{URL: record.URL, Title: record.Title})
	}

	c.metrics.RecordSearch(time.Since(start), dropped, nil)
	observability.RecordSearchResult(span, len(candidates), len(results), dropped, time.Since(start))
	return results, nil
}
