package vector

import (
	"context"
	"log/slog"
)

// Candidate is a similarity-search match keyed by URL, nearest first.
type Candidate struct {
	URL      string
	Distance float32
}

// Searcher is the index surface the ingestion pipeline and query coordinator
// consume. Flat implements it in-process; the qdrant subpackage implements it
// against a remote collection.
type Searcher interface {
	// Upsert makes the vector for a URL searchable, replacing any prior
	// vector for that URL as the authoritative one.
	Upsert(ctx context.Context, url string, vec []float32) error
	// Query returns up to k candidates ordered by non-decreasing distance.
	Query(ctx context.Context, vec []float32, k int) ([]Candidate, error)
}

// URLLister is implemented by index backends that can enumerate the URLs
// they hold, enabling reconciliation against the metadata store. Remote
// backends page through their collection, so enumeration can fail.
type URLLister interface {
	IndexedURLs(ctx context.Context) (map[string]struct{}, error)
}

// Rebuilder is implemented by index backends that support swapping in a
// fully rebuilt vector set.
type Rebuilder interface {
	Replace(urls []string, vectors [][]float32) error
}

// flatSearcher adapts Flat's positional API to the Searcher interface.
type flatSearcher struct {
	index *Flat
}

// AsSearcher wraps a Flat index as a Searcher.
func AsSearcher(index *Flat) Searcher {
	return &flatSearcher{index: index}
}

func (s *flatSearcher) Upsert(ctx context.Context, url string, vec []float32) error {
	return s.index.Upsert(url, vec)
}

func (s *flatSearcher) IndexedURLs(ctx context.Context) (map[string]struct{}, error) {
	return s.index.URLs(), nil
}

func (s *flatSearcher) Replace(urls []string, vectors [][]float32) error {
	return s.index.Replace(urls, vectors)
}

var (
	_ Searcher  = (*flatSearcher)(nil)
	_ URLLister = (*flatSearcher)(nil)
	_ Rebuilder = (*flatSearcher)(nil)
)

// Query searches and resolves each hit. Unresolvable positions mean the two
// internal arrays disagree; they are dropped and logged as an inconsistency
// signal rather than surfaced. Stale shadows for re-ingested URLs are also
// dropped so a URL appears at most once.
func (s *flatSearcher) Query(ctx context.Context, vec []float32, k int) ([]Candidate, error) {
	hits, err := s.index.Search(vec, k)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		url, ok := s.index.Resolve(hit.Position)
		if !ok {
			slog.Warn("vector index inconsistency: unresolvable position, consider a rebuild",
				"position", hit.Position, "size", s.index.Len())
			continue
		}
		if s.index.Stale(hit.Position) {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		candidates = append(candidates, Candidate{URL: url, Distance: hit.Distance})
	}
	return candidates, nil
}
