// Package vector provides in-process nearest-neighbor search over
// fixed-dimension embeddings.
package vector

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Metric identifies the distance function. It is fixed for the lifetime of
// an index; mixing metrics across upserts is forbidden.
type Metric string

const (
	// MetricCosine ranks by cosine distance (1 - cosine similarity).
	MetricCosine Metric = "cosine"
	// MetricL2 ranks by squared euclidean distance. Squaring preserves
	// the nearest-first order and skips the sqrt.
	MetricL2 Metric = "l2"
)

// Hit is a single match from a positional search, nearest first.
type Hit struct {
	Position int
	Distance float32
}

// Flat is an exact nearest-neighbor index: a vector array and a parallel
// position→url mapping that always have equal length. Slots are append-only;
// an upsert for a known URL appends a fresh slot and shadows the old one
// rather than rewriting it in place. One RWMutex serializes writers against
// each other and against readers, so a search can never observe the two
// arrays at different lengths.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	metric  Metric
	vectors [][]float32
	urls    []string
	latest  map[string]int // url → authoritative (most recent) position
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int, metric Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	switch metric {
	case MetricCosine, MetricL2:
	default:
		return nil, fmt.Errorf("unknown distance metric %q", metric)
	}
	return &Flat{
		dim:    dim,
		metric: metric,
		latest: make(map[string]int),
	}, nil
}

// Dimension returns the fixed vector dimension.
func (f *Flat) Dimension() int { return f.dim }

// Metric returns the fixed distance metric.
func (f *Flat) Metric() Metric { return f.metric }

// Upsert appends the vector and records its URL at the new position. Callers
// must compute the embedding before calling; only the twin append itself runs
// under the write lock.
func (f *Flat) Upsert(url string, vec []float32) error {
	if url == "" {
		return fmt.Errorf("upsert: empty url")
	}
	if len(vec) != f.dim {
		return fmt.Errorf("upsert %s: vector dimension %d, index expects %d", url, len(vec), f.dim)
	}

	// Copy so later caller mutations can't corrupt the index.
	stored := make([]float32, len(vec))
	copy(stored, vec)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = append(f.vectors, stored)
	f.urls = append(f.urls, url)
	f.latest[url] = len(f.vectors) - 1
	return nil
}

// Search returns up to k positions ordered by non-decreasing distance to the
// query. When the index holds fewer than k vectors, all of them are returned.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("search: k must be >= 1, got %d", k)
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("search: query dimension %d, index expects %d", len(query), f.dim)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	hits := make([]Hit, len(f.vectors))
	for i, vec := range f.vectors {
		hits[i] = Hit{Position: i, Distance: f.distance(query, vec)}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Position < hits[j].Position
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Resolve returns the URL stored at a position, or false when the position
// is outside the current mapping.
func (f *Flat) Resolve(position int) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if position < 0 || position >= len(f.urls) {
		return "", false
	}
	return f.urls[position], true
}

// Stale reports whether the slot at a position has been shadowed by a later
// upsert for the same URL.
func (f *Flat) Stale(position int) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if position < 0 || position >= len(f.urls) {
		return true
	}
	return f.latest[f.urls[position]] != position
}

// Len returns the number of slots, stale shadows included.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// URLs returns the set of currently indexed URLs. The ingestion pipeline
// diffs this against the metadata store to find pages awaiting indexing.
func (f *Flat) URLs() map[string]struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]struct{}, len(f.latest))
	for url := range f.latest {
		out[url] = struct{}{}
	}
	return out
}

// Replace swaps in freshly rebuilt contents. Both slices must be parallel
// and every vector must match the index dimension. Existing readers see
// either the old state or the new one, never a mix.
func (f *Flat) Replace(urls []string, vectors [][]float32) error {
	if len(urls) != len(vectors) {
		return fmt.Errorf("replace: %d urls for %d vectors", len(urls), len(vectors))
	}
	latest := make(map[string]int, len(urls))
	for i, vec := range vectors {
		if len(vec) != f.dim {
			return fmt.Errorf("replace: vector %d has dimension %d, index expects %d", i, len(vec), f.dim)
		}
		latest[urls[i]] = i
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = vectors
	f.urls = urls
	f.latest = latest
	return nil
}

func (f *Flat) distance(a, b []float32) float32 {
	switch f.metric {
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(sum)
	default: // MetricCosine
		var dot, normA, normB float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			normA += float64(a[i]) * float64(a[i])
			normB += float64(b[i]) * float64(b[i])
		}
		denom := math.Sqrt(normA) * math.Sqrt(normB)
		if denom == 0 {
			// A zero vector is equally far from everything.
			return 1
		}
		return float32(1 - dot/denom)
	}
}
