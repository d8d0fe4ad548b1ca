package vector

import (
	"context"
	"testing"
)

func TestFlatSearcher_QueryDeduplicatesReingestedURL(t *testing.T) {
	f, _ := NewFlat(2, MetricL2)
	s := AsSearcher(f)
	ctx := context.Background()

	if err := s.Upsert(ctx, "https://a.test", []float32{5, 5}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, "https://a.test", []float32{1, 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, "https://b.test", []float32{2, 2}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(ctx, []float32{0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %v", len(got), got)
	}
	if got[0].URL != "https://a.test" || got[1].URL != "https://b.test" {
		t.Errorf("unexpected order: %v", got)
	}
	// The stale slot for a.test must be shadowed by the fresh vector.
	if got[0].Distance != 2 {
		t.Errorf("expected fresh vector distance 2, got %v", got[0].Distance)
	}
}

func TestFlatSearcher_QueryNearestFirst(t *testing.T) {
	f, _ := NewFlat(2, MetricCosine)
	s := AsSearcher(f)
	ctx := context.Background()

	s.Upsert(ctx, "https://same.test", []float32{1, 0})
	s.Upsert(ctx, "https://opposite.test", []float32{-1, 0})
	s.Upsert(ctx, "https://orthogonal.test", []float32{0, 1})

	got, err := s.Query(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].URL != "https://same.test" {
		t.Errorf("nearest = %q, want same.test", got[0].URL)
	}
	if got[1].URL != "https://orthogonal.test" {
		t.Errorf("second = %q, want orthogonal.test", got[1].URL)
	}
}

func TestFlatSearcher_QueryEmptyIndex(t *testing.T) {
	f, _ := NewFlat(2, MetricL2)
	s := AsSearcher(f)

	got, err := s.Query(context.Background(), []float32{0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no candidates from empty index, got %v", got)
	}
}

func TestFlatSearcher_IndexedURLs(t *testing.T) {
	f, _ := NewFlat(2, MetricL2)
	s := AsSearcher(f)
	ctx := context.Background()

	s.Upsert(ctx, "https://a.test", []float32{1, 0})
	s.Upsert(ctx, "https://a.test", []float32{0, 1})
	s.Upsert(ctx, "https://b.test", []float32{1, 1})

	lister, ok := s.(URLLister)
	if !ok {
		t.Fatal("flat searcher should implement URLLister")
	}
	urls, err := lister.IndexedURLs(ctx)
	if err != nil {
		t.Fatalf("IndexedURLs: %v", err)
	}
	if len(urls) != 2 {
		t.Errorf("expected 2 urls, got %d", len(urls))
	}
	if _, ok := urls["https://a.test"]; !ok {
		t.Error("a.test missing from indexed urls")
	}
}
