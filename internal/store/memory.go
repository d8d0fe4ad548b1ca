package store

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process Repository. It backs tests and
// single-machine runs that don't need a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]PageRecord
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]PageRecord)}
}

func (r *MemoryRepository) Upsert(ctx context.Context, record PageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.URL] = record
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, url string) (PageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[url]
	if !ok {
		return PageRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) ListURLs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	urls := make([]string, 0, len(r.records))
	for url := range r.records {
		urls = append(urls, url)
	}
	return urls, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, url)
	return nil
}

func (r *MemoryRepository) Close(ctx context.Context) error { return nil }

var _ Repository = (*MemoryRepository)(nil)
