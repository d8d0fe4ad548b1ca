// Package store provides durable storage for visited page records.
package store

import (
	"context"
	"errors"
	"time"
)

// PageRecord is the current content snapshot for one visited page.
// URL is the primary key; a new visit to the same URL replaces the record.
type PageRecord struct {
	URL       string
	Title     string
	Content   string
	VisitedAt time.Time

	// Owner is an optional opaque principal identifier. Empty when the
	// deployment runs without user accounts.
	Owner string
}

// ErrNotFound is returned by Get when no record exists for a URL.
var ErrNotFound = errors.New("page record not found")

// Repository provides page record storage.
type Repository interface {
	// Upsert inserts or replaces the record keyed by record.URL.
	Upsert(ctx context.Context, record PageRecord) error
	// Get retrieves the record for a URL, or ErrNotFound.
	Get(ctx context.Context, url string) (PageRecord, error)
	// ListURLs returns every stored URL. Used for index rebuild and
	// reconciliation against the vector index.
	ListURLs(ctx context.Context) ([]string, error)
	// Delete removes the record for a URL. Deleting a missing URL is not
	// an error.
	Delete(ctx context.Context, url string) error
	// Close releases resources.
	Close(ctx context.Context) error
}
