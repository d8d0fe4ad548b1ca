// Package neo4j implements the page store on a Neo4j database.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pastense/pastense/internal/store"
)

// Repository implements store.Repository using Neo4j. Each page is a
// (:Page) node keyed by url; MERGE gives the per-URL upsert semantics.
type Repository struct {
	driver neo4j.DriverWithContext
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, uri, username, password string) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Repository{driver: driver}, nil
}

func (r *Repository) Upsert(ctx context.Context, record store.PageRecord) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MERGE (p:Page {url: $url}) "+
				"SET p.title = $title, p.content = $content, p.visited_at = $visited, p.owner = $owner",
			map[string]any{
				"url":     record.URL,
				"title":   record.Title,
				"content": record.Content,
				"visited": record.VisitedAt.UTC().Format(time.RFC3339Nano),
				"owner":   record.Owner,
			})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("upsert page %s: %w", record.URL, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, url string) (store.PageRecord, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (p:Page {url: $url}) RETURN p.title, p.content, p.visited_at, p.owner",
			map[string]any{"url": url})
		if err != nil {
			return nil, err
		}
		if !records.Next(ctx) {
			return nil, store.ErrNotFound
		}
		rec := records.Record()
		out := store.PageRecord{URL: url}
		if v, ok := rec.Get("p.title"); ok && v != nil {
			out.Title = v.(string)
		}
		if v, ok := rec.Get("p.content"); ok && v != nil {
			out.Content = v.(string)
		}
		if v, ok := rec.Get("p.visited_at"); ok && v != nil {
			if t, err := time.Parse(time.RFC3339Nano, v.(string)); err == nil {
				out.VisitedAt = t
			}
		}
		if v, ok := rec.Get("p.owner"); ok && v != nil {
			out.Owner = v.(string)
		}
		return out, nil
	})
	if err != nil {
		if err == store.ErrNotFound {
			return store.PageRecord{}, store.ErrNotFound
		}
		return store.PageRecord{}, fmt.Errorf("get page %s: %w", url, err)
	}
	return result.(store.PageRecord), nil
}

func (r *Repository) ListURLs(ctx context.Context) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, "MATCH (p:Page) RETURN p.url", nil)
		if err != nil {
			return nil, err
		}
		var urls []string
		for records.Next(ctx) {
			if v, ok := records.Record().Get("p.url"); ok && v != nil {
				urls = append(urls, v.(string))
			}
		}
		return urls, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return result.([]string), nil
}

func (r *Repository) Delete(ctx context.Context, url string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "MATCH (p:Page {url: $url}) DELETE p", map[string]any{"url": url})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("delete page %s: %w", url, err)
	}
	return nil
}

// Ping checks connectivity, for health probes.
func (r *Repository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ store.Repository = (*Repository)(nil)
