package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pastense/pastense/internal/ingest"
	"github.com/pastense/pastense/internal/observability"
	"github.com/pastense/pastense/internal/search"
)

// Config holds API server configuration.
type Config struct {
	ListenAddr string // e.g. ":8000"
	Version    string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ListenAddr: ":8000"}
}

// API is the Pastense HTTP server.
type API struct {
	config   *Config
	pipeline *ingest.Pipeline
	searcher *search.Coordinator
	health   *HealthState
	server   *http.Server
	log      *slog.Logger
}

// New creates a fully wired API server.
func New(config *Config, pipeline *ingest.Pipeline, searcher *search.Coordinator, health *HealthState, log *slog.Logger) *API {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}

	a := &API{
		config:   config,
		pipeline: pipeline,
		searcher: searcher,
		health:   health,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/page_visit", a.handlePageVisit)
	mux.HandleFunc("/semantic_search", a.handleSemanticSearch)
	mux.HandleFunc("/unindexed", a.handleUnindexed)
	mux.HandleFunc("/rebuild", a.handleRebuild)
	mux.Handle("/metrics", observability.Metrics().Handler())
	mux.HandleFunc("/health", health.handleHealth)
	mux.HandleFunc("/ready", health.handleReady)
	mux.HandleFunc("/live", health.handleLive)

	handler := corsMiddleware(loggingMiddleware(log, mux))

	a.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a
}

// Handler exposes the configured handler, mainly for tests.
func (a *API) Handler() http.Handler {
	return a.server.Handler
}

// Start begins serving and blocks until the server stops.
func (a *API) Start() error {
	a.log.Info("starting pastense API", "addr", a.config.ListenAddr)
	a.health.SetReady(true)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (a *API) Stop(ctx context.Context) error {
	a.health.SetReady(false)
	return a.server.Shutdown(ctx)
}

// pageVisitRequest mirrors the browser extension's payload.
type pageVisitRequest struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Owner     string `json:"owner,omitempty"`
}

// handlePageVisit handles POST /page_visit. A 200 means the metadata is
// durably stored; indexing runs best-effort and is not reported here.
func (a *API) handlePageVisit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pageVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	visitedAt, err := parseTimestamp(req.Timestamp)
	if err != nil {
		http.Error(w, "Invalid timestamp: "+err.Error(), http.StatusBadRequest)
		return
	}

	visit := ingest.Visit{
		URL:       req.URL,
		Title:     req.Title,
		Content:   req.Content,
		VisitedAt: visitedAt,
		Owner:     req.Owner,
	}
	if err := a.pipeline.Ingest(r.Context(), visit); err != nil {
		if errors.Is(err, ingest.ErrInvalidVisit) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.log.Error("page visit rejected", "url", req.URL, "error", err)
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

// handleSemanticSearch handles GET /semantic_search?q=...&k=5.
func (a *API) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	k := search.DefaultK
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "k must be an integer", http.StatusBadRequest)
			return
		}
		k = parsed
	}

	results, err := a.searcher.Search(r.Context(), query, k)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrInvalidQuery):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, search.ErrQueryUnavailable):
			a.log.Error("search unavailable", "error", err)
			http.Error(w, "Search temporarily unavailable", http.StatusServiceUnavailable)
		default:
			a.log.Error("search failed", "error", err)
			http.Error(w, "Search failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleUnindexed handles GET /unindexed: stored pages the index hasn't
// picked up yet, for the reindex worker and for operators.
func (a *API) handleUnindexed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	urls, err := a.pipeline.Unindexed(r.Context())
	if err != nil {
		a.log.Error("unindexed listing failed", "error", err)
		http.Error(w, "Listing failed", http.StatusInternalServerError)
		return
	}
	if urls == nil {
		urls = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls, "count": len(urls)})
}

// handleRebuild handles POST /rebuild: full index reconstruction from the
// metadata store.
func (a *API) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := a.pipeline.RebuildIndex(r.Context()); err != nil {
		a.log.Error("index rebuild failed", "error", err)
		http.Error(w, "Rebuild failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// parseTimestamp accepts RFC 3339, with or without the trailing zone, since
// extension builds have sent both.
func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339, got %q", raw)
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
