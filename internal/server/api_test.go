package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pastense/pastense/internal/embed"
	"github.com/pastense/pastense/internal/ingest"
	"github.com/pastense/pastense/internal/search"
	"github.com/pastense/pastense/internal/store"
	"github.com/pastense/pastense/internal/vector"
)

// lengthEmbedder derives vectors from text length so handler tests are
// deterministic and offline.
type lengthEmbedder struct {
	fail bool
}

func (e *lengthEmbedder) Name() string { return "length" }

func (e *lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("%w: down", embed.ErrUnavailable)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func newTestAPI(t *testing.T, embedder embed.Provider) (*API, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemory()
	flat, err := vector.NewFlat(2, vector.MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	index := vector.AsSearcher(flat)
	pipeline := ingest.New(repo, embedder, index, nil)
	coordinator := search.New(repo, embedder, index, nil)
	health := NewHealthState("test")
	return New(DefaultConfig(), pipeline, coordinator, health, nil), repo
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPageVisit(t *testing.T) {
	api, repo := newTestAPI(t, &lengthEmbedder{})

	body := `{"url":"https://example.com","title":"Example","content":"some text","timestamp":"2026-08-30T12:00:00Z"}`
	rec := postJSON(t, api.Handler(), "/page_visit", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "stored" {
		t.Errorf("status field = %q", resp["status"])
	}
	if _, err := repo.Get(context.Background(), "https://example.com"); err != nil {
		t.Errorf("record not stored: %v", err)
	}
}

func TestPageVisit_NaiveTimestamp(t *testing.T) {
	api, _ := newTestAPI(t, &lengthEmbedder{})

	body := `{"url":"https://example.com","content":"x","timestamp":"2026-08-30T12:00:00"}`
	rec := postJSON(t, api.Handler(), "/page_visit", body)
	if rec.Code != http.StatusOK {
		t.Errorf("naive timestamp rejected: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPageVisit_BadRequests(t *testing.T) {
	api, _ := newTestAPI(t, &lengthEmbedder{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing timestamp", `{"url":"https://a.test","content":"x"}`},
		{"bad timestamp", `{"url":"https://a.test","content":"x","timestamp":"yesterday"}`},
		{"missing url", `{"content":"x","timestamp":"2026-08-30T12:00:00Z"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, api.Handler(), "/page_visit", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestPageVisit_EmbeddingFailureStillStores(t *testing.T) {
	api, repo := newTestAPI(t, &lengthEmbedder{fail: true})

	body := `{"url":"https://example.com","content":"x","timestamp":"2026-08-30T12:00:00Z"}`
	rec := postJSON(t, api.Handler(), "/page_visit", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("embedding failure must not fail the request: %d", rec.Code)
	}
	if _, err := repo.Get(context.Background(), "https://example.com"); err != nil {
		t.Errorf("record not stored: %v", err)
	}
}

func TestPageVisit_MethodNotAllowed(t *testing.T) {
	api, _ := newTestAPI(t, &lengthEmbedder{})

	req := httptest.NewRequest(http.MethodGet, "/page_visit", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func ingestPage(t *testing.T, api *API, url, title, content string) {
	t.Helper()
	body := fmt.Sprintf(`{"url":%q,"title":%q,"content":%q,"timestamp":"2026-08-30T12:00:00Z"}`, url, title, content)
	rec := postJSON(t, api.Handler(), "/page_visit", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed ingest failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSemanticSearch(t *testing.T) {
	api, _ := newTestAPI(t, &lengthEmbedder{})
	ingestPage(t, api, "https://short.test", "Short", "abc")
	ingestPage(t, api, "https://long.test", "Long", "a considerably longer document body")

	req := httptest.NewRequest(http.MethodGet, "/semantic_search?q=abc&k=1", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []search.Result `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}
	if resp.Results[0].URL != "https://short.test" {
		t.Errorf("nearest = %q, want short.test", resp.Results[0].URL)
	}
}

func TestSemanticSearch_BadInput(t *testing.T) {
	api, _ := newTestAPI(t, &lengthEmbedder{})

	tests := []struct {
		name string
		path string
	}{
		{"empty query", "/semantic_search?k=5"},
		{"zero k", "/semantic_search?q=x&k=0"},
		{"non-numeric k", "/semantic_search?q=x&k=lots"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rec := httptest.NewRecorder()
			api.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSemanticSearch_EmbedderDown(t *testing.T) {
	api, _ := newTestAPI(t, &lengthEmbedder{fail: true})

	req := httptest.NewRequest(http.MethodGet, "/semantic_search?q=hello", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestUnindexedEndpoint(t *testing.T) {
	embedder := &lengthEmbedder{fail: true}
	api, _ := newTestAPI(t, embedder)
	ingestPage(t, api, "https://a.test", "A", "content")

	req := httptest.NewRequest(http.MethodGet, "/unindexed", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		URLs  []string `json:"urls"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || len(resp.URLs) != 1 || resp.URLs[0] != "https://a.test" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRebuildEndpoint(t *testing.T) {
	embedder := &lengthEmbedder{fail: true}
	api, _ := newTestAPI(t, embedder)
	ingestPage(t, api, "https://a.test", "A", "content")

	// Provider recovers; rebuild should index the page.
	embedder.fail = false
	req := httptest.NewRequest(http.MethodPost, "/rebuild", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d, body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/unindexed", nil)
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 0 {
		t.Errorf("expected nothing unindexed after rebuild, got %d", resp.Count)
	}
}

func TestCORSPreflight(t *testing.T) {
	api, _ := newTestAPI(t, &lengthEmbedder{})

	req := httptest.NewRequest(http.MethodOptions, "/page_visit", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"rfc3339", "2026-08-30T12:00:00Z", false},
		{"rfc3339 with offset", "2026-08-30T12:00:00+02:00", false},
		{"naive", "2026-08-30T12:00:00", false},
		{"empty", "", true},
		{"garbage", "not-a-time", true},
		{"date only", "2026-08-30", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseTimestamp(tc.raw)
			if (err != nil) != tc.wantErr {
				t.Errorf("parseTimestamp(%q) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
			}
		})
	}
}
