package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pastense.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_addr: \":9000\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("default store backend = %q", cfg.Store.Backend)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("default model = %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Errorf("default dimension = %d", cfg.Embedding.Dimension)
	}
	if cfg.Embedding.MaxChars != 1000 {
		t.Errorf("default max_chars = %d", cfg.Embedding.MaxChars)
	}
	if cfg.Vector.Backend != "flat" || cfg.Vector.Metric != "l2" {
		t.Errorf("default vector config = %q/%q", cfg.Vector.Backend, cfg.Vector.Metric)
	}
	if cfg.Temporal.TaskQueue != "pastense-reindex" {
		t.Errorf("default task queue = %q", cfg.Temporal.TaskQueue)
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: neo4j
  uri: bolt://db:7687
  username: neo4j
embedding:
  provider: ollama
  model: nomic-embed-text
  dimension: 768
  base_url: http://localhost:11434/v1
vector:
  backend: flat
  metric: cosine
  snapshot_path: /var/lib/pastense/index.json
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Backend != "neo4j" || cfg.Store.URI != "bolt://db:7687" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Dimension != 768 {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Vector.Metric != "cosine" {
		t.Errorf("metric = %q", cfg.Vector.Metric)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantSub string
	}{
		{
			name:    "unknown store backend",
			mutate:  func(c *Config) { c.Store.Backend = "postgres" },
			wantSub: "store backend",
		},
		{
			name:    "neo4j without uri",
			mutate:  func(c *Config) { c.Store.Backend = "neo4j" },
			wantSub: "uri is empty",
		},
		{
			name:    "unknown vector backend",
			mutate:  func(c *Config) { c.Vector.Backend = "faiss" },
			wantSub: "vector backend",
		},
		{
			name:    "unknown metric",
			mutate:  func(c *Config) { c.Vector.Metric = "manhattan" },
			wantSub: "distance metric",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Embedding.Provider = "openai" },
			wantSub: "api_key is empty",
		},
		{
			name:    "negative dimension",
			mutate:  func(c *Config) { c.Embedding.Dimension = -1 },
			wantSub: "dimension",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Tracing.SampleRate = 2.0 },
			wantSub: "sample_rate",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			tc.mutate(cfg)
			warnings := cfg.Validate()
			found := false
			for _, w := range warnings {
				if strings.Contains(w, tc.wantSub) {
					found = true
				}
			}
			if !found {
				t.Errorf("warnings %v do not mention %q", warnings, tc.wantSub)
			}
		})
	}

	clean := &Config{}
	if warnings := clean.Validate(); len(warnings) != 0 {
		t.Errorf("zero config should validate clean, got %v", warnings)
	}
}
