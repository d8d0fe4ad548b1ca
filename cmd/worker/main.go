package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pastense/pastense/internal/config"
	"github.com/pastense/pastense/internal/embed"
	openaiembed "github.com/pastense/pastense/internal/embed/openai"
	"github.com/pastense/pastense/internal/ingest"
	"github.com/pastense/pastense/internal/secrets"
	"github.com/pastense/pastense/internal/store"
	neo4jstore "github.com/pastense/pastense/internal/store/neo4j"
	temporalmod "github.com/pastense/pastense/internal/temporal"
	"github.com/pastense/pastense/internal/vector"
	qdrantindex "github.com/pastense/pastense/internal/vector/qdrant"

	temporalclient "go.temporal.io/sdk/client"
)

// The reindex worker runs the ingest pipeline against the same metadata
// store as the API server, so it needs its own embedding provider and an
// index backend it can enumerate.
func main() {
	configPath := "configs/pastense.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	mgr, err := secrets.NewManager(secrets.DefaultConfig())
	if err != nil {
		log.Fatalf("secrets: %v", err)
	}
	apiKey := cfg.Embedding.APIKey
	if apiKey == "" {
		apiKey = mgr.GetOrDefault(ctx, secrets.SecretEmbeddingAPIKey, "")
	}

	var repo store.Repository
	switch cfg.Store.Backend {
	case "neo4j":
		password := cfg.Store.Password
		if password == "" {
			password = mgr.GetOrDefault(ctx, secrets.SecretStorePassword, "")
		}
		neo, err := neo4jstore.New(ctx, cfg.Store.URI, cfg.Store.Username, password)
		if err != nil {
			log.Fatalf("neo4j: %v", err)
		}
		defer neo.Close(ctx)
		repo = neo
	default:
		log.Fatalf("reindex worker requires a durable store backend, got %q", cfg.Store.Backend)
	}

	pc := embed.DefaultProviderConfig()
	pc.Provider = cfg.Embedding.Provider
	pc.APIKey = apiKey
	if cfg.Embedding.Model != "" {
		pc.Model = cfg.Embedding.Model
	}
	pc.BaseURL = cfg.Embedding.BaseURL
	if cfg.Embedding.Dimension > 0 {
		pc.Dimension = cfg.Embedding.Dimension
	}
	if cfg.Embedding.MaxChars > 0 {
		pc.MaxChars = cfg.Embedding.MaxChars
	}
	var provider embed.Provider = openaiembed.New(pc)
	provider = embed.WrapWithRetry(provider, pc)
	provider = embed.WithRateLimit(provider, embed.DefaultRateLimitConfig())

	deps := &temporalmod.Dependencies{}
	var index vector.Searcher
	switch cfg.Vector.Backend {
	case "qdrant":
		q, err := qdrantindex.New(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
		if err != nil {
			log.Fatalf("qdrant: %v", err)
		}
		defer q.Close()
		index = q
	default:
		metric := vector.Metric(cfg.Vector.Metric)
		if metric == "" {
			metric = vector.MetricL2
		}
		flat, err := loadOrCreateFlat(cfg.Vector.SnapshotPath, pc.Dimension, metric)
		if err != nil {
			log.Fatalf("vector index: %v", err)
		}
		deps.Flat = flat
		deps.SnapshotPath = cfg.Vector.SnapshotPath
		index = vector.AsSearcher(flat)
	}

	deps.Pipeline = ingest.New(repo, provider, index, nil)
	temporalmod.SetDependencies(deps)

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	w.Stop()
	fmt.Println("Worker stopped")
}

func loadOrCreateFlat(snapshotPath string, dim int, metric vector.Metric) (*vector.Flat, error) {
	if snapshotPath != "" {
		if _, err := os.Stat(snapshotPath); err == nil {
			return vector.Load(snapshotPath, dim, metric)
		}
	}
	return vector.NewFlat(dim, metric)
}
