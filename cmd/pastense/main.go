package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pastense/pastense/internal/config"
	"github.com/pastense/pastense/internal/embed"
	openaiembed "github.com/pastense/pastense/internal/embed/openai"
	"github.com/pastense/pastense/internal/ingest"
	"github.com/pastense/pastense/internal/observability"
	"github.com/pastense/pastense/internal/search"
	"github.com/pastense/pastense/internal/secrets"
	"github.com/pastense/pastense/internal/server"
	"github.com/pastense/pastense/internal/store"
	neo4jstore "github.com/pastense/pastense/internal/store/neo4j"
	"github.com/pastense/pastense/internal/vector"
	qdrantindex "github.com/pastense/pastense/internal/vector/qdrant"
)

const version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "pastense",
		Short: "Records visited web pages and serves semantic search over them",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/pastense.yaml", "Config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Pastense API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from stored pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rebuild(configPath)
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available embedding providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available embedding providers:")
			fmt.Println()
			for name, url := range embed.KnownProviders {
				fmt.Printf("  %-10s %s\n", name, url)
			}
			fmt.Println("  custom     (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in pastense.yaml or via environment:")
			fmt.Println("  PASTENSE_EMBEDDING_PROVIDER=openai")
			fmt.Println("  PASTENSE_EMBEDDING_API_KEY=sk-...")
			fmt.Println("  PASTENSE_EMBEDDING_MODEL=text-embedding-3-small")
		},
	}

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys in the local key store",
	}

	keysSetCmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Store a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return keysSet(configPath, args[0], args[1])
		},
	}

	keysGetCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return keysGet(configPath, args[0])
		},
	}

	keysCmd.AddCommand(keysSetCmd, keysGetCmd)
	rootCmd.AddCommand(serveCmd, rebuildCmd, providersCmd, keysCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired service components shared by serve and rebuild.
type app struct {
	cfg         *config.Config
	log         *slog.Logger
	repo        store.Repository
	neo         *neo4jstore.Repository // nil unless store backend is neo4j
	embedder    embed.Provider
	flat        *vector.Flat // nil unless vector backend is flat
	qdrant      *qdrantindex.Index
	pipeline    *ingest.Pipeline
	coordinator *search.Coordinator
}

func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config load failed (%v), using defaults\n", err)
		cfg = defaultConfig()
	}

	log := newLogger(cfg.Log)
	slog.SetDefault(log)

	mgr, err := newSecretsManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	switch cfg.Store.Backend {
	case "neo4j":
		password := cfg.Store.Password
		if password == "" {
			password = mgr.GetOrDefault(ctx, secrets.SecretStorePassword, "")
		}
		neo, err := neo4jstore.New(ctx, cfg.Store.URI, cfg.Store.Username, password)
		if err != nil {
			return nil, fmt.Errorf("connecting to neo4j: %w", err)
		}
		a.neo = neo
		a.repo = neo
	default:
		log.Warn("using in-memory metadata store, pages will not survive restart")
		a.repo = store.NewMemory()
	}

	a.embedder, err = buildEmbedder(ctx, cfg, mgr)
	if err != nil {
		return nil, err
	}

	var index vector.Searcher
	switch cfg.Vector.Backend {
	case "qdrant":
		q, err := qdrantindex.New(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		a.qdrant = q
		index = q
	default:
		flat, err := loadFlatIndex(cfg, log)
		if err != nil {
			return nil, err
		}
		a.flat = flat
		index = vector.AsSearcher(flat)
	}

	a.pipeline = ingest.New(a.repo, a.embedder, index, log)
	a.coordinator = search.New(a.repo, a.embedder, index, log)
	return a, nil
}

func buildEmbedder(ctx context.Context, cfg *config.Config, mgr *secrets.Manager) (embed.Provider, error) {
	apiKey := cfg.Embedding.APIKey
	if apiKey == "" {
		apiKey = mgr.GetOrDefault(ctx, secrets.SecretEmbeddingAPIKey, "")
	}

	factory := embed.NewFactory()
	for name, url := range embed.KnownProviders {
		name, url := name, url
		factory.Register(name, func(c embed.ProviderConfig) (embed.Provider, error) {
			if c.BaseURL == "" {
				c.BaseURL = url
			}
			return openaiembed.New(c), nil
		})
	}
	factory.Register("custom", func(c embed.ProviderConfig) (embed.Provider, error) {
		if c.BaseURL == "" {
			return nil, fmt.Errorf("custom embedding provider requires base_url")
		}
		return openaiembed.New(c), nil
	})

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
	if cfg.Embedding.TimeoutSeconds > 0 {
		pc.Timeout = time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second
	}
	pc.MaxRetries = cfg.Embedding.MaxRetries

	provider, err := factory.Create(pc)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	if cfg.Embedding.RequestsPerMinute > 0 {
		provider = embed.WithRateLimit(provider, &embed.RateLimitConfig{
			RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
			BurstSize:         5,
		})
	}
	return provider, nil
}

func loadFlatIndex(cfg *config.Config, log *slog.Logger) (*vector.Flat, error) {
	metric := vector.Metric(cfg.Vector.Metric)
	if metric == "" {
		metric = vector.MetricL2
	}
	dim := cfg.Embedding.Dimension
	if dim <= 0 {
		dim = embed.DefaultProviderConfig().Dimension
	}

	path := cfg.Vector.SnapshotPath
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			flat, err := vector.Load(path, dim, metric)
			if err != nil {
				return nil, fmt.Errorf("loading index snapshot: %w", err)
			}
			log.Info("loaded index snapshot", "path", path, "slots", flat.Len())
			return flat, nil
		}
	}
	return vector.NewFlat(dim, metric)
}

func serve(configPath string) error {
	ctx := context.Background()

	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}

	tc := observability.DefaultTracingConfig()
	tc.ServiceVersion = version
	tc.OTLPEndpoint = a.cfg.Tracing.OTLPEndpoint
	if a.cfg.Tracing.SampleRate > 0 {
		tc.SampleRate = a.cfg.Tracing.SampleRate
	}
	if a.cfg.Tracing.Environment != "" {
		tc.Environment = a.cfg.Tracing.Environment
	}
	tp, err := observability.InitTracing(ctx, tc)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	health := server.NewHealthState(version)
	if a.neo != nil {
		health.RegisterCheck("store", server.StoreHealthChecker(a.neo.Ping))
	} else {
		health.RegisterCheck("store", server.StoreHealthChecker(nil))
	}
	health.RegisterCheck("embedder", server.EmbedderHealthChecker(a.embedder.Name(), nil))
	if a.flat != nil {
		health.RegisterCheck("index", server.IndexHealthChecker(a.flat.Len, a.pipeline.StoredCount))
	}

	api := server.New(&server.Config{
		ListenAddr: a.cfg.Server.ListenAddr,
		Version:    version,
	}, a.pipeline, a.coordinator, health, a.log)

	sd := server.NewShutdownHandler(server.DefaultShutdownConfig())
	sd.RegisterHook("http_server", server.PriorityHTTPServer, api.Stop)
	if a.flat != nil && a.cfg.Vector.SnapshotPath != "" {
		flat, path := a.flat, a.cfg.Vector.SnapshotPath
		sd.RegisterHook("index_snapshot", server.PriorityIndexSnapshot, func(ctx context.Context) error {
			return flat.Save(path)
		})
	}
	sd.RegisterHook("tracing", server.PriorityTracing, tp.Shutdown)
	sd.RegisterHook("store", server.PriorityStore, a.repo.Close)
	if a.qdrant != nil {
		q := a.qdrant
		sd.RegisterHook("qdrant", server.PriorityStore, func(ctx context.Context) error {
			return q.Close()
		})
	}
	sd.Start()

	go func() {
		if err := api.Start(); err != nil {
			a.log.Error("api server failed", "error", err)
			sd.Shutdown()
		}
	}()

	sd.Wait()
	return nil
}

func rebuild(configPath string) error {
	ctx := context.Background()

	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.repo.Close(ctx)

	start := time.Now()
	if err := a.pipeline.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	if a.flat != nil {
		if path := a.cfg.Vector.SnapshotPath; path != "" {
			if err := a.flat.Save(path); err != nil {
				return fmt.Errorf("saving index snapshot: %w", err)
			}
		}
		fmt.Printf("Rebuilt index with %d slots in %v\n", a.flat.Len(), time.Since(start).Round(time.Millisecond))
	} else {
		fmt.Printf("Rebuilt index in %v\n", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func keysSet(configPath, name, value string) error {
	mgr, err := fileSecretsManager(configPath)
	if err != nil {
		return err
	}
	if err := mgr.Set(context.Background(), name, value); err != nil {
		return fmt.Errorf("storing key: %w", err)
	}
	fmt.Printf("Stored key %q\n", name)
	return nil
}

func keysGet(configPath, name string) error {
	mgr, err := fileSecretsManager(configPath)
	if err != nil {
		return err
	}
	value, err := mgr.Get(context.Background(), name)
	if err != nil {
		return fmt.Errorf("key %q: %w", name, err)
	}
	fmt.Println(value)
	return nil
}

// fileSecretsManager always uses the file backend so keys set from the CLI
// land in the key store regardless of the configured runtime provider.
func fileSecretsManager(configPath string) (*secrets.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = defaultConfig()
	}
	path := cfg.Secrets.KeysPath
	if path == "" {
		path = secrets.DefaultKeysPath()
	}
	return secrets.NewManager(&secrets.Config{
		Provider: "file",
		FileConfig: &secrets.FileConfig{
			Path:            path,
			CreateIfMissing: true,
		},
	})
}

func newSecretsManager(cfg *config.Config) (*secrets.Manager, error) {
	sc := secrets.DefaultConfig()
	if cfg.Secrets.Provider == "file" {
		path := cfg.Secrets.KeysPath
		if path == "" {
			path = secrets.DefaultKeysPath()
		}
		sc = &secrets.Config{
			Provider:   "file",
			FileConfig: &secrets.FileConfig{Path: path, CreateIfMissing: true},
		}
	}
	return secrets.NewManager(sc)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func defaultConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8000"},
		Store:     config.StoreConfig{Backend: "memory"},
		Embedding: config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536, MaxChars: 1000, TimeoutSeconds: 30, MaxRetries: 3},
		Vector:    config.VectorConfig{Backend: "flat", Metric: "l2"},
		Temporal:  config.TemporalConfig{Host: "localhost:7233", Namespace: "default", TaskQueue: "pastense-reindex"},
		Log:       config.LogConfig{Level: "info", Format: "text"},
	}
}
