// Package config loads Pastense configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type StoreConfig struct {
	// Backend selects the metadata store: "neo4j" or "memory".
	Backend  string `mapstructure:"backend"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type EmbeddingConfig struct {
	Provider          string `mapstructure:"provider"`
	Model             string `mapstructure:"model"`
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	Dimension         int    `mapstructure:"dimension"`
	MaxChars          int    `mapstructure:"max_chars"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

type VectorConfig struct {
	// Backend selects the index: "flat" (in-process) or "qdrant".
	Backend string `mapstructure:"backend"`
	// Metric is the distance metric for the flat backend: "cosine" or "l2".
	Metric string `mapstructure:"metric"`
	// SnapshotPath, when set, persists the flat index across restarts.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// Qdrant backend settings.
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type SecretsConfig struct {
	Provider string `mapstructure:"provider"`
	KeysPath string `mapstructure:"keys_path"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Store.Backend {
	case "", "memory", "neo4j":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown store backend %q, expected neo4j or memory", c.Store.Backend))
	}
	if c.Store.Backend == "neo4j" && c.Store.URI == "" {
		warnings = append(warnings, "store backend neo4j configured but uri is empty")
	}

	switch c.Vector.Backend {
	case "", "flat", "qdrant":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown vector backend %q, expected flat or qdrant", c.Vector.Backend))
	}
	switch c.Vector.Metric {
	case "", "cosine", "l2":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown distance metric %q, expected cosine or l2", c.Vector.Metric))
	}

	if c.Embedding.Provider != "" && c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider %q is configured but api_key is empty (will try the secrets manager)", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 {
		warnings = append(warnings, fmt.Sprintf("embedding dimension %d is negative", c.Embedding.Dimension))
	}
	if c.Embedding.MaxChars < 0 {
		warnings = append(warnings, fmt.Sprintf("embedding max_chars %d is negative", c.Embedding.MaxChars))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from file and environment. Environment variables
// use the PASTENSE_ prefix with underscores, e.g. PASTENSE_EMBEDDING_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PASTENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.max_chars", 1000)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("vector.backend", "flat")
	v.SetDefault("vector.metric", "l2")
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "pastense-reindex")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
