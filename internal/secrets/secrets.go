// Package secrets provides API-key storage with env and file backends.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Well-known secret names.
const (
	SecretEmbeddingAPIKey = "embedding_api_key"
	SecretStorePassword   = "store_password"
)

// Provider is the interface for secret backends.
type Provider interface {
	// Get retrieves a secret by key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores a secret (not all providers support this).
	Set(ctx context.Context, key, value string) error
	// Delete removes a secret (not all providers support this).
	Delete(ctx context.Context, key string) error
	// Name returns the provider name.
	Name() string
}

// Config configures the secrets manager.
type Config struct {
	// Provider specifies which backend to use: "env" or "file"
	Provider string
	// FileConfig for the file-based backend (local development)
	FileConfig *FileConfig
	// Prefix for environment variable names (default: "PASTENSE_")
	EnvPrefix string
}

// DefaultConfig returns default secrets configuration (env-based).
func DefaultConfig() *Config {
	return &Config{
		Provider:  "env",
		EnvPrefix: "PASTENSE_",
	}
}

// Manager provides unified access to secrets with an env fallback.
type Manager struct {
	primary  Provider
	fallback Provider
	cacheMu  sync.RWMutex
	cache    map[string]string
}

// NewManager creates a secrets manager with the specified configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var primary Provider
	var err error

	switch cfg.Provider {
	case "file":
		if cfg.FileConfig == nil {
			return nil, fmt.Errorf("file config required for file provider")
		}
		primary, err = NewFileProvider(cfg.FileConfig)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
	case "env", "":
		primary = NewEnvProvider(cfg.EnvPrefix)
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	return &Manager{
		primary:  primary,
		fallback: NewEnvProvider(cfg.EnvPrefix),
		cache:    make(map[string]string),
	}, nil
}

// Get retrieves a secret, trying primary then the env fallback.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.cacheMu.RLock()
	if val, ok := m.cache[key]; ok {
		m.cacheMu.RUnlock()
		return val, nil
	}
	m.cacheMu.RUnlock()

	val, err := m.primary.Get(ctx, key)
	if err == nil && val != "" {
		m.cacheSet(key, val)
		return val, nil
	}

	val, err = m.fallback.Get(ctx, key)
	if err == nil && val != "" {
		m.cacheSet(key, val)
		return val, nil
	}

	return "", fmt.Errorf("secret not found: %s", key)
}

// GetOrDefault retrieves a secret or returns a default value.
func (m *Manager) GetOrDefault(ctx context.Context, key, defaultVal string) string {
	val, err := m.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

// Set stores a secret in the primary provider and refreshes the cache.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	if err := m.primary.Set(ctx, key, value); err != nil {
		return err
	}
	m.cacheSet(key, value)
	return nil
}

func (m *Manager) cacheSet(key, value string) {
	m.cacheMu.Lock()
	m.cache[key] = value
	m.cacheMu.Unlock()
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "PASTENSE_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(key)
	val := os.Getenv(envKey)
	if val == "" {
		return "", fmt.Errorf("environment variable not set: %s", envKey)
	}
	return val, nil
}

func (p *EnvProvider) Set(ctx context.Context, key, value string) error {
	return fmt.Errorf("env provider is read-only")
}

func (p *EnvProvider) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("env provider is read-only")
}

var _ Provider = (*EnvProvider)(nil)
