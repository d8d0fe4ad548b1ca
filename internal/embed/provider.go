// Package embed wraps remote text-embedding providers.
package embed

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the embedding provider could not produce a
// vector: transport failure, timeout, or a malformed response. Callers decide
// whether that is fatal; during ingestion it is not, during query it is.
var ErrUnavailable = errors.New("embedding unavailable")

// Provider is the interface all embedding backends implement.
type Provider interface {
	// Embed returns one fixed-dimension vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// ProviderConfig holds configuration for building a provider.
type ProviderConfig struct {
	Provider string // "openai", "ollama", "groq", "custom", ...
	APIKey   string
	Model    string // embedding model, e.g. "text-embedding-3-small"
	BaseURL  string // override for self-hosted / custom endpoints

	// Dimension is the expected vector length. Responses with any other
	// length are rejected as ErrUnavailable rather than passed through.
	Dimension int

	// MaxChars bounds the text sent per input (default 1000). Longer
	// content is truncated before the request, not rejected.
	MaxChars int

	// Timeout and retry configuration, applied by WrapWithRetry.
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultProviderConfig returns a config with sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Model:      "text-embedding-3-small",
		Dimension:  1536,
		MaxChars:   1000,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// Truncate bounds text to maxChars characters to cap request cost and avoid
// provider-side rejection of oversized inputs.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	count := 0
	for i := range text {
		if count == maxChars {
			return text[:i]
		}
		count++
	}
	return text
}
