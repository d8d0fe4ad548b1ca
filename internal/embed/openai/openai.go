// Package openai implements embed.Provider for OpenAI-compatible APIs
// (OpenAI, Groq, Ollama, vLLM, etc.).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pastense/pastense/internal/embed"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client calls the /embeddings endpoint of an OpenAI-compatible API.
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	maxChars  int
	http      *http.Client
}

// New creates an OpenAI-compatible embedding client.
func New(cfg embed.ProviderConfig) *Client {
	defaults := embed.DefaultProviderConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = defaults.Dimension
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = defaults.MaxChars
	}
	return &Client{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		baseURL:   cfg.BaseURL,
		dimension: cfg.Dimension,
		maxChars:  cfg.MaxChars,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Name() string { return "openai" }

// Embed sends the texts (each truncated to the configured byte bound) and
// validates that the response carries one vector of the expected dimension
// per input. Any transport or shape failure maps to embed.ErrUnavailable;
// the client itself never retries.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = embed.Truncate(t, c.maxChars)
	}

	body := map[string]any{
		"model": c.model,
		"input": inputs,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embed.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", embed.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %s", embed.ErrUnavailable, resp.Status, respBody)
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", embed.ErrUnavailable, err)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", embed.ErrUnavailable, len(result.Data), len(texts))
	}

	vectors := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		if len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", embed.ErrUnavailable, i, len(d.Embedding), c.dimension)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

var _ embed.Provider = (*Client)(nil)
