package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileConfig configures the file-based secrets provider.
type FileConfig struct {
	// Path is the path to the keys file (JSON object of name → key).
	Path string
	// CreateIfMissing creates the file if it doesn't exist.
	CreateIfMissing bool
}

// DefaultKeysPath returns the per-user location of the keys file.
func DefaultKeysPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "./data"
	}
	return filepath.Join(dir, "pastense", "keys.json")
}

// FileProvider stores API keys in a local JSON file. Keys sit on disk in
// plain text, which fits a single-user local service and nothing stricter;
// use env vars anywhere shared.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider creates a file-based secrets provider.
func NewFileProvider(config *FileConfig) (*FileProvider, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("file path required")
	}

	p := &FileProvider{
		path: config.Path,
		data: make(map[string]string),
	}

	if err := p.load(); err != nil {
		if os.IsNotExist(err) && config.CreateIfMissing {
			if err := p.save(); err != nil {
				return nil, fmt.Errorf("create keys file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load keys file: %w", err)
		}
	}

	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}

func (p *FileProvider) Set(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data[key] = value
	return p.save()
}

func (p *FileProvider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.data, key)
	return p.save()
}

func (p *FileProvider) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &p.data)
}

func (p *FileProvider) save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o600)
}

var _ Provider = (*FileProvider)(nil)
