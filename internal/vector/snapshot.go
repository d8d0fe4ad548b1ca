package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshot is the on-disk layout for a Flat index. The dimension and metric
// travel with the data so a load against a differently configured embedding
// model fails loudly instead of truncating silently.
type snapshot struct {
	Dimension int         `json:"dimension"`
	Metric    Metric      `json:"metric"`
	URLs      []string    `json:"urls"`
	Vectors   [][]float32 `json:"vectors"`
	SavedAt   time.Time   `json:"savedAt"`
}

// Save writes the index contents to path. The index stays usable; readers
// block only while the in-memory state is copied.
func (f *Flat) Save(path string) error {
	f.mu.RLock()
	snap := snapshot{
		Dimension: f.dim,
		Metric:    f.metric,
		URLs:      append([]string(nil), f.urls...),
		Vectors:   append([][]float32(nil), f.vectors...),
		SavedAt:   time.Now().UTC(),
	}
	f.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal index snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot from path into a new index. A dimension or metric
// mismatch against the expected configuration is a configuration error, not
// something to paper over.
func Load(path string, dim int, metric Metric) (*Flat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode index snapshot: %w", err)
	}

	if snap.Dimension != dim {
		return nil, fmt.Errorf("index snapshot dimension %d does not match configured dimension %d", snap.Dimension, dim)
	}
	if snap.Metric != metric {
		return nil, fmt.Errorf("index snapshot metric %q does not match configured metric %q", snap.Metric, metric)
	}
	if len(snap.URLs) != len(snap.Vectors) {
		return nil, fmt.Errorf("corrupt index snapshot: %d urls for %d vectors", len(snap.URLs), len(snap.Vectors))
	}

	f, err := NewFlat(dim, metric)
	if err != nil {
		return nil, err
	}
	if err := f.Replace(snap.URLs, snap.Vectors); err != nil {
		return nil, fmt.Errorf("corrupt index snapshot: %w", err)
	}
	return f, nil
}
