package embed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact is the precomputed embedding set for cluster representatives.
// The three slices are parallel: entry i is the vector for Phrases[i],
// which represents cluster ClusterIDs[i]. Search loads this once at
// startup and never touches the embeddings API.
type Artifact struct {
	Model      string      `json:"model"`
	Dims       int         `json:"dims"`
	ClusterIDs []int64     `json:"cluster_ids"`
	Phrases    []string    `json:"phrases"`
	Vectors    [][]float32 `json:"vectors"`
}

// Len returns the number of embedded phrases.
func (a *Artifact) Len() int { return len(a.Phrases) }

// Validate checks the parallel slices line up and every vector has the
// declared dimensionality.
func (a *Artifact) Validate() error {
	if len(a.Phrases) != len(a.Vectors) || len(a.Phrases) != len(a.ClusterIDs) {
		return fmt.Errorf("artifact slices misaligned: %d ids, %d phrases, %d vectors",
			len(a.ClusterIDs), len(a.Phrases), len(a.Vectors))
	}
	for i, v := range a.Vectors {
		if len(v) != a.Dims {
			return fmt.Errorf("vector %d has %d dims, artifact declares %d", i, len(v), a.Dims)
		}
	}
	return nil
}

// SaveArtifact writes the artifact atomically (temp file plus rename).
func SaveArtifact(path string, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid artifact: %w", err)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating artifact temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing artifact temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("installing artifact: %w", err)
	}
	return nil
}

// LoadArtifact reads and validates an artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return &a, nil
}
