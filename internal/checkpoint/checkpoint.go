// Package checkpoint persists pipeline progress as full JSON snapshots.
//
// Every snapshot is complete and self-contained: the processed dreams with
// their normalized phrases and cluster assignments, plus the cluster list.
// Writes go to a temp file in the same directory followed by a rename, so
// a crash mid-write leaves the previous snapshot intact. There is no
// incremental log to replay; resume is "load the last snapshot, skip what
// it already covers".
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hurttlocker/reverie/internal/cluster"
	"github.com/hurttlocker/reverie/internal/corpus"
)

// DefaultEvery is how many records are processed between snapshots.
const DefaultEvery = 100

const stateVersion = 1

// State is one full snapshot of pipeline progress.
type State struct {
	Version   int                `json:"version"`
	SavedAt   time.Time          `json:"saved_at"`
	Total     int                `json:"total"`
	Dreams    []*corpus.Dream    `json:"dreams"`
	Clusters  []*cluster.Cluster `json:"clusters"`
}

// Processed returns how many records the snapshot covers.
func (s *State) Processed() int { return len(s.Dreams) }

// ProcessedSet returns the IDs of records the snapshot already covers.
func (s *State) ProcessedSet() map[string]bool {
	set := make(map[string]bool, len(s.Dreams))
	for _, d := range s.Dreams {
		set[d.ID] = true
	}
	return set
}

// Due reports whether a snapshot is owed after processing n records.
func Due(n, every int) bool {
	if every <= 0 {
		every = DefaultEvery
	}
	return n > 0 && n%every == 0
}

// Save writes a snapshot atomically: marshal, write to a temp file in the
// target directory, fsync, rename over the destination.
func Save(path string, st *State) error {
	st.Version = stateVersion
	st.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("installing checkpoint: %w", err)
	}
	return nil
}

// Load reads the snapshot at path. A missing file is not an error; it
// returns (nil, nil) and the caller starts fresh.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d (want %d)", st.Version, stateVersion)
	}
	return &st, nil
}
