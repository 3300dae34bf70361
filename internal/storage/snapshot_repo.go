package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matodo9x-maker/bot-trade/internal/snapshot"
)

// ErrSnapshotExists is returned by Save when a snapshot with the same
// id is already on disk. Callers that intend duplicate-cycle idempotence
// (re-evaluating an already-closed bar) should match on this error
// specifically rather than swallowing every error Save can return.
var ErrSnapshotExists = errors.New("storage: snapshot already exists and is immutable")

// SnapshotRepo persists each snapshot as its own immutable JSON file
// under base, keyed by snapshot id, grounded on snapshot_repo_fs_json.py.
// Snapshots are write-once: Save refuses to overwrite an existing file.
type SnapshotRepo struct {
	base string
}

func NewSnapshotRepo(base string) (*SnapshotRepo, error) {
	if base == "" {
		base = "data/runtime/snapshots"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create snapshot dir %s: %w", base, err)
	}
	return &SnapshotRepo{base: base}, nil
}

func (s *SnapshotRepo) path(snapshotID string) string {
	return filepath.Join(s.base, snapshotID+".json")
}

// Save writes a snapshot's ToMap() form. It errors if a snapshot with
// the same id already exists, since snapshots are immutable.
func (s *SnapshotRepo) Save(snap snapshot.Snapshot) error {
	p := s.path(snap.SnapshotID)
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("storage: snapshot %s: %w", snap.SnapshotID, ErrSnapshotExists)
	}
	data, err := json.Marshal(snap.ToMap())
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot %s: %w", snap.SnapshotID, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("storage: write snapshot %s: %w", snap.SnapshotID, err)
	}
	return nil
}

// Get returns the raw decoded tree for a snapshot id, or ok=false if
// it was never saved. It returns the map form rather than a rebuilt
// snapshot.Snapshot since ToMap is lossy for map[string]any consumers
// (the feature mapper) and that is the only reader this repo currently
// serves.
func (s *SnapshotRepo) Get(snapshotID string) (map[string]any, bool, error) {
	data, err := os.ReadFile(s.path(snapshotID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: read snapshot %s: %w", snapshotID, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("storage: decode snapshot %s: %w", snapshotID, err)
	}
	return out, true, nil
}
