package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const snapshotPerm = 0o644

// FileSnapshotStore persists the torrent set as a JSON file, rewritten
// atomically via a temp file so a crash mid-write never corrupts the snapshot.
type FileSnapshotStore struct {
	path string
}

func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

func (f *FileSnapshotStore) Save(torrents []*Torrent) error {
	data, err := json.MarshalIndent(torrents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, snapshotPerm); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	return os.Rename(tmp, f.path)
}

func (f *FileSnapshotStore) Load() ([]*Torrent, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var torrents []*Torrent
	if err := json.Unmarshal(data, &torrents); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", filepath.Base(f.path), err)
	}

	return torrents, nil
}
