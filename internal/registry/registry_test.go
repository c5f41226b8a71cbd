package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DiskTrackTed/transferarr-sub001/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	return registry.New(registry.NewFileSnapshotStore(filepath.Join(t.TempDir(), "torrents.json")))
}

func TestAdopt(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Adopt(&registry.Torrent{Name: "ubuntu.iso"}))

	tracked, ok := reg.Get("ubuntu.iso")
	require.True(t, ok)
	assert.Equal(t, registry.StateQueued, tracked.State)
}

func TestAdopt_RejectsDuplicateName(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Adopt(&registry.Torrent{Name: "ubuntu.iso"}))

	err := reg.Adopt(&registry.Torrent{Name: "ubuntu.iso"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already tracked")
}

func TestGetByID(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Adopt(&registry.Torrent{Name: "ubuntu.iso", ID: "abc123"}))

	tracked, ok := reg.GetByID("abc123")
	require.True(t, ok)
	assert.Equal(t, "ubuntu.iso", tracked.Name)

	_, ok = reg.GetByID("")
	assert.False(t, ok)

	_, ok = reg.GetByID("nope")
	assert.False(t, ok)
}

func TestAll_SortedByName(t *testing.T) {
	reg := newTestRegistry(t)

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, reg.Adopt(&registry.Torrent{Name: name}))
	}

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "bravo", all[1].Name)
	assert.Equal(t, "charlie", all[2].Name)
}

func TestApplyTransition(t *testing.T) {
	reg := newTestRegistry(t)

	torrent := &registry.Torrent{Name: "ubuntu.iso", State: registry.StateQueued}
	require.NoError(t, reg.Adopt(torrent))

	persist, err := reg.ApplyTransition(torrent, registry.StateLocalDownloading)
	require.NoError(t, err)

	// The state changes in memory before the persist func runs.
	assert.Equal(t, registry.StateLocalDownloading, torrent.State)
	require.NoError(t, persist())
}

func TestApplyTransition_AbsorbingStates(t *testing.T) {
	tests := []struct {
		name  string
		state registry.State
	}{
		{"error", registry.StateError},
		{"missing", registry.StateMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)

			torrent := &registry.Torrent{Name: "stuck", State: tt.state}
			require.NoError(t, reg.Adopt(torrent))

			_, err := reg.ApplyTransition(torrent, registry.StateLocalSeeding)
			require.Error(t, err)
			assert.Equal(t, tt.state, torrent.State)

			// Re-asserting the same state is allowed.
			_, err = reg.ApplyTransition(torrent, tt.state)
			assert.NoError(t, err)
		})
	}
}

func TestRemove(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Adopt(&registry.Torrent{Name: "ubuntu.iso"}))
	require.NoError(t, reg.Remove("ubuntu.iso"))

	_, ok := reg.Get("ubuntu.iso")
	assert.False(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrents.json")

	reg := registry.New(registry.NewFileSnapshotStore(path))
	require.NoError(t, reg.Adopt(&registry.Torrent{
		Name:         "ubuntu.iso",
		ID:           "abc123",
		State:        registry.StateLocalSeeding,
		MetadataPath: "/meta/abc123.torrent",
		Manager:      "radarr",
		LocalInfo:    registry.ClientInfo{"state": "seeding"},
	}))

	// A fresh registry over the same file sees the same torrents.
	reloaded := registry.New(registry.NewFileSnapshotStore(path))
	require.NoError(t, reloaded.Load())

	tracked, ok := reloaded.Get("ubuntu.iso")
	require.True(t, ok)
	assert.Equal(t, "abc123", tracked.ID)
	assert.Equal(t, registry.StateLocalSeeding, tracked.State)
	assert.Equal(t, "/meta/abc123.torrent", tracked.MetadataPath)
	assert.Equal(t, "radarr", tracked.Manager)
	assert.Equal(t, "seeding", tracked.LocalInfo["state"])
}

func TestLoad_MissingSnapshotFile(t *testing.T) {
	reg := registry.New(registry.NewFileSnapshotStore(filepath.Join(t.TempDir(), "absent.json")))

	require.NoError(t, reg.Load())
	assert.Empty(t, reg.All())
}

func TestLoad_CorruptSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrents.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	reg := registry.New(registry.NewFileSnapshotStore(path))
	assert.Error(t, reg.Load())
}
