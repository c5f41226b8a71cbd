package registry

import (
	"fmt"
	"sort"
	"sync"
)

// State is the lifecycle position of a tracked torrent.
type State string

const (
	StateQueued           State = "queued"
	StateLocalDownloading State = "local_downloading"
	StateLocalPaused      State = "local_paused"
	StateLocalSeeding     State = "local_seeding"
	StateCopying          State = "copying"
	StateCopied           State = "copied"
	StateRemoteSeeding    State = "remote_seeding"
	StateError            State = "error"
	StateMissing          State = "missing"
)

// Absorbing reports whether a state has no automatic exit transition. Torrents
// in these states stay there until an operator intervenes.
func (s State) Absorbing() bool {
	return s == StateError || s == StateMissing
}

// ClientInfo is the last-polled status snapshot from a download client,
// kept opaque so clients with different RPC vocabularies can coexist.
type ClientInfo map[string]any

// Torrent is one tracked download. Matched across systems by name until the
// content id is known, then pinned to the id.
type Torrent struct {
	Name         string     `json:"name"`
	ID           string     `json:"id"`
	State        State      `json:"state"`
	LocalInfo    ClientInfo `json:"local_client_info,omitempty"`
	RemoteInfo   ClientInfo `json:"remote_client_info,omitempty"`
	MetadataPath string     `json:"metadata_file_path,omitempty"`
	Manager      string     `json:"manager,omitempty"`
}

// SnapshotStore persists the full torrent set. The registry rewrites the
// snapshot after every mutation so state and storage never diverge by more
// than one in-process change.
type SnapshotStore interface {
	Save(torrents []*Torrent) error
	Load() ([]*Torrent, error)
}

// PersistFunc is the deferred side effect of a state transition. The state
// machine itself stays pure; the caller decides when the snapshot is written.
type PersistFunc func() error

// Registry is the in-memory set of tracked torrents, keyed by name.
// At most one live torrent per name at a time.
type Registry struct {
	mu       sync.Mutex
	torrents map[string]*Torrent
	snapshot SnapshotStore
}

func New(snapshot SnapshotStore) *Registry {
	return &Registry{
		torrents: make(map[string]*Torrent),
		snapshot: snapshot,
	}
}

// Load repopulates the registry from the last snapshot.
func (r *Registry) Load() error {
	torrents, err := r.snapshot.Load()
	if err != nil {
		return fmt.Errorf("failed to load registry snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.torrents = make(map[string]*Torrent, len(torrents))
	for _, t := range torrents {
		r.torrents[t.Name] = t
	}

	return nil
}

// Adopt registers a new torrent and persists the snapshot. Registering a
// second live torrent under the same name is rejected.
func (r *Registry) Adopt(t *Torrent) error {
	r.mu.Lock()

	if _, exists := r.torrents[t.Name]; exists {
		r.mu.Unlock()

		return fmt.Errorf("torrent %q already tracked", t.Name)
	}

	if t.State == "" {
		t.State = StateQueued
	}

	r.torrents[t.Name] = t
	r.mu.Unlock()

	return r.Save()
}

// Get finds a torrent by display name.
func (r *Registry) Get(name string) (*Torrent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.torrents[name]

	return t, ok
}

// GetByID finds a torrent by content id once one has been pinned.
func (r *Registry) GetByID(id string) (*Torrent, bool) {
	if id == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.torrents {
		if t.ID == id {
			return t, true
		}
	}

	return nil, false
}

// All returns the tracked torrents sorted by name.
func (r *Registry) All() []*Torrent {
	r.mu.Lock()
	defer r.mu.Unlock()

	torrents := make([]*Torrent, 0, len(r.torrents))
	for _, t := range r.torrents {
		torrents = append(torrents, t)
	}

	sort.Slice(torrents, func(i, j int) bool { return torrents[i].Name < torrents[j].Name })

	return torrents
}

// Remove drops a torrent from the registry and persists the snapshot.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	delete(r.torrents, name)
	r.mu.Unlock()

	return r.Save()
}

// ApplyTransition mutates the torrent's state in memory and returns the
// persist operation for the caller to execute. Transitions out of absorbing
// states are rejected.
func (r *Registry) ApplyTransition(t *Torrent, next State) (PersistFunc, error) {
	if t.State.Absorbing() && next != t.State {
		return nil, fmt.Errorf("torrent %q is %s, no automatic transition to %s", t.Name, t.State, next)
	}

	t.State = next

	return r.Save, nil
}

// SetState applies a transition and immediately persists it. This is the
// orchestrator's path; tests use ApplyTransition to exercise the machine
// without storage.
func (r *Registry) SetState(t *Torrent, next State) error {
	persist, err := r.ApplyTransition(t, next)
	if err != nil {
		return err
	}

	return persist()
}

// Save rewrites the full snapshot. Called after every mutation, including
// client-info refreshes done directly on Torrent fields.
func (r *Registry) Save() error {
	if err := r.snapshot.Save(r.All()); err != nil {
		return fmt.Errorf("failed to save registry snapshot: %w", err)
	}

	return nil
}
