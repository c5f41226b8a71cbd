package dc

import "context"

// Status is one torrent's last-polled state from a download client. Raw keeps
// the client's own vocabulary for the registry snapshot.
type Status struct {
	ID       string
	Name     string
	State    string
	Progress float64
	SavePath string
	Size     int64
	Raw      map[string]any
}

// IsSeeding reports the terminal "done locally, uploading to peers" condition.
func (s Status) IsSeeding() bool {
	switch s.State {
	case "seeding", "seedingwait", "uploading", "stalledUP", "queuedUP", "forcedUP", "completed", "finished":
		return true
	}

	return false
}

// IsPaused reports a stopped torrent.
func (s Status) IsPaused() bool {
	switch s.State {
	case "paused", "stopped", "pausedDL", "pausedUP", "stoppedDL", "stoppedUP":
		return true
	}

	return false
}

// IsDownloading reports an in-flight download.
func (s Status) IsDownloading() bool {
	switch s.State {
	case "downloading", "stalledDL", "metaDL", "queuedDL", "checkingDL":
		return true
	}

	return false
}

// AddOptions controls how a metadata file is registered with a client.
type AddOptions struct {
	SavePath string
	Paused   bool
	Label    string
}

// Client is a torrent-client daemon queried and controlled over RPC.
type Client interface {
	// Name identifies the client in logs and audit records.
	Name() string

	// GetStatusMap bulk-polls the client, keyed by content id.
	GetStatusMap(ctx context.Context) (map[string]Status, error)

	// AddTorrentFile registers a metadata file with the client.
	AddTorrentFile(ctx context.Context, filename string, metainfo []byte, opts AddOptions) error

	// RemoveTorrent drops a torrent, optionally deleting its payload.
	RemoveTorrent(ctx context.Context, id string, deleteData bool) error
}
