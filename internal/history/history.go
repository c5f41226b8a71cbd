package history

import (
	"errors"
	"time"
)

// ErrNotFound is returned by lookups and deletes for unknown transfer ids.
var ErrNotFound = errors.New("transfer not found")

// InterruptedMessage is written to records found in-flight when the store is opened.
const InterruptedMessage = "transfer interrupted by application restart"

// Status represents the lifecycle state of a transfer record.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MediaType classifies what kind of content a transfer carries.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeUnknown MediaType = "unknown"
)

// Record is one durable audit-log row representing an attempt to move a
// torrent's content from a source client to a target client.
type Record struct {
	ID               string
	TorrentName      string
	TorrentHash      string
	SourceClient     string
	TargetClient     string
	ConnectionName   string
	MediaType        MediaType
	MediaManager     string
	SizeBytes        int64
	BytesTransferred int64
	Status           Status
	ErrorMessage     string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// CreateParams carries everything needed to open a new transfer record.
type CreateParams struct {
	TorrentName    string
	TorrentHash    string
	SourceClient   string
	TargetClient   string
	ConnectionName string
	MediaType      MediaType
	MediaManager   string
	SizeBytes      int64
}

// Filter narrows ListTransfers results. Zero values mean "no constraint".
type Filter struct {
	Status       Status
	SourceClient string
	TargetClient string
	Search       string // substring match on torrent name
	From         time.Time
	To           time.Time

	Page    int
	PerPage int
	SortBy  string
	Order   string // "asc" or "desc"
}

// SortFields is the allow-list of columns ListTransfers may order by.
var SortFields = map[string]bool{
	"created_at":   true,
	"started_at":   true,
	"completed_at": true,
	"torrent_name": true,
	"status":       true,
	"size_bytes":   true,
}

// Stats summarizes the whole history table.
type Stats struct {
	Total                 int     `json:"total"`
	Completed             int     `json:"completed"`
	Failed                int     `json:"failed"`
	Pending               int     `json:"pending"`
	Transferring          int     `json:"transferring"`
	SuccessRate           float64 `json:"success_rate"`
	TotalBytesTransferred int64   `json:"total_bytes_transferred"`
}

// Store is the durable transfer audit log. Implementations must be safe for
// concurrent callers; the orchestrator and the REST handlers share one Store.
type Store interface {
	CreateTransfer(params CreateParams) (string, error)
	StartTransfer(id string) error
	UpdateProgress(id string, bytes int64, force bool) error
	CompleteTransfer(id string) error
	FailTransfer(id string, message string) error
	GetTransfer(id string) (*Record, error)
	ListTransfers(filter Filter) ([]*Record, int, error)
	GetActiveTransfers() ([]*Record, error)
	GetStats() (*Stats, error)
	PruneOldEntries(retentionDays int) (int, error)
	DeleteTransfer(id string) (bool, error)
	ClearHistory(status Status) (int, error)
}
