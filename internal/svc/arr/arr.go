package arr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DiskTrackTed/transferarr-sub001/internal/history"
	"github.com/DiskTrackTed/transferarr-sub001/internal/registry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const queuePageSize = 1000

// Kind distinguishes the *arr flavors; it decides what media type the
// manager's downloads carry.
type Kind string

const (
	KindRadarr Kind = "radarr"
	KindSonarr Kind = "sonarr"
)

// Client represents an *arr API client used to read the download queue.
type Client struct {
	client  *http.Client
	name    string
	kind    Kind
	apiKey  string
	baseURL string
}

// NewClient creates a new *arr API client.
func NewClient(name string, kind Kind, apiKey, baseURL string) *Client {
	return &Client{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		name:    name,
		kind:    kind,
		apiKey:  apiKey,
		baseURL: baseURL,
	}
}

// Name identifies the manager in torrent records and logs.
func (c *Client) Name() string {
	return c.name
}

// MediaType maps the manager flavor to the media type recorded on transfers.
func (c *Client) MediaType() history.MediaType {
	switch c.kind {
	case KindRadarr:
		return history.MediaTypeMovie
	case KindSonarr:
		return history.MediaTypeEpisode
	default:
		return history.MediaTypeUnknown
	}
}

type queueRecord struct {
	Title      string `json:"title"`
	DownloadID string `json:"downloadId"`
	Status     string `json:"status"`
	Size       int64  `json:"size"`
}

type queueResponse struct {
	Records      []queueRecord `json:"records"`
	TotalRecords int           `json:"totalRecords"`
}

// GetQueueUpdates reads the manager's download queue and returns torrents not
// yet tracked, plus enriches known ones with the manager name and content id
// once the queue reports one. Matching is by name until an id is pinned.
func (c *Client) GetQueueUpdates(ctx context.Context, known []*registry.Torrent) ([]*registry.Torrent, error) {
	records, err := c.fetchQueue(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*registry.Torrent, len(known))
	for _, t := range known {
		byName[t.Name] = t
	}

	var additions []*registry.Torrent

	for _, record := range records {
		if record.Title == "" {
			continue
		}

		id := strings.ToLower(record.DownloadID)

		if existing, ok := byName[record.Title]; ok {
			if existing.Manager == "" {
				existing.Manager = c.name
			}

			if existing.ID == "" && id != "" {
				existing.ID = id
			}

			continue
		}

		additions = append(additions, &registry.Torrent{
			Name:    record.Title,
			ID:      id,
			State:   registry.StateQueued,
			Manager: c.name,
		})
	}

	return additions, nil
}

func (c *Client) fetchQueue(ctx context.Context) ([]queueRecord, error) {
	var (
		records   []queueRecord
		inspected int
		page      = 1
	)

	for {
		url := fmt.Sprintf("%s/api/v3/queue?page=%d&pageSize=%d", c.baseURL, page, queuePageSize)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()

			return nil, fmt.Errorf("url: %s, status: %d", url, resp.StatusCode)
		}

		var queue queueResponse
		if err := json.NewDecoder(resp.Body).Decode(&queue); err != nil {
			resp.Body.Close()

			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		resp.Body.Close()

		records = append(records, queue.Records...)
		inspected += len(queue.Records)

		if queue.TotalRecords > inspected && len(queue.Records) > 0 {
			page++
		} else {
			return records, nil
		}
	}
}
