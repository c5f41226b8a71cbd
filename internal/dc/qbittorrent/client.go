package qbittorrent

import (
	"context"
	"fmt"

	"github.com/DiskTrackTed/transferarr-sub001/internal/dc"
	qbt "github.com/autobrr/go-qbittorrent"
)

// Client adapts a qBittorrent daemon to the download-client interface.
type Client struct {
	qbt  *qbt.Client
	name string
}

func NewClient(name, host, username, password string) *Client {
	return &Client{
		name: name,
		qbt: qbt.NewClient(qbt.Config{
			Host:     host,
			Username: username,
			Password: password,
		}),
	}
}

func (c *Client) Name() string {
	return c.name
}

// Authenticate logs into the WebUI API. Call once at startup; the underlying
// client re-authenticates on session expiry.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := c.qbt.LoginCtx(ctx); err != nil {
		return fmt.Errorf("qbittorrent login failed: %w", err)
	}

	return nil
}

func (c *Client) GetStatusMap(ctx context.Context) (map[string]dc.Status, error) {
	torrents, err := c.qbt.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get torrents: %w", err)
	}

	statuses := make(map[string]dc.Status, len(torrents))
	for _, t := range torrents {
		statuses[t.Hash] = dc.Status{
			ID:       t.Hash,
			Name:     t.Name,
			State:    string(t.State),
			Progress: t.Progress * 100,
			SavePath: t.SavePath,
			Size:     t.Size,
			Raw: map[string]any{
				"state":    string(t.State),
				"category": t.Category,
				"ratio":    t.Ratio,
			},
		}
	}

	return statuses, nil
}

func (c *Client) AddTorrentFile(ctx context.Context, filename string, metainfo []byte, opts dc.AddOptions) error {
	options := make(map[string]string)

	if opts.SavePath != "" {
		options["savepath"] = opts.SavePath
		options["autoTMM"] = "false"
	}

	if opts.Paused {
		options["paused"] = "true"
	}

	if opts.Label != "" {
		options["category"] = opts.Label
	}

	if err := c.qbt.AddTorrentFromMemoryCtx(ctx, metainfo, options); err != nil {
		return fmt.Errorf("failed to add torrent %s: %w", filename, err)
	}

	return nil
}

func (c *Client) RemoveTorrent(ctx context.Context, id string, deleteData bool) error {
	if err := c.qbt.DeleteTorrentsCtx(ctx, []string{id}, deleteData); err != nil {
		return fmt.Errorf("failed to remove torrent %s: %w", id, err)
	}

	return nil
}

var _ dc.Client = (*Client)(nil)
