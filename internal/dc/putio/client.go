package putio

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/DiskTrackTed/transferarr-sub001/internal/dc"
	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

// Client adapts a Put.io account to the download-client interface, letting a
// cloud seedbox stand in as the remote side. Put.io reports no infohash, so
// statuses are keyed by transfer id and correlated by name.
type Client struct {
	putioClient *putio.Client
	name        string
	parentID    int64
}

func NewClient(name, token string, parentID int64) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return &Client{
		putioClient: putio.NewClient(oauthClient),
		name:        name,
		parentID:    parentID,
	}
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) GetStatusMap(ctx context.Context) (map[string]dc.Status, error) {
	transfers, err := c.putioClient.Transfers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	statuses := make(map[string]dc.Status, len(transfers))
	for _, t := range transfers {
		statuses[strconv.FormatInt(t.ID, 10)] = dc.Status{
			ID:       strconv.FormatInt(t.ID, 10),
			Name:     t.Name,
			State:    strings.ToLower(t.Status),
			Progress: float64(t.PercentDone),
			SavePath: "/",
			Size:     int64(t.Size),
			Raw: map[string]any{
				"status":     t.Status,
				"downloaded": t.Downloaded,
				"source":     t.Source,
			},
		}
	}

	return statuses, nil
}

// AddTorrentFile uploads the metadata file; Put.io starts a transfer for any
// uploaded .torrent.
func (c *Client) AddTorrentFile(ctx context.Context, filename string, metainfo []byte, _ dc.AddOptions) error {
	if !strings.HasSuffix(filename, ".torrent") {
		filename += ".torrent"
	}

	upload, err := c.putioClient.Files.Upload(ctx, bytes.NewReader(metainfo), filename, c.parentID)
	if err != nil {
		return fmt.Errorf("failed to upload torrent %s: %w", filename, err)
	}

	if upload.Transfer == nil {
		return fmt.Errorf("upload of %s did not start a transfer", filename)
	}

	return nil
}

func (c *Client) RemoveTorrent(ctx context.Context, id string, _ bool) error {
	transferID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid transfer id %q: %w", id, err)
	}

	if err := c.putioClient.Transfers.Cancel(ctx, transferID); err != nil {
		return fmt.Errorf("failed to cancel transfer %s: %w", id, err)
	}

	return nil
}

var _ dc.Client = (*Client)(nil)
