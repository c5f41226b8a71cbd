package transmission

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DiskTrackTed/transferarr-sub001/internal/dc"
	"github.com/DiskTrackTed/transferarr-sub001/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const sessionHeader = "X-Transmission-Session-Id"

// Client speaks the Transmission RPC protocol over HTTP, including the 409
// session-id handshake.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	Insecure   bool
	httpClient *http.Client

	name      string
	sessionID string
}

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

type torrent struct {
	HashString     string  `json:"hashString"`
	Name           string  `json:"name"`
	Status         int     `json:"status"`
	PercentDone    float64 `json:"percentDone"`
	DownloadDir    string  `json:"downloadDir"`
	TotalSize      int64   `json:"totalSize"`
	ErrorString    string  `json:"errorString"`
	DownloadedEver int64   `json:"downloadedEver"`
	UploadedEver   int64   `json:"uploadedEver"`
}

func NewClient(name, baseURL, username, password string, insecure ...bool) *Client {
	client := &Client{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		name:     name,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	if len(insecure) > 0 && insecure[0] {
		client.Insecure = true
		client.httpClient.Transport = otelhttp.NewTransport(&http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		})
	}

	return client
}

func (c *Client) Name() string {
	return c.name
}

// GetStatusMap bulk-polls the daemon, keyed by infohash.
func (c *Client) GetStatusMap(ctx context.Context) (map[string]dc.Status, error) {
	args := map[string]any{
		"fields": []string{
			"hashString", "name", "status", "percentDone",
			"downloadDir", "totalSize", "errorString",
			"downloadedEver", "uploadedEver",
		},
	}

	var result struct {
		Torrents []torrent `json:"torrents"`
	}

	if err := c.rpc(ctx, "torrent-get", args, &result); err != nil {
		return nil, fmt.Errorf("failed to get torrents: %w", err)
	}

	statuses := make(map[string]dc.Status, len(result.Torrents))
	for _, t := range result.Torrents {
		statuses[t.HashString] = dc.Status{
			ID:       t.HashString,
			Name:     t.Name,
			State:    stateFor(t),
			Progress: t.PercentDone * 100,
			SavePath: t.DownloadDir,
			Size:     t.TotalSize,
			Raw: map[string]any{
				"status":          t.Status,
				"error_string":    t.ErrorString,
				"downloaded_ever": t.DownloadedEver,
				"uploaded_ever":   t.UploadedEver,
			},
		}
	}

	return statuses, nil
}

// AddTorrentFile registers metadata with the daemon via the base64 metainfo field.
func (c *Client) AddTorrentFile(ctx context.Context, filename string, metainfo []byte, opts dc.AddOptions) error {
	args := map[string]any{
		"metainfo": base64.StdEncoding.EncodeToString(metainfo),
		"paused":   opts.Paused,
	}

	if opts.SavePath != "" {
		args["download-dir"] = opts.SavePath
	}

	if opts.Label != "" {
		args["labels"] = []string{opts.Label}
	}

	if err := c.rpc(ctx, "torrent-add", args, nil); err != nil {
		return fmt.Errorf("failed to add torrent %s: %w", filename, err)
	}

	return nil
}

func (c *Client) RemoveTorrent(ctx context.Context, id string, deleteData bool) error {
	args := map[string]any{
		"ids":               []string{id},
		"delete-local-data": deleteData,
	}

	if err := c.rpc(ctx, "torrent-remove", args, nil); err != nil {
		return fmt.Errorf("failed to remove torrent %s: %w", id, err)
	}

	return nil
}

// rpc posts one request, retrying once when the daemon rotates the session id.
func (c *Client) rpc(ctx context.Context, method string, args, result any) error {
	logger := logctx.LoggerFromContext(ctx).With("client", c.name, "method", method)

	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transmission/rpc", bytes.NewReader(body))
		if err != nil {
			return err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(sessionHeader, c.sessionID)

		if c.Username != "" {
			req.SetBasicAuth(c.Username, c.Password)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusConflict {
			c.sessionID = resp.Header.Get(sessionHeader)
			resp.Body.Close()

			logger.Debug("session id rotated, retrying")

			continue
		}

		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)

			return fmt.Errorf("rpc %s failed with status %d: %s", method, resp.StatusCode, string(b))
		}

		var rpcResp rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return fmt.Errorf("failed to decode rpc response: %w", err)
		}

		if rpcResp.Result != "success" {
			return fmt.Errorf("rpc %s returned %q", method, rpcResp.Result)
		}

		if result != nil {
			if err := json.Unmarshal(rpcResp.Arguments, result); err != nil {
				return fmt.Errorf("failed to decode rpc arguments: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("rpc %s failed: session handshake did not converge", method)
}

// Transmission status codes, see rpc-spec: 0 stopped through 6 seeding.
func stateFor(t torrent) string {
	switch t.Status {
	case 0:
		return "paused"
	case 1, 2:
		return "checkingDL"
	case 3:
		return "queuedDL"
	case 4:
		return "downloading"
	case 5:
		return "seedingwait"
	case 6:
		return "seeding"
	default:
		return "unknown"
	}
}

var _ dc.Client = (*Client)(nil)
