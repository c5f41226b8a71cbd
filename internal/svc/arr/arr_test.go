package arr_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DiskTrackTed/transferarr-sub001/internal/history"
	"github.com/DiskTrackTed/transferarr-sub001/internal/registry"
	"github.com/DiskTrackTed/transferarr-sub001/internal/svc/arr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaType(t *testing.T) {
	tests := []struct {
		name string
		kind arr.Kind
		want history.MediaType
	}{
		{"radarr", arr.KindRadarr, history.MediaTypeMovie},
		{"sonarr", arr.KindSonarr, history.MediaTypeEpisode},
		{"unknown", arr.Kind("lidarr"), history.MediaTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := arr.NewClient(tt.name, tt.kind, "key", "http://localhost")
			assert.Equal(t, tt.want, client.MediaType())
		})
	}
}

func TestGetQueueUpdates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.Equal(t, "/api/v3/queue", r.URL.Path)

		fmt.Fprint(w, `{
			"totalRecords": 3,
			"records": [
				{"title": "Some Movie 2024", "downloadId": "ABC123", "status": "downloading", "size": 1024},
				{"title": "Known Movie", "downloadId": "DEF456", "status": "downloading", "size": 2048},
				{"title": "", "downloadId": "GHOST", "status": "downloading", "size": 0}
			]
		}`)
	}))
	defer ts.Close()

	known := &registry.Torrent{Name: "Known Movie", State: registry.StateLocalDownloading}

	client := arr.NewClient("radarr", arr.KindRadarr, "secret", ts.URL)

	additions, err := client.GetQueueUpdates(context.Background(), []*registry.Torrent{known})
	require.NoError(t, err)

	// The untitled record is skipped, the known one enriched, not re-added.
	require.Len(t, additions, 1)
	assert.Equal(t, "Some Movie 2024", additions[0].Name)
	assert.Equal(t, "abc123", additions[0].ID)
	assert.Equal(t, registry.StateQueued, additions[0].State)
	assert.Equal(t, "radarr", additions[0].Manager)

	assert.Equal(t, "def456", known.ID)
	assert.Equal(t, "radarr", known.Manager)
	assert.Equal(t, registry.StateLocalDownloading, known.State)
}

func TestGetQueueUpdates_Paginated(t *testing.T) {
	var pages []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)

		if page == "1" {
			fmt.Fprint(w, `{"totalRecords": 1001, "records": [`+record("page-one", 1000)+`]}`)

			return
		}

		fmt.Fprint(w, `{"totalRecords": 1001, "records": [{"title": "page-two", "downloadId": "Z"}]}`)
	}))
	defer ts.Close()

	client := arr.NewClient("sonarr", arr.KindSonarr, "secret", ts.URL)

	additions, err := client.GetQueueUpdates(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, pages)
	assert.Len(t, additions, 1001)
}

func TestGetQueueUpdates_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	client := arr.NewClient("radarr", arr.KindRadarr, "bad-key", ts.URL)

	_, err := client.GetQueueUpdates(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 401")
}

// record builds n queue records named prefix-i.
func record(prefix string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}

		out += fmt.Sprintf(`{"title": "%s-%d", "downloadId": "id%d"}`, prefix, i, i)
	}

	return out
}
