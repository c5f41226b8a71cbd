package sqlite_test

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DiskTrackTed/transferarr-sub001/internal/history"
	"github.com/DiskTrackTed/transferarr-sub001/internal/history/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "transfers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.NewStore(newTestDB(t))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func createParams(name string) history.CreateParams {
	return history.CreateParams{
		TorrentName:    name,
		TorrentHash:    "hash-" + name,
		SourceClient:   "local",
		TargetClient:   "remote",
		ConnectionName: "seedbox",
		MediaType:      history.MediaTypeMovie,
		SizeBytes:      1000,
	}
}

func TestCreateTransfer_StartsPending(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	record, err := store.GetTransfer(id)
	require.NoError(t, err)

	assert.Equal(t, history.StatusPending, record.Status)
	assert.Equal(t, int64(0), record.BytesTransferred)
	assert.Equal(t, "ubuntu.iso", record.TorrentName)
	assert.Equal(t, "local", record.SourceClient)
	assert.Equal(t, "remote", record.TargetClient)
	assert.Equal(t, history.MediaTypeMovie, record.MediaType)
	assert.False(t, record.CreatedAt.IsZero())
	assert.Nil(t, record.StartedAt)
	assert.Nil(t, record.CompletedAt)
}

func TestCreateTransfer_DefaultsMediaType(t *testing.T) {
	store := newTestStore(t)

	params := createParams("unknown")
	params.MediaType = ""

	id, err := store.CreateTransfer(params)
	require.NoError(t, err)

	record, err := store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, history.MediaTypeUnknown, record.MediaType)
}

func TestStartTransfer(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)

	require.NoError(t, store.StartTransfer(id))

	record, err := store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, history.StatusTransferring, record.Status)
	require.NotNil(t, record.StartedAt)

	// Starting again only refreshes the timestamp.
	require.NoError(t, store.StartTransfer(id))
}

func TestStartTransfer_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.StartTransfer("no-such-id")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestStartTransfer_AlreadyFinalized(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)
	require.NoError(t, store.StartTransfer(id))
	require.NoError(t, store.CompleteTransfer(id))

	err = store.StartTransfer(id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
}

func TestUpdateProgress_Throttled(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)
	require.NoError(t, store.StartTransfer(id))

	// First write lands.
	require.NoError(t, store.UpdateProgress(id, 100, false))

	record, err := store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), record.BytesTransferred)

	// A second write inside the window is silently dropped.
	require.NoError(t, store.UpdateProgress(id, 200, false))

	record, err = store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), record.BytesTransferred)

	// A forced write inside the window lands.
	require.NoError(t, store.UpdateProgress(id, 300, true))

	record, err = store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, int64(300), record.BytesTransferred)
}

func TestUpdateProgress_NeverGoesBackwards(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)
	require.NoError(t, store.StartTransfer(id))

	require.NoError(t, store.UpdateProgress(id, 500, true))
	require.NoError(t, store.UpdateProgress(id, 200, true))

	record, err := store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, int64(500), record.BytesTransferred)
}

func TestUpdateProgress_IgnoresFinalizedRecords(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)
	require.NoError(t, store.StartTransfer(id))
	require.NoError(t, store.UpdateProgress(id, 100, true))
	require.NoError(t, store.CompleteTransfer(id))

	require.NoError(t, store.UpdateProgress(id, 900, true))

	record, err := store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), record.BytesTransferred)
}

func TestCompleteTransfer(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)
	require.NoError(t, store.StartTransfer(id))
	require.NoError(t, store.CompleteTransfer(id))

	record, err := store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, record.Status)
	require.NotNil(t, record.CompletedAt)

	// Finalizing twice is rejected.
	assert.Error(t, store.CompleteTransfer(id))
}

func TestFailTransfer(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)
	require.NoError(t, store.FailTransfer(id, "scp exited with status 1"))

	record, err := store.GetTransfer(id)
	require.NoError(t, err)
	assert.Equal(t, history.StatusFailed, record.Status)
	assert.Equal(t, "scp exited with status 1", record.ErrorMessage)
	require.NotNil(t, record.CompletedAt)
}

func TestNewStore_RecoversInterruptedTransfers(t *testing.T) {
	db := newTestDB(t)

	store, err := sqlite.NewStore(db)
	require.NoError(t, err)

	pendingID, err := store.CreateTransfer(createParams("pending"))
	require.NoError(t, err)

	transferringID, err := store.CreateTransfer(createParams("transferring"))
	require.NoError(t, err)
	require.NoError(t, store.StartTransfer(transferringID))

	completedID, err := store.CreateTransfer(createParams("completed"))
	require.NoError(t, err)
	require.NoError(t, store.CompleteTransfer(completedID))

	store.Close()

	// Reopening the store over the same database simulates a restart.
	store, err = sqlite.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	for _, id := range []string{pendingID, transferringID} {
		record, err := store.GetTransfer(id)
		require.NoError(t, err)
		assert.Equal(t, history.StatusFailed, record.Status)
		assert.Equal(t, history.InterruptedMessage, record.ErrorMessage)
		require.NotNil(t, record.CompletedAt)
	}

	record, err := store.GetTransfer(completedID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, record.Status)
	assert.Empty(t, record.ErrorMessage)
}

func TestGetTransfer_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTransfer("no-such-id")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestListTransfers_Filters(t *testing.T) {
	store := newTestStore(t)

	completedID, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)
	require.NoError(t, store.CompleteTransfer(completedID))

	failedID, err := store.CreateTransfer(createParams("debian.iso"))
	require.NoError(t, err)
	require.NoError(t, store.FailTransfer(failedID, "boom"))

	_, err = store.CreateTransfer(createParams("fedora.iso"))
	require.NoError(t, err)

	tests := []struct {
		name      string
		filter    history.Filter
		wantTotal int
	}{
		{"no filter", history.Filter{}, 3},
		{"by status", history.Filter{Status: history.StatusCompleted}, 1},
		{"by search", history.Filter{Search: "ian"}, 1},
		{"by source", history.Filter{SourceClient: "local"}, 3},
		{"by source miss", history.Filter{SourceClient: "elsewhere"}, 0},
		{"by time window", history.Filter{From: time.Now().Add(-time.Hour), To: time.Now().Add(time.Hour)}, 3},
		{"by past window", history.Filter{To: time.Now().Add(-time.Hour)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, total, err := store.ListTransfers(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			assert.Len(t, records, tt.wantTotal)
		})
	}
}

func TestListTransfers_Pagination(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 10; i++ {
		_, err := store.CreateTransfer(createParams(fmt.Sprintf("torrent-%02d", i)))
		require.NoError(t, err)
	}

	pageSizes := []int{3, 3, 3, 1}
	for page, want := range pageSizes {
		records, total, err := store.ListTransfers(history.Filter{Page: page + 1, PerPage: 3})
		require.NoError(t, err)
		assert.Equal(t, 10, total)
		assert.Len(t, records, want, "page %d", page+1)
	}

	// Past the last page.
	records, total, err := store.ListTransfers(history.Filter{Page: 5, PerPage: 3})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Empty(t, records)
}

func TestListTransfers_SortAllowList(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)

	// An unknown sort column must not leak into the query.
	records, total, err := store.ListTransfers(history.Filter{SortBy: "1; DROP TABLE transfers"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, records, 1)

	records, _, err = store.ListTransfers(history.Filter{SortBy: "torrent_name", Order: "asc"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGetActiveTransfers(t *testing.T) {
	store := newTestStore(t)

	pendingID, err := store.CreateTransfer(createParams("pending"))
	require.NoError(t, err)

	transferringID, err := store.CreateTransfer(createParams("transferring"))
	require.NoError(t, err)
	require.NoError(t, store.StartTransfer(transferringID))

	doneID, err := store.CreateTransfer(createParams("done"))
	require.NoError(t, err)
	require.NoError(t, store.CompleteTransfer(doneID))

	records, err := store.GetActiveTransfers()
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := []string{records[0].ID, records[1].ID}
	assert.Contains(t, ids, pendingID)
	assert.Contains(t, ids, transferringID)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 2; i++ {
		id, err := store.CreateTransfer(createParams(fmt.Sprintf("ok-%d", i)))
		require.NoError(t, err)
		require.NoError(t, store.CompleteTransfer(id))
	}

	id, err := store.CreateTransfer(createParams("bad"))
	require.NoError(t, err)
	require.NoError(t, store.FailTransfer(id, "boom"))

	_, err = store.CreateTransfer(createParams("queued"))
	require.NoError(t, err)

	stats, err := store.GetStats()
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Transferring)
	assert.Equal(t, int64(2000), stats.TotalBytesTransferred)
	assert.InDelta(t, 66.7, stats.SuccessRate, 0.001)
}

func TestGetStats_EmptyStore(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.GetStats()
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, float64(0), stats.SuccessRate)
	assert.Equal(t, int64(0), stats.TotalBytesTransferred)
}

func TestPruneOldEntries(t *testing.T) {
	db := newTestDB(t)

	store, err := sqlite.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	oldID, err := store.CreateTransfer(createParams("old"))
	require.NoError(t, err)
	require.NoError(t, store.CompleteTransfer(oldID))

	freshID, err := store.CreateTransfer(createParams("fresh"))
	require.NoError(t, err)
	require.NoError(t, store.CompleteTransfer(freshID))

	activeID, err := store.CreateTransfer(createParams("active"))
	require.NoError(t, err)
	require.NoError(t, store.StartTransfer(activeID))

	// Age one record past the retention window.
	aged := time.Now().UTC().AddDate(0, 0, -60).Format(time.RFC3339)
	_, err = db.Exec(`UPDATE transfers SET completed_at = ? WHERE id = ?`, aged, oldID)
	require.NoError(t, err)

	deleted, err := store.PruneOldEntries(30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.GetTransfer(oldID)
	assert.ErrorIs(t, err, history.ErrNotFound)

	_, err = store.GetTransfer(freshID)
	assert.NoError(t, err)

	// Non-positive retention drops every finished record, active ones stay.
	deleted, err = store.PruneOldEntries(0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	record, err := store.GetTransfer(activeID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusTransferring, record.Status)
}

func TestDeleteTransfer(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTransfer(createParams("ubuntu.iso"))
	require.NoError(t, err)

	found, err := store.DeleteTransfer(id)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.DeleteTransfer(id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClearHistory(t *testing.T) {
	store := newTestStore(t)

	completedID, err := store.CreateTransfer(createParams("ok"))
	require.NoError(t, err)
	require.NoError(t, store.CompleteTransfer(completedID))

	failedID, err := store.CreateTransfer(createParams("bad"))
	require.NoError(t, err)
	require.NoError(t, store.FailTransfer(failedID, "boom"))

	activeID, err := store.CreateTransfer(createParams("active"))
	require.NoError(t, err)

	deleted, err := store.ClearHistory(history.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = store.ClearHistory("")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// Active records survive a full clear.
	record, err := store.GetTransfer(activeID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusPending, record.Status)
}

func TestClearHistory_RejectsActiveStatus(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ClearHistory(history.StatusTransferring)
	assert.Error(t, err)
}
