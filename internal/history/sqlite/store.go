package sqlite

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/DiskTrackTed/transferarr-sub001/internal/history"
	"github.com/google/uuid"
)

const (
	// progressInterval is the minimum gap between durable progress writes
	// for a single record. Calls inside the window are silently dropped.
	progressInterval = 5 * time.Second

	// throttleSweepInterval and throttleIdleTTL bound the in-memory
	// throttle map: entries idle longer than the TTL are removed on sweep.
	throttleSweepInterval = 5 * time.Minute
	throttleIdleTTL       = time.Hour
)

// Store persists transfer records in SQLite. The database handle carries its
// own connection pool and write serialization; the mutex only guards the
// throttle-timestamp map.
type Store struct {
	db *sql.DB

	mu           sync.Mutex
	lastProgress map[string]time.Time

	done chan struct{}
}

// NewStore wires a Store over an initialized database and applies the restart
// recovery rule: any record still pending or transferring was interrupted and
// is finalized as failed before anyone can observe it in-flight.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:           db,
		lastProgress: make(map[string]time.Time),
		done:         make(chan struct{}),
	}

	if err := s.recoverInterrupted(); err != nil {
		return nil, fmt.Errorf("failed to recover interrupted transfers: %w", err)
	}

	go s.sweepThrottleMap()

	return s, nil
}

// Close stops the throttle sweeper. It does not close the database handle,
// which is owned by the caller.
func (s *Store) Close() {
	close(s.done)
}

func (s *Store) recoverInterrupted() error {
	_, err := s.db.Exec(
		`UPDATE transfers SET status = ?, error_message = ?, completed_at = ?
		 WHERE status IN (?, ?)`,
		history.StatusFailed, history.InterruptedMessage, now(),
		history.StatusPending, history.StatusTransferring,
	)

	return err
}

func (s *Store) sweepThrottleMap() {
	ticker := time.NewTicker(throttleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-throttleIdleTTL)

			s.mu.Lock()
			for id, last := range s.lastProgress {
				if last.Before(cutoff) {
					delete(s.lastProgress, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// CreateTransfer opens a new audit record. Records always start pending with
// zero bytes transferred.
func (s *Store) CreateTransfer(params history.CreateParams) (string, error) {
	id := uuid.New().String()

	mediaType := params.MediaType
	if mediaType == "" {
		mediaType = history.MediaTypeUnknown
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			id, torrent_name, torrent_hash, source_client, target_client,
			connection_name, media_type, media_manager, size_bytes,
			bytes_transferred, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, params.TorrentName, params.TorrentHash, params.SourceClient,
		params.TargetClient, params.ConnectionName, mediaType,
		params.MediaManager, params.SizeBytes, history.StatusPending, now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transfer record: %w", err)
	}

	return id, nil
}

// StartTransfer moves a record to transferring and stamps started_at. Calling
// it twice only refreshes the timestamp.
func (s *Store) StartTransfer(id string) error {
	res, err := s.db.Exec(
		`UPDATE transfers SET status = ?, started_at = ? WHERE id = ? AND status IN (?, ?)`,
		history.StatusTransferring, now(), id,
		history.StatusPending, history.StatusTransferring,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return s.missingOrFinalized(id, "start")
	}

	return nil
}

// UpdateProgress records bytes moved so far. Non-forced writes are throttled
// per record; throttled calls drop silently. Bytes never go backwards while a
// record is transferring.
func (s *Store) UpdateProgress(id string, bytes int64, force bool) error {
	s.mu.Lock()
	if !force {
		if last, ok := s.lastProgress[id]; ok && time.Since(last) < progressInterval {
			s.mu.Unlock()

			return nil
		}
	}
	s.lastProgress[id] = time.Now()
	s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE transfers SET bytes_transferred = MAX(bytes_transferred, ?)
		 WHERE id = ? AND status = ?`,
		bytes, id, history.StatusTransferring,
	)

	return err
}

// CompleteTransfer finalizes a record as completed.
func (s *Store) CompleteTransfer(id string) error {
	return s.finalize(id, history.StatusCompleted, "")
}

// FailTransfer finalizes a record as failed with the given reason.
func (s *Store) FailTransfer(id string, message string) error {
	return s.finalize(id, history.StatusFailed, message)
}

func (s *Store) finalize(id string, status history.Status, message string) error {
	res, err := s.db.Exec(
		`UPDATE transfers SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		status, message, now(), id,
		history.StatusPending, history.StatusTransferring,
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.lastProgress, id)
	s.mu.Unlock()

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return s.missingOrFinalized(id, string(status))
	}

	return nil
}

func (s *Store) missingOrFinalized(id, op string) error {
	var status string

	err := s.db.QueryRow(`SELECT status FROM transfers WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return history.ErrNotFound
	}

	if err != nil {
		return err
	}

	return fmt.Errorf("cannot %s transfer %s: record already %s", op, id, status)
}

const recordColumns = `id, torrent_name, torrent_hash, source_client, target_client,
	connection_name, media_type, media_manager, size_bytes, bytes_transferred,
	status, error_message, created_at, started_at, completed_at`

// GetTransfer returns a single record or history.ErrNotFound.
func (s *Store) GetTransfer(id string) (*history.Record, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM transfers WHERE id = ?`, id)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, history.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return record, nil
}

// ListTransfers returns one page of records plus the total matching count.
func (s *Store) ListTransfers(filter history.Filter) ([]*history.Record, int, error) {
	where, args := buildWhere(filter)

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM transfers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortBy := filter.SortBy
	if !history.SortFields[sortBy] {
		sortBy = "created_at"
	}

	order := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}

	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 20
	}

	query := fmt.Sprintf(
		`SELECT %s FROM transfers%s ORDER BY %s %s LIMIT ? OFFSET ?`,
		recordColumns, where, sortBy, order,
	)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

func buildWhere(filter history.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}

	if filter.SourceClient != "" {
		clauses = append(clauses, "source_client = ?")
		args = append(args, filter.SourceClient)
	}

	if filter.TargetClient != "" {
		clauses = append(clauses, "target_client = ?")
		args = append(args, filter.TargetClient)
	}

	if filter.Search != "" {
		clauses = append(clauses, "torrent_name LIKE ?")
		args = append(args, "%"+filter.Search+"%")
	}

	if !filter.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}

	if !filter.To.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

// GetActiveTransfers returns records still pending or transferring.
func (s *Store) GetActiveTransfers() ([]*history.Record, error) {
	rows, err := s.db.Query(
		`SELECT `+recordColumns+` FROM transfers WHERE status IN (?, ?) ORDER BY created_at`,
		history.StatusPending, history.StatusTransferring,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetStats aggregates the whole table.
func (s *Store) GetStats() (*history.Stats, error) {
	stats := &history.Stats{}

	err := s.db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'transferring' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'completed' THEN size_bytes ELSE 0 END), 0)
	FROM transfers`).Scan(
		&stats.Total,
		&stats.Completed,
		&stats.Failed,
		&stats.Pending,
		&stats.Transferring,
		&stats.TotalBytesTransferred,
	)
	if err != nil {
		return nil, err
	}

	if finished := stats.Completed + stats.Failed; finished > 0 {
		rate := float64(stats.Completed) / float64(finished) * 100
		stats.SuccessRate = math.Round(rate*10) / 10
	}

	return stats, nil
}

// PruneOldEntries deletes finished records older than the retention window.
// A non-positive retention deletes every finished record.
func (s *Store) PruneOldEntries(retentionDays int) (int, error) {
	query := `DELETE FROM transfers WHERE status IN (?, ?, ?)`
	args := []any{history.StatusCompleted, history.StatusFailed, history.StatusCancelled}

	if retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		query += ` AND completed_at < ?`
		args = append(args, cutoff.Format(time.RFC3339))
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}

	deleted, err := res.RowsAffected()

	return int(deleted), err
}

// DeleteTransfer removes a record by id and reports whether it existed.
func (s *Store) DeleteTransfer(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM transfers WHERE id = ?`, id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	delete(s.lastProgress, id)
	s.mu.Unlock()

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// ClearHistory deletes finished records, optionally narrowed to one terminal
// status. Pending and transferring records are never touched.
func (s *Store) ClearHistory(status history.Status) (int, error) {
	if status != "" && !status.Finished() {
		return 0, fmt.Errorf("cannot clear records with status %q", status)
	}

	query := `DELETE FROM transfers WHERE status IN (?, ?, ?)`
	args := []any{history.StatusCompleted, history.StatusFailed, history.StatusCancelled}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}

	deleted, err := res.RowsAffected()

	return int(deleted), err
}

var _ history.Store = (*Store)(nil)

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*history.Record, error) {
	var (
		record                 history.Record
		hash, source, target   sql.NullString
		connection, manager    sql.NullString
		mediaType, errMessage  sql.NullString
		created, started, done sql.NullString
	)

	err := row.Scan(
		&record.ID, &record.TorrentName, &hash, &source, &target,
		&connection, &mediaType, &manager, &record.SizeBytes,
		&record.BytesTransferred, &record.Status, &errMessage,
		&created, &started, &done,
	)
	if err != nil {
		return nil, err
	}

	record.TorrentHash = hash.String
	record.SourceClient = source.String
	record.TargetClient = target.String
	record.ConnectionName = connection.String
	record.MediaManager = manager.String
	record.ErrorMessage = errMessage.String
	record.MediaType = history.MediaTypeUnknown

	if mediaType.Valid && mediaType.String != "" {
		record.MediaType = history.MediaType(mediaType.String)
	}

	if created.Valid {
		record.CreatedAt, _ = time.Parse(time.RFC3339, created.String)
	}

	if started.Valid && started.String != "" {
		if t, err := time.Parse(time.RFC3339, started.String); err == nil {
			record.StartedAt = &t
		}
	}

	if done.Valid && done.String != "" {
		if t, err := time.Parse(time.RFC3339, done.String); err == nil {
			record.CompletedAt = &t
		}
	}

	return &record, nil
}

func scanRecords(rows *sql.Rows) ([]*history.Record, error) {
	var records []*history.Record

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
