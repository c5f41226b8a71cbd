package sqlite

import (
	"context"

	"github.com/DiskTrackTed/transferarr-sub001/internal/history"
	"github.com/DiskTrackTed/transferarr-sub001/internal/telemetry"
)

// InstrumentedStore wraps Store with telemetry.
type InstrumentedStore struct {
	store     *Store
	telemetry *telemetry.Telemetry
}

// NewInstrumentedStore decorates a store with db operation metrics.
func NewInstrumentedStore(store *Store, tel *telemetry.Telemetry) *InstrumentedStore {
	return &InstrumentedStore{store: store, telemetry: tel}
}

func (s *InstrumentedStore) Close() {
	s.store.Close()
}

func (s *InstrumentedStore) CreateTransfer(params history.CreateParams) (string, error) {
	var id string

	err := s.telemetry.InstrumentDBOperation(context.Background(), "create_transfer", func(context.Context) error {
		var err error
		id, err = s.store.CreateTransfer(params)

		return err
	})

	return id, err
}

func (s *InstrumentedStore) StartTransfer(id string) error {
	return s.telemetry.InstrumentDBOperation(context.Background(), "start_transfer", func(context.Context) error {
		return s.store.StartTransfer(id)
	})
}

// UpdateProgress is deliberately not traced per call: the throttle makes most
// calls no-ops and tracing them would swamp the exporter.
func (s *InstrumentedStore) UpdateProgress(id string, bytes int64, force bool) error {
	return s.store.UpdateProgress(id, bytes, force)
}

func (s *InstrumentedStore) CompleteTransfer(id string) error {
	return s.telemetry.InstrumentDBOperation(context.Background(), "complete_transfer", func(context.Context) error {
		return s.store.CompleteTransfer(id)
	})
}

func (s *InstrumentedStore) FailTransfer(id string, message string) error {
	return s.telemetry.InstrumentDBOperation(context.Background(), "fail_transfer", func(context.Context) error {
		return s.store.FailTransfer(id, message)
	})
}

func (s *InstrumentedStore) GetTransfer(id string) (*history.Record, error) {
	var record *history.Record

	err := s.telemetry.InstrumentDBOperation(context.Background(), "get_transfer", func(context.Context) error {
		var err error
		record, err = s.store.GetTransfer(id)

		return err
	})

	return record, err
}

func (s *InstrumentedStore) ListTransfers(filter history.Filter) ([]*history.Record, int, error) {
	var (
		records []*history.Record
		total   int
	)

	err := s.telemetry.InstrumentDBOperation(context.Background(), "list_transfers", func(context.Context) error {
		var err error
		records, total, err = s.store.ListTransfers(filter)

		return err
	})

	return records, total, err
}

func (s *InstrumentedStore) GetActiveTransfers() ([]*history.Record, error) {
	var records []*history.Record

	err := s.telemetry.InstrumentDBOperation(context.Background(), "get_active_transfers", func(context.Context) error {
		var err error
		records, err = s.store.GetActiveTransfers()

		return err
	})

	return records, err
}

func (s *InstrumentedStore) GetStats() (*history.Stats, error) {
	var stats *history.Stats

	err := s.telemetry.InstrumentDBOperation(context.Background(), "get_stats", func(context.Context) error {
		var err error
		stats, err = s.store.GetStats()

		return err
	})

	return stats, err
}

func (s *InstrumentedStore) PruneOldEntries(retentionDays int) (int, error) {
	var deleted int

	err := s.telemetry.InstrumentDBOperation(context.Background(), "prune_old_entries", func(context.Context) error {
		var err error
		deleted, err = s.store.PruneOldEntries(retentionDays)

		return err
	})

	return deleted, err
}

func (s *InstrumentedStore) DeleteTransfer(id string) (bool, error) {
	var found bool

	err := s.telemetry.InstrumentDBOperation(context.Background(), "delete_transfer", func(context.Context) error {
		var err error
		found, err = s.store.DeleteTransfer(id)

		return err
	})

	return found, err
}

func (s *InstrumentedStore) ClearHistory(status history.Status) (int, error) {
	var deleted int

	err := s.telemetry.InstrumentDBOperation(context.Background(), "clear_history", func(context.Context) error {
		var err error
		deleted, err = s.store.ClearHistory(status)

		return err
	})

	return deleted, err
}

var _ history.Store = (*InstrumentedStore)(nil)
