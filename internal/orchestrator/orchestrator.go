package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DiskTrackTed/transferarr-sub001/internal/dc"
	"github.com/DiskTrackTed/transferarr-sub001/internal/history"
	"github.com/DiskTrackTed/transferarr-sub001/internal/logctx"
	"github.com/DiskTrackTed/transferarr-sub001/internal/metainfo"
	"github.com/DiskTrackTed/transferarr-sub001/internal/registry"
	"github.com/DiskTrackTed/transferarr-sub001/internal/telemetry"
	"github.com/DiskTrackTed/transferarr-sub001/internal/transport"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// Manager is the slice of a media-manager client the orchestrator needs.
type Manager interface {
	Name() string
	MediaType() history.MediaType
	GetQueueUpdates(ctx context.Context, known []*registry.Torrent) ([]*registry.Torrent, error)
}

// Config carries the paths and naming the transfer protocol needs.
type Config struct {
	// ConnectionName labels the remote connection on audit records.
	ConnectionName string

	// MetadataDir is where the local client keeps metadata files, one per
	// torrent keyed on content id.
	MetadataDir string

	// StagingDir is the remote directory metadata files are copied into.
	StagingDir string

	// RemoteDownloadDir is where content lands on the remote host and where
	// the remote client is told to look for it.
	RemoteDownloadDir string

	// Label is applied to torrents registered with the remote client.
	Label string
}

// Event reports a finished transfer attempt to interested listeners.
type Event struct {
	TorrentName string
	TorrentID   string
	Err         error
}

// Orchestrator drives the per-cycle pipeline: refresh the registry from the
// adapters, evaluate readiness, run the transfer protocol for ready torrents,
// and clean up torrents confirmed seeding remotely. Transfers run one at a
// time; everything inside a tick is synchronous.
type Orchestrator struct {
	cfg       Config
	reg       *registry.Registry
	store     history.Store
	local     dc.Client
	remote    dc.Client
	managers  []Manager
	transport transport.Transport
	tel       *telemetry.Telemetry

	OnTransferCompleted chan Event
	OnTransferFailed    chan Event
}

func New(
	cfg Config,
	reg *registry.Registry,
	store history.Store,
	local dc.Client,
	remote dc.Client,
	managers []Manager,
	tr transport.Transport,
	tel *telemetry.Telemetry,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		reg:       reg,
		store:     store,
		local:     local,
		remote:    remote,
		managers:  managers,
		transport: tr,
		tel:       tel,

		OnTransferCompleted: make(chan Event),
		OnTransferFailed:    make(chan Event),
	}
}

func (o *Orchestrator) Close() {
	close(o.OnTransferCompleted)
	close(o.OnTransferFailed)
}

// Tick runs one full cycle.
func (o *Orchestrator) Tick(ctx context.Context) error {
	localStatuses, remoteStatuses, err := o.refresh(ctx)
	if err != nil {
		return err
	}

	o.runTransfers(ctx, localStatuses, remoteStatuses)
	o.cleanup(ctx, remoteStatuses)

	counts := make(map[registry.State]int64)
	for _, t := range o.reg.All() {
		counts[t.State]++
	}

	for state, n := range counts {
		o.tel.RecordTrackedTorrents(string(state), n)
	}

	return o.reg.Save()
}

// refresh pulls queue updates from every manager and bulk status from both
// clients, then reconciles the registry. Managers are polled concurrently;
// everything else in the tick stays sequential.
func (o *Orchestrator) refresh(ctx context.Context) (map[string]dc.Status, map[string]dc.Status, error) {
	logger := logctx.LoggerFromContext(ctx)

	wg, gctx := errgroup.WithContext(ctx)
	additions := make([][]*registry.Torrent, len(o.managers))

	for i := range o.managers {
		manager := o.managers[i]
		known := o.reg.All()

		wg.Go(func() error {
			found, err := manager.GetQueueUpdates(gctx, known)
			if err != nil {
				return fmt.Errorf("queue poll for %s failed: %w", manager.Name(), err)
			}

			additions[i] = found

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		logger.Error("manager refresh failed", "err", err)
	}

	for _, found := range additions {
		for _, t := range found {
			if err := o.reg.Adopt(t); err != nil {
				logger.Warn("skipping queue entry", "torrent_name", t.Name, "err", err)

				continue
			}

			logger.Info("tracking new torrent", "torrent_name", t.Name, "manager", t.Manager)
		}
	}

	localStatuses, err := o.pollClient(ctx, o.local)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to poll local client %s: %w", o.local.Name(), err)
	}

	remoteStatuses, err := o.pollClient(ctx, o.remote)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to poll remote client %s: %w", o.remote.Name(), err)
	}

	o.reconcileLocal(ctx, localStatuses)
	o.reconcileRemote(remoteStatuses)

	return localStatuses, remoteStatuses, o.reg.Save()
}

func (o *Orchestrator) pollClient(ctx context.Context, client dc.Client) (map[string]dc.Status, error) {
	var statuses map[string]dc.Status

	err := o.tel.InstrumentClientOperation(ctx, client.Name(), "status_poll", func(ctx context.Context) error {
		var err error
		statuses, err = client.GetStatusMap(ctx)

		return err
	})

	return statuses, err
}

// reconcileLocal matches local client statuses to tracked torrents, by name on
// first sight, pinned by content id afterwards.
func (o *Orchestrator) reconcileLocal(ctx context.Context, statuses map[string]dc.Status) {
	logger := logctx.LoggerFromContext(ctx)
	seen := make(map[string]bool, len(statuses))

	for id, status := range statuses {
		t, ok := o.reg.GetByID(id)
		if !ok {
			t, ok = o.reg.Get(status.Name)
		}

		if !ok {
			continue
		}

		if t.ID == "" {
			t.ID = id
		}

		seen[t.Name] = true
		t.LocalInfo = clientInfo(status)

		if next, changed := localStateFor(t.State, status); changed {
			if err := o.reg.SetState(t, next); err != nil {
				logger.Warn("rejected local transition", "torrent_name", t.Name, "err", err)
			}
		}
	}

	// A torrent that was on the local client and vanished without reaching
	// the remote side is gone for good.
	for _, t := range o.reg.All() {
		if seen[t.Name] || t.ID == "" {
			continue
		}

		switch t.State {
		case registry.StateLocalDownloading, registry.StateLocalPaused, registry.StateLocalSeeding:
			logger.Warn("torrent disappeared from local client", "torrent_name", t.Name)

			if err := o.reg.SetState(t, registry.StateMissing); err != nil {
				logger.Error("failed to mark torrent missing", "torrent_name", t.Name, "err", err)
			}
		}
	}
}

func (o *Orchestrator) reconcileRemote(statuses map[string]dc.Status) {
	for _, status := range statuses {
		t, ok := o.reg.GetByID(status.ID)
		if !ok {
			t, ok = o.reg.Get(status.Name)
		}

		if !ok {
			continue
		}

		t.RemoteInfo = clientInfo(status)
	}
}

// localStateFor maps a local client status onto the lifecycle, only while the
// torrent is still in a local phase. Transfer phases are owned by the
// protocol, absorbing states by the operator.
func localStateFor(current registry.State, status dc.Status) (registry.State, bool) {
	switch current {
	case registry.StateQueued, registry.StateLocalDownloading, registry.StateLocalPaused, registry.StateLocalSeeding:
	default:
		return current, false
	}

	switch {
	case status.IsSeeding():
		return registry.StateLocalSeeding, current != registry.StateLocalSeeding
	case status.IsPaused():
		return registry.StateLocalPaused, current != registry.StateLocalPaused
	case status.IsDownloading():
		return registry.StateLocalDownloading, current != registry.StateLocalDownloading
	}

	return current, false
}

// runTransfers evaluates readiness per torrent and executes the copy protocol
// for the ready ones, sequentially.
func (o *Orchestrator) runTransfers(ctx context.Context, localStatuses, remoteStatuses map[string]dc.Status) {
	logger := logctx.LoggerFromContext(ctx)

	for _, t := range o.reg.All() {
		if remoteStatus, ok := remoteFor(t, remoteStatuses); ok {
			// The remote already holds the content: fast-forward instead of
			// re-transferring. This is the sole duplicate-transfer guard.
			if t.State != registry.StateRemoteSeeding && !t.State.Absorbing() {
				logger.Info("torrent already on remote client, fast-forwarding",
					"torrent_name", t.Name, "remote_state", remoteStatus.State)

				if err := o.reg.SetState(t, registry.StateRemoteSeeding); err != nil {
					logger.Error("failed to fast-forward torrent", "torrent_name", t.Name, "err", err)
				}
			}

			continue
		}

		// Copying is picked up again so a torrent waiting on its metadata
		// file retries every cycle.
		if t.State != registry.StateLocalSeeding && t.State != registry.StateCopying {
			continue
		}

		status, ok := localStatuses[t.ID]
		if !ok || !status.IsSeeding() {
			continue
		}

		err := o.tel.InstrumentTransfer(ctx, "copy", func(ctx context.Context) error {
			return o.transferTorrent(ctx, t, status)
		})
		if err != nil {
			logger.Error("transfer failed", "torrent_name", t.Name, "err", err)
		}
	}
}

// transferTorrent executes the copy protocol for one ready torrent, updating
// both the lifecycle state and the audit record at every step.
func (o *Orchestrator) transferTorrent(ctx context.Context, t *registry.Torrent, status dc.Status) error {
	logger := logctx.LoggerFromContext(ctx).With("torrent_name", t.Name, "torrent_id", t.ID)

	if err := o.reg.SetState(t, registry.StateCopying); err != nil {
		return err
	}

	metadataPath := t.MetadataPath
	if metadataPath == "" {
		metadataPath = filepath.Join(o.cfg.MetadataDir, t.ID+".torrent")
		t.MetadataPath = metadataPath
	}

	info, rawMetadata, loadErr := metainfo.Load(metadataPath)
	if os.IsNotExist(loadErr) {
		// Known gap: the torrent stays in copying until the file shows up,
		// retried every cycle. No audit record is opened for a transfer that
		// never started.
		logger.Error("metadata file not found, skipping torrent this cycle", "path", metadataPath)

		return nil
	}

	recordID, err := o.store.CreateTransfer(o.createParams(t, status))
	if err != nil {
		return fmt.Errorf("failed to create transfer record: %w", err)
	}

	if err := o.store.StartTransfer(recordID); err != nil {
		return fmt.Errorf("failed to start transfer record: %w", err)
	}

	if loadErr != nil {
		return o.failTransfer(ctx, t, recordID, fmt.Errorf("failed to load metadata file: %w", loadErr))
	}

	stagingPath := filepath.Join(o.cfg.StagingDir, filepath.Base(metadataPath))
	if err := o.transport.Send(ctx, metadataPath, stagingPath, false, nil); err != nil {
		return o.failTransfer(ctx, t, recordID, err)
	}

	roots := info.TopLevelPaths(status.SavePath)
	logger.Info("copying content",
		"paths", len(roots),
		"total_size", humanize.Bytes(uint64(info.TotalSize)))

	var moved int64

	for _, root := range roots {
		remotePath := filepath.Join(o.cfg.RemoteDownloadDir, filepath.Base(root))

		base := moved
		last := int64(0)

		err := o.transport.Send(ctx, root, remotePath, true, func(bytes int64) {
			last = bytes

			if err := o.store.UpdateProgress(recordID, base+bytes, false); err != nil {
				logger.Warn("failed to record progress", "err", err)
			}
		})
		if err != nil {
			return o.failTransfer(ctx, t, recordID, err)
		}

		moved = base + last
	}

	// The final progress value must survive even inside the throttle window.
	if err := o.store.UpdateProgress(recordID, moved, true); err != nil {
		logger.Warn("failed to record final progress", "err", err)
	}

	o.tel.RecordTransferBytes(moved)

	if err := o.reg.SetState(t, registry.StateCopied); err != nil {
		return err
	}

	addErr := o.tel.InstrumentClientOperation(ctx, o.remote.Name(), "add_torrent", func(ctx context.Context) error {
		return o.remote.AddTorrentFile(ctx, info.Name+".torrent", rawMetadata, dc.AddOptions{
			SavePath: o.cfg.RemoteDownloadDir,
			Label:    o.cfg.Label,
		})
	})
	if addErr != nil {
		return o.failTransfer(ctx, t, recordID, fmt.Errorf("remote registration failed: %w", addErr))
	}

	if err := o.reg.SetState(t, registry.StateRemoteSeeding); err != nil {
		return err
	}

	if err := o.store.CompleteTransfer(recordID); err != nil {
		logger.Error("failed to finalize transfer record", "record_id", recordID, "err", err)
	}

	logger.Info("transfer completed", "moved", humanize.Bytes(uint64(moved)))
	o.emit(o.OnTransferCompleted, Event{TorrentName: t.Name, TorrentID: t.ID})

	return nil
}

func (o *Orchestrator) failTransfer(ctx context.Context, t *registry.Torrent, recordID string, cause error) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := o.reg.SetState(t, registry.StateError); err != nil {
		logger.Error("failed to mark torrent errored", "torrent_name", t.Name, "err", err)
	}

	if err := o.store.FailTransfer(recordID, cause.Error()); err != nil {
		logger.Error("failed to finalize transfer record", "record_id", recordID, "err", err)
	}

	o.emit(o.OnTransferFailed, Event{TorrentName: t.Name, TorrentID: t.ID, Err: cause})

	return cause
}

func (o *Orchestrator) createParams(t *registry.Torrent, status dc.Status) history.CreateParams {
	params := history.CreateParams{
		TorrentName:    t.Name,
		TorrentHash:    t.ID,
		SourceClient:   o.local.Name(),
		TargetClient:   o.remote.Name(),
		ConnectionName: o.cfg.ConnectionName,
		MediaType:      history.MediaTypeUnknown,
		SizeBytes:      status.Size,
	}

	for _, manager := range o.managers {
		if manager.Name() == t.Manager {
			params.MediaType = manager.MediaType()
			params.MediaManager = manager.Name()

			break
		}
	}

	return params
}

// cleanup removes torrents the remote client confirms seeding: drop from the
// local client (with payload) and from the registry. Failures are logged and
// retried next cycle, never escalated to the error state.
func (o *Orchestrator) cleanup(ctx context.Context, remoteStatuses map[string]dc.Status) {
	logger := logctx.LoggerFromContext(ctx)

	for _, t := range o.reg.All() {
		if t.State != registry.StateRemoteSeeding {
			continue
		}

		remoteStatus, ok := remoteFor(t, remoteStatuses)
		if !ok || !remoteStatus.IsSeeding() {
			continue
		}

		if t.ID != "" {
			if err := o.local.RemoveTorrent(ctx, t.ID, true); err != nil {
				logger.Error("failed to remove torrent from local client, will retry",
					"torrent_name", t.Name, "err", err)

				continue
			}
		}

		if err := o.reg.Remove(t.Name); err != nil {
			logger.Error("failed to drop torrent from registry", "torrent_name", t.Name, "err", err)

			continue
		}

		logger.Info("torrent handed off to remote client", "torrent_name", t.Name)
	}
}

// remoteFor matches a torrent against the remote status map by content id
// first, display name second (clients like Put.io report no infohash).
func remoteFor(t *registry.Torrent, statuses map[string]dc.Status) (dc.Status, bool) {
	if status, ok := statuses[t.ID]; t.ID != "" && ok {
		return status, true
	}

	for _, status := range statuses {
		if status.Name == t.Name {
			return status, true
		}
	}

	return dc.Status{}, false
}

// emit delivers an event without blocking the loop when nobody is listening.
func (o *Orchestrator) emit(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
	}
}

func clientInfo(status dc.Status) registry.ClientInfo {
	info := registry.ClientInfo{
		"state":    status.State,
		"progress": status.Progress,
	}

	if status.SavePath != "" {
		info["save_path"] = status.SavePath
	}

	for k, v := range status.Raw {
		info[k] = v
	}

	return info
}
