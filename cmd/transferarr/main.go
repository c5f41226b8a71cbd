package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DiskTrackTed/transferarr-sub001/internal/config"
	"github.com/DiskTrackTed/transferarr-sub001/internal/dc"
	"github.com/DiskTrackTed/transferarr-sub001/internal/dc/putio"
	"github.com/DiskTrackTed/transferarr-sub001/internal/dc/qbittorrent"
	"github.com/DiskTrackTed/transferarr-sub001/internal/dc/transmission"
	"github.com/DiskTrackTed/transferarr-sub001/internal/history"
	"github.com/DiskTrackTed/transferarr-sub001/internal/history/sqlite"
	"github.com/DiskTrackTed/transferarr-sub001/internal/http/rest"
	"github.com/DiskTrackTed/transferarr-sub001/internal/logctx"
	"github.com/DiskTrackTed/transferarr-sub001/internal/notifier"
	"github.com/DiskTrackTed/transferarr-sub001/internal/orchestrator"
	"github.com/DiskTrackTed/transferarr-sub001/internal/registry"
	"github.com/DiskTrackTed/transferarr-sub001/internal/svc/arr"
	"github.com/DiskTrackTed/transferarr-sub001/internal/telemetry"
	"github.com/DiskTrackTed/transferarr-sub001/internal/transport"
	"github.com/DiskTrackTed/transferarr-sub001/internal/transport/mount"
	"github.com/DiskTrackTed/transferarr-sub001/internal/transport/scp"
	"github.com/go-chi/chi/v5"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("transferarr starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && err != context.Canceled {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "transferarr",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("DB error: %w", err)
	}
	defer database.Close()

	baseStore, err := sqlite.NewStore(database)
	if err != nil {
		return fmt.Errorf("failed to open transfer store: %w", err)
	}
	defer baseStore.Close()

	store := sqlite.NewInstrumentedStore(baseStore, tel)

	// =========================================================================
	// Start Registry
	reg := registry.New(registry.NewFileSnapshotStore(cfg.SnapshotPath))
	if err := reg.Load(); err != nil {
		return fmt.Errorf("failed to load registry snapshot: %w", err)
	}

	// =========================================================================
	// Start Download Clients
	local, err := buildClient(ctx, cfg, true)
	if err != nil {
		return fmt.Errorf("failed to build local client: %w", err)
	}

	remote, err := buildClient(ctx, cfg, false)
	if err != nil {
		return fmt.Errorf("failed to build remote client: %w", err)
	}

	// =========================================================================
	// Start Orchestrator
	orch := orchestrator.New(
		orchestrator.Config{
			ConnectionName:    cfg.ConnectionName,
			MetadataDir:       cfg.MetadataDir,
			StagingDir:        cfg.StagingDir,
			RemoteDownloadDir: cfg.RemoteDownloadDir,
			Label:             cfg.TargetLabel,
		},
		reg,
		store,
		local,
		remote,
		buildManagers(cfg),
		buildTransport(cfg),
		tel,
	)
	defer orch.Close()

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, orch, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, store, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("watching for transfers...",
		"local_client", local.Name(),
		"remote_client", remote.Name(),
		"remote_download_dir", cfg.RemoteDownloadDir,
		"update_interval", cfg.UpdateInterval.String(),
	)

	// =========================================================================
	// Start History Pruning
	setupPruning(ctx, store, cfg)

	// =========================================================================
	// Start Main Loop
	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			if err := reg.Save(); err != nil {
				logger.Error("failed to write final snapshot", "err", err)
			}

			// Give outstanding requests a deadline for completion.
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer shutdownCancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return ctx.Err()
		case <-ticker.C:
			if err := orch.Tick(ctx); err != nil {
				logger.Error("tick failed", "err", err)
				tel.RecordSystemError("orchestrator", "tick_failure")
			}
		}
	}
}

// This is an abstract factory for the download clients.
func buildClient(ctx context.Context, cfg *config.Config, local bool) (dc.Client, error) {
	kind := cfg.RemoteClient
	name := cfg.RemoteName
	url := cfg.RemoteURL
	username := cfg.RemoteUsername
	password := cfg.RemotePassword
	insecure := false

	if local {
		kind = cfg.LocalClient
		name = cfg.LocalName
		url = cfg.LocalURL
		username = cfg.LocalUsername
		password = cfg.LocalPassword
		insecure = cfg.LocalInsecure
	}

	switch kind {
	case "transmission":
		return transmission.NewClient(name, url, username, password, insecure), nil
	case "qbittorrent":
		client := qbittorrent.NewClient(name, url, username, password)
		if err := client.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication error: %w", err)
		}

		return client, nil
	case "putio":
		return putio.NewClient(name, cfg.PutioToken, cfg.PutioParentID), nil
	}

	return nil, fmt.Errorf("invalid download client: %s", kind)
}

func buildManagers(cfg *config.Config) []orchestrator.Manager {
	var managers []orchestrator.Manager

	if cfg.RadarrURL != "" {
		managers = append(managers, arr.NewClient("radarr", arr.KindRadarr, cfg.RadarrAPIKey, cfg.RadarrURL))
	}

	if cfg.SonarrURL != "" {
		managers = append(managers, arr.NewClient("sonarr", arr.KindSonarr, cfg.SonarrAPIKey, cfg.SonarrURL))
	}

	return managers
}

func buildTransport(cfg *config.Config) transport.Transport {
	if cfg.Transport == "mount" {
		return mount.New(cfg.MountRoot)
	}

	return scp.New(cfg.SeedboxHost, cfg.SeedboxPort, cfg.SeedboxUser, cfg.SeedboxIdentityFile)
}

func setupNotifications(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.DiscordWebhookURL == "" {
		return
	}

	notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

	go func() {
		for event := range orch.OnTransferCompleted {
			if notifyErr := notif.Notify(ctx,
				"✅ Transfer completed for torrent: "+event.TorrentName,
			); notifyErr != nil {
				logger.Error("failed to send notification", "torrent_name", event.TorrentName, "err", notifyErr)
			}
		}
	}()

	go func() {
		for event := range orch.OnTransferFailed {
			if notifyErr := notif.Notify(ctx,
				"❌ Transfer failed for torrent: "+event.TorrentName+" ("+event.Err.Error()+")",
			); notifyErr != nil {
				logger.Error("failed to send notification", "torrent_name", event.TorrentName, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, store history.Store, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	hHandler := rest.NewHistoryHandler(cfg.Web.Username, cfg.Web.Password, store)

	r := chi.NewRouter()
	r.Mount("/", hHandler.Routes(tel))
	r.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupPruning(ctx context.Context, store history.Store, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		pruneTicker := time.NewTicker(cfg.PruneInterval)
		defer pruneTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("pruning goroutine shutting down.")

				return
			case <-pruneTicker.C:
				deleted, err := store.PruneOldEntries(cfg.RetentionDays)
				if err != nil {
					logger.Error("failed to prune transfer history", "err", err)

					continue
				}

				if deleted > 0 {
					logger.Info("pruned old transfer records", "deleted", deleted, "retention_days", cfg.RetentionDays)
				}
			}
		}
	}()
}
