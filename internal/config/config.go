package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ConnectionName string `envconfig:"CONNECTION_NAME" default:"seedbox"`

	LocalClient   string `envconfig:"LOCAL_CLIENT" default:"transmission"`
	LocalName     string `envconfig:"LOCAL_NAME" default:"local"`
	LocalURL      string `envconfig:"LOCAL_URL"`
	LocalUsername string `envconfig:"LOCAL_USERNAME"`
	LocalPassword string `envconfig:"LOCAL_PASSWORD"`
	LocalInsecure bool   `envconfig:"LOCAL_INSECURE"`

	RemoteClient   string `envconfig:"REMOTE_CLIENT" default:"qbittorrent"`
	RemoteName     string `envconfig:"REMOTE_NAME" default:"remote"`
	RemoteURL      string `envconfig:"REMOTE_URL"`
	RemoteUsername string `envconfig:"REMOTE_USERNAME"`
	RemotePassword string `envconfig:"REMOTE_PASSWORD"`

	PutioToken    string `envconfig:"PUTIO_TOKEN"`
	PutioParentID int64  `envconfig:"PUTIO_PARENT_ID" default:"-1"`

	MetadataDir       string `envconfig:"METADATA_DIR" required:"true"`
	StagingDir        string `envconfig:"STAGING_DIR" default:"/staging"`
	RemoteDownloadDir string `envconfig:"REMOTE_DOWNLOAD_DIR" required:"true"`
	TargetLabel       string `envconfig:"TARGET_LABEL"`

	Transport           string `envconfig:"TRANSPORT" default:"scp"`
	SeedboxHost         string `envconfig:"SEEDBOX_HOST"`
	SeedboxPort         int    `envconfig:"SEEDBOX_PORT" default:"22"`
	SeedboxUser         string `envconfig:"SEEDBOX_USER"`
	SeedboxIdentityFile string `envconfig:"SEEDBOX_IDENTITY_FILE"`
	MountRoot           string `envconfig:"MOUNT_ROOT"`

	RadarrURL    string `envconfig:"RADARR_URL"`
	RadarrAPIKey string `envconfig:"RADARR_API_KEY"`
	SonarrURL    string `envconfig:"SONARR_URL"`
	SonarrAPIKey string `envconfig:"SONARR_API_KEY"`

	SnapshotPath   string        `envconfig:"SNAPSHOT_PATH" default:"torrents.json"`
	DBPath         string        `envconfig:"DB_PATH" default:"transfers.db"`
	UpdateInterval time.Duration `envconfig:"UPDATE_INTERVAL" default:"5s"`
	PruneInterval  time.Duration `envconfig:"PRUNE_INTERVAL" default:"12h"`
	RetentionDays  int           `envconfig:"RETENTION_DAYS" default:"30"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8181"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
