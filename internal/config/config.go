package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the rewind service listens on.
	DefaultAddr = ":43181"
	// DefaultPingInterval controls the keepalive cadence for WebSocket sessions.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size. Battle logs
	// arrive whole, so the ceiling is generous.
	DefaultMaxPayloadBytes int64 = 4 << 20
	// DefaultMaxSessions bounds concurrent replay sessions. Zero disables the limit.
	DefaultMaxSessions = 64

	// DefaultLogLevel controls verbosity for service logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "rewinder.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultArchiveDir is where exported session bundles are persisted.
	DefaultArchiveDir = "archives"
	// DefaultCatalogPath locates the sqlite catalog of reconstructed sessions.
	DefaultCatalogPath = "catalog.db"
	// DefaultSnapshotWindow bounds the backward search through earlier
	// snapshots when repairing a serialized turn.
	DefaultSnapshotWindow = 8
	// DefaultAutoResolveLimit caps how many residual switch requests one
	// replayed turn may auto-resolve before the driver forces progress.
	DefaultAutoResolveLimit = 10
)

// Config captures all runtime tunables for the rewind service.
type Config struct {
	Address          string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	MaxSessions      int
	SessionSecret    string
	Logging          LoggingConfig
	ArchiveDir       string
	CatalogPath      string
	SnapshotWindow   int
	AutoResolveLimit int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the service configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("REWIND_ADDR", DefaultAddr),
		AllowedOrigins:  parseList(os.Getenv("REWIND_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxSessions:     DefaultMaxSessions,
		SessionSecret:   strings.TrimSpace(os.Getenv("REWIND_SESSION_SECRET")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("REWIND_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("REWIND_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		ArchiveDir:       getString("REWIND_ARCHIVE_DIR", DefaultArchiveDir),
		CatalogPath:      getString("REWIND_CATALOG_PATH", DefaultCatalogPath),
		SnapshotWindow:   DefaultSnapshotWindow,
		AutoResolveLimit: DefaultAutoResolveLimit,
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("REWIND_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REWIND_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REWIND_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("REWIND_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REWIND_MAX_SESSIONS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REWIND_MAX_SESSIONS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxSessions = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REWIND_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REWIND_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REWIND_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REWIND_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REWIND_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REWIND_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REWIND_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("REWIND_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REWIND_SNAPSHOT_WINDOW")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REWIND_SNAPSHOT_WINDOW must be a positive integer, got %q", raw))
		} else {
			cfg.SnapshotWindow = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REWIND_AUTO_RESOLVE_LIMIT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REWIND_AUTO_RESOLVE_LIMIT must be a positive integer, got %q", raw))
		} else {
			cfg.AutoResolveLimit = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
