package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REWIND_ADDR", "")
	t.Setenv("REWIND_ALLOWED_ORIGINS", "")
	t.Setenv("REWIND_MAX_PAYLOAD_BYTES", "")
	t.Setenv("REWIND_PING_INTERVAL", "")
	t.Setenv("REWIND_MAX_SESSIONS", "")
	t.Setenv("REWIND_SNAPSHOT_WINDOW", "")
	t.Setenv("REWIND_AUTO_RESOLVE_LIMIT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no allowed origins, got %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("expected default max payload %d, got %d", DefaultMaxPayloadBytes, cfg.MaxPayloadBytes)
	}
	if cfg.SnapshotWindow != DefaultSnapshotWindow {
		t.Fatalf("expected default snapshot window %d, got %d", DefaultSnapshotWindow, cfg.SnapshotWindow)
	}
	if cfg.AutoResolveLimit != DefaultAutoResolveLimit {
		t.Fatalf("expected default auto-resolve limit %d, got %d", DefaultAutoResolveLimit, cfg.AutoResolveLimit)
	}
	if cfg.ArchiveDir != DefaultArchiveDir || cfg.CatalogPath != DefaultCatalogPath {
		t.Fatalf("unexpected storage defaults %q %q", cfg.ArchiveDir, cfg.CatalogPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REWIND_ADDR", "127.0.0.1:9000")
	t.Setenv("REWIND_ALLOWED_ORIGINS", "https://example.com, https://demo.local")
	t.Setenv("REWIND_MAX_PAYLOAD_BYTES", "2048")
	t.Setenv("REWIND_PING_INTERVAL", "45s")
	t.Setenv("REWIND_MAX_SESSIONS", "12")
	t.Setenv("REWIND_SNAPSHOT_WINDOW", "4")
	t.Setenv("REWIND_AUTO_RESOLVE_LIMIT", "3")
	t.Setenv("REWIND_ARCHIVE_DIR", "/tmp/bundles")
	t.Setenv("REWIND_CATALOG_PATH", "/tmp/catalog.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://example.com" || cfg.AllowedOrigins[1] != "https://demo.local" {
		t.Fatalf("unexpected allowed origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != 2048 {
		t.Fatalf("expected overridden max payload, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.PingInterval.String() != "45s" {
		t.Fatalf("expected ping interval 45s, got %v", cfg.PingInterval)
	}
	if cfg.MaxSessions != 12 {
		t.Fatalf("expected max sessions 12, got %d", cfg.MaxSessions)
	}
	if cfg.SnapshotWindow != 4 || cfg.AutoResolveLimit != 3 {
		t.Fatalf("unexpected replay tunables %d %d", cfg.SnapshotWindow, cfg.AutoResolveLimit)
	}
	if cfg.ArchiveDir != "/tmp/bundles" || cfg.CatalogPath != "/tmp/catalog.db" {
		t.Fatalf("unexpected storage overrides %q %q", cfg.ArchiveDir, cfg.CatalogPath)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("REWIND_MAX_PAYLOAD_BYTES", "-5")
	t.Setenv("REWIND_PING_INTERVAL", "abc")
	t.Setenv("REWIND_MAX_SESSIONS", "-1")
	t.Setenv("REWIND_SNAPSHOT_WINDOW", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"REWIND_MAX_PAYLOAD_BYTES",
		"REWIND_PING_INTERVAL",
		"REWIND_MAX_SESSIONS",
		"REWIND_SNAPSHOT_WINDOW",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadIgnoresEmptyAllowedOrigins(t *testing.T) {
	t.Setenv("REWIND_ALLOWED_ORIGINS", " , ,https://ok.example, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://ok.example" {
		t.Fatalf("expected single cleaned origin, got %#v", cfg.AllowedOrigins)
	}
}

func TestLoadAllowsUnlimitedSessions(t *testing.T) {
	t.Setenv("REWIND_MAX_SESSIONS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.MaxSessions != 0 {
		t.Fatalf("expected zero to disable limit, got %d", cfg.MaxSessions)
	}
}
