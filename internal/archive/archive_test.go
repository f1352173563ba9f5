package archive

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"battlerewind/rewinder/internal/driver"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func sampleBundle() driver.ExportBundle {
	return driver.ExportBundle{
		FormatID: "gen9vgc2024regh",
		Turn:     3,
		State:    json.RawMessage(`{"format_id":"gen9vgc2024regh","turn":3}`),
		StateByTurn: []json.RawMessage{
			json.RawMessage(`{"turn":0}`),
			json.RawMessage(`{"turn":1}`),
			json.RawMessage(`{"turn":2}`),
			json.RawMessage(`{"turn":3}`),
		},
		Log: []string{"update", "|turn|1", "update", "|turn|2"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	path, manifest, err := Save(root, "battle-room 42!", sampleBundle(), fixedClock)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	//1.- The directory name is cleaned and timestamped deterministically.
	if filepath.Base(path) != "battle-room42-20250601T120000Z" {
		t.Fatalf("unexpected bundle directory %q", filepath.Base(path))
	}
	if manifest.FormatID != "gen9vgc2024regh" || manifest.Turn != 3 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}

	loaded, loadedManifest, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loadedManifest.CreatedAt != manifest.CreatedAt {
		t.Fatalf("manifest diverged across round trip")
	}
	if !reflect.DeepEqual(loaded, sampleBundle()) {
		t.Fatalf("bundle diverged:\n%+v\n%+v", loaded, sampleBundle())
	}
}

func TestLoadAcceptsManifestPath(t *testing.T) {
	root := t.TempDir()
	path, _, err := Save(root, "session", sampleBundle(), fixedClock)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, _, err := Load(filepath.Join(path, "manifest.json"))
	if err != nil {
		t.Fatalf("load by manifest: %v", err)
	}
	if loaded.Turn != 3 {
		t.Fatalf("unexpected turn %d", loaded.Turn)
	}
}

func TestSaveRequiresRoot(t *testing.T) {
	if _, _, err := Save("", "x", sampleBundle(), fixedClock); err == nil {
		t.Fatalf("expected error for missing root")
	}
}

func TestLoadMissingBundleFails(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing bundle")
	}
}
