// Package archive persists exported session bundles to disk and loads them
// back: a manifest, a snappy-compressed JSONL log, a zstd stream of
// length-prefixed per-turn snapshots, and the final engine state.
package archive

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"battlerewind/rewinder/internal/driver"
)

var nameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version       int    `json:"version"`
	CreatedAt     string `json:"created_at"`
	FormatID      string `json:"format_id"`
	Turn          int    `json:"turn"`
	LogPath       string `json:"log_path"`
	SnapshotsPath string `json:"snapshots_path"`
	StatePath     string `json:"state_path"`
}

type logLine struct {
	Index int    `json:"index"`
	Line  string `json:"line"`
}

// Save writes an export bundle into a fresh directory under root and returns
// the directory path. The clock is injectable for deterministic tests.
func Save(root, name string, bundle driver.ExportBundle, clock func() time.Time) (string, Manifest, error) {
	if root == "" {
		return "", Manifest{}, fmt.Errorf("archive root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	cleaned := nameCleaner.ReplaceAllString(name, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", Manifest{}, err
	}

	manifest := Manifest{
		Version:       1,
		CreatedAt:     created.Format(time.RFC3339Nano),
		FormatID:      bundle.FormatID,
		Turn:          bundle.Turn,
		LogPath:       "log.jsonl.sz",
		SnapshotsPath: "snapshots.bin.zst",
		StatePath:     "state.json",
	}

	//1.- Persist the raw output log as compressed JSONL for streaming readers.
	if err := writeLog(filepath.Join(path, manifest.LogPath), bundle.Log); err != nil {
		return "", Manifest{}, err
	}
	//2.- Persist the snapshot array as length-prefixed zstd frames so a
	// loader can step turn by turn without decoding everything.
	if err := writeSnapshots(filepath.Join(path, manifest.SnapshotsPath), bundle.StateByTurn); err != nil {
		return "", Manifest{}, err
	}
	//3.- The final engine state stays plain JSON for direct inspection.
	if err := os.WriteFile(filepath.Join(path, manifest.StatePath), bundle.State, 0o644); err != nil {
		return "", Manifest{}, err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, "manifest.json"), data, 0o644); err != nil {
		return "", Manifest{}, err
	}
	return path, manifest, nil
}

// Load reads a bundle directory (or its manifest path) back into memory.
func Load(path string) (driver.ExportBundle, Manifest, error) {
	if path == "" {
		return driver.ExportBundle{}, Manifest{}, fmt.Errorf("archive path must be provided")
	}
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return driver.ExportBundle{}, Manifest{}, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, "manifest.json")
	}
	dir := filepath.Dir(manifestPath)

	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return driver.ExportBundle{}, Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return driver.ExportBundle{}, Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != 1 {
		return driver.ExportBundle{}, Manifest{}, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	bundle := driver.ExportBundle{FormatID: manifest.FormatID, Turn: manifest.Turn}
	if bundle.Log, err = readLog(filepath.Join(dir, manifest.LogPath)); err != nil {
		return driver.ExportBundle{}, Manifest{}, err
	}
	if bundle.StateByTurn, err = readSnapshots(filepath.Join(dir, manifest.SnapshotsPath)); err != nil {
		return driver.ExportBundle{}, Manifest{}, err
	}
	if bundle.State, err = os.ReadFile(filepath.Join(dir, manifest.StatePath)); err != nil {
		return driver.ExportBundle{}, Manifest{}, err
	}
	return bundle, manifest, nil
}

func writeLog(path string, lines []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	stream := snappy.NewBufferedWriter(file)
	for index, line := range lines {
		record, err := json.Marshal(logLine{Index: index, Line: line})
		if err != nil {
			stream.Close()
			file.Close()
			return err
		}
		if _, err := stream.Write(append(record, '\n')); err != nil {
			stream.Close()
			file.Close()
			return err
		}
	}
	if err := stream.Close(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func readLog(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines []string
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record logLine
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("decode log line: %w", err)
		}
		lines = append(lines, record.Line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func writeSnapshots(path string, snapshots []json.RawMessage) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	stream, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return err
	}
	//1.- Length-prefixed frames: turn index then payload size then payload.
	for turn, snap := range snapshots {
		header := make([]byte, 12)
		binary.LittleEndian.PutUint64(header[0:8], uint64(turn))
		binary.LittleEndian.PutUint32(header[8:12], uint32(len(snap)))
		if _, err := stream.Write(header); err != nil {
			stream.Close()
			file.Close()
			return err
		}
		if _, err := stream.Write(snap); err != nil {
			stream.Close()
			file.Close()
			return err
		}
	}
	if err := stream.Close(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func readSnapshots(path string) ([]json.RawMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	var snapshots []json.RawMessage
	offset := 0
	for offset+12 <= len(payload) {
		turn := int(binary.LittleEndian.Uint64(payload[offset : offset+8]))
		offset += 8
		size := int(binary.LittleEndian.Uint32(payload[offset : offset+4]))
		offset += 4
		if size < 0 || offset+size > len(payload) {
			return nil, fmt.Errorf("snapshot frame truncated")
		}
		//1.- Frames arrive in turn order; grow the array to the frame's index.
		for len(snapshots) <= turn {
			snapshots = append(snapshots, nil)
		}
		snapshots[turn] = append(json.RawMessage(nil), payload[offset:offset+size]...)
		offset += size
	}
	return snapshots, nil
}
