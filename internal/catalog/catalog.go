// Package catalog persists metadata about reconstructed sessions in SQLite
// so archived bundles can be found again by identifier, format, or recency.
// Entries record both player names, but there is no lookup by player.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no entry matches a lookup.
	ErrNotFound = errors.New("catalog entry not found")
	// ErrAlreadyExists is returned when a bundle path is registered twice.
	ErrAlreadyExists = errors.New("catalog entry already exists")
)

// Entry describes one archived session bundle.
type Entry struct {
	ID         int64
	FormatID   string
	P1Name     string
	P2Name     string
	Turns      int
	Winner     string
	BundlePath string
	CreatedAt  time.Time
}

// Catalog is a SQLite-backed session index.
type Catalog struct {
	sqlDB *sql.DB
	now   func() time.Time
}

const schema = `CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	format_id TEXT NOT NULL,
	p1_name TEXT NOT NULL,
	p2_name TEXT NOT NULL,
	turns INTEGER NOT NULL,
	winner TEXT NOT NULL DEFAULT '',
	bundle_path TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
)`

// Option configures optional catalog behaviour.
type Option func(*Catalog)

// WithClock overrides the wall-clock time source for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Catalog) {
		if clock != nil {
			c.now = clock
		}
	}
}

// Open opens (or creates) the catalog database at path.
func Open(path string, opts ...Option) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	catalog := &Catalog{sqlDB: sqlDB, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(catalog)
		}
	}
	return catalog, nil
}

// Close closes the SQLite handle.
func (c *Catalog) Close() error {
	if c == nil || c.sqlDB == nil {
		return nil
	}
	return c.sqlDB.Close()
}

// Save inserts one entry and returns it with the assigned identifier.
func (c *Catalog) Save(ctx context.Context, entry Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if c == nil || c.sqlDB == nil {
		return Entry{}, fmt.Errorf("catalog is not configured")
	}
	bundlePath := strings.TrimSpace(entry.BundlePath)
	if bundlePath == "" {
		return Entry{}, fmt.Errorf("bundle path is required")
	}
	if strings.TrimSpace(entry.FormatID) == "" {
		return Entry{}, fmt.Errorf("format id is required")
	}
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = c.now().UTC()
	}
	result, err := c.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (format_id, p1_name, p2_name, turns, winner, bundle_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.FormatID,
		entry.P1Name,
		entry.P2Name,
		entry.Turns,
		entry.Winner,
		bundlePath,
		createdAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
			return Entry{}, ErrAlreadyExists
		}
		return Entry{}, fmt.Errorf("save session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("save session id: %w", err)
	}
	entry.ID = id
	entry.BundlePath = bundlePath
	entry.CreatedAt = createdAt
	return entry, nil
}

// Get returns one entry by identifier.
func (c *Catalog) Get(ctx context.Context, id int64) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if c == nil || c.sqlDB == nil {
		return Entry{}, fmt.Errorf("catalog is not configured")
	}
	row := c.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, format_id, p1_name, p2_name, turns, winner, bundle_path, created_at
		   FROM sessions WHERE id = ?`,
		id,
	)
	return scanEntry(row)
}

// List returns the most recent entries, newest first, capped at limit.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil || c.sqlDB == nil {
		return nil, fmt.Errorf("catalog is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.sqlDB.QueryContext(
		ctx,
		`SELECT id, format_id, p1_name, p2_name, turns, winner, bundle_path, created_at
		   FROM sessions ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return entries, nil
}

// FindByFormat returns entries for one format, newest first.
func (c *Catalog) FindByFormat(ctx context.Context, formatID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil || c.sqlDB == nil {
		return nil, fmt.Errorf("catalog is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.sqlDB.QueryContext(
		ctx,
		`SELECT id, format_id, p1_name, p2_name, turns, winner, bundle_path, created_at
		   FROM sessions WHERE format_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		formatID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	return entries, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (Entry, error) {
	var entry Entry
	var createdAt int64
	err := row.Scan(
		&entry.ID,
		&entry.FormatID,
		&entry.P1Name,
		&entry.P2Name,
		&entry.Turns,
		&entry.Winner,
		&entry.BundlePath,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("scan session: %w", err)
	}
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()
	return entry, nil
}
