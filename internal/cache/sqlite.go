// Package cache persists the session mirror and the link audit trail in
// a local SQLite database, the backend analog of the browser's local
// storage: it survives restarts and is cleared on logout or session
// expiry.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nisargdongare/ProfitPulse/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// loginDetailsKey is the single key the session mirror lives under.
// The dashboard frontend uses the same record name in localStorage.
const loginDetailsKey = "LoginDetails"

// ErrNotFound is returned when no login details are cached.
var ErrNotFound = errors.New("cache: not found")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS link_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	detail     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Kinds recorded in the link_events audit table.
const (
	EventStatusChange  = "status_change"
	EventDroppedOrigin = "dropped_origin"
)

// LinkEvent is one row of the link audit trail.
type LinkEvent struct {
	ID        int64
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// SQLiteCache implements the persisted session cache and audit trail.
type SQLiteCache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at dbPath and ensures the
// schema exists.
func Open(dbPath string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// SaveLoginDetails writes the session mirror, replacing any previous one.
func (c *SQLiteCache) SaveLoginDetails(ctx context.Context, d *domain.LoginDetails) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding login details: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		loginDetailsKey, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving login details: %w", err)
	}
	return nil
}

// LoadLoginDetails reads the session mirror. Returns ErrNotFound when
// nothing is cached.
func (c *SQLiteCache) LoadLoginDetails(ctx context.Context) (*domain.LoginDetails, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, loginDetailsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading login details: %w", err)
	}

	var d domain.LoginDetails
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decoding login details: %w", err)
	}
	return &d, nil
}

// ClearLoginDetails removes the session mirror. Clearing an empty cache
// is not an error.
func (c *SQLiteCache) ClearLoginDetails(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ?`, loginDetailsKey)
	if err != nil {
		return fmt.Errorf("clearing login details: %w", err)
	}
	return nil
}

// RecordLinkEvent appends one row to the link audit trail.
func (c *SQLiteCache) RecordLinkEvent(ctx context.Context, kind, detail string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO link_events (kind, detail, created_at) VALUES (?, ?, ?)`,
		kind, detail, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("recording link event: %w", err)
	}
	return nil
}

// ListLinkEvents returns the most recent audit rows, newest first.
func (c *SQLiteCache) ListLinkEvents(ctx context.Context, limit int) ([]LinkEvent, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, kind, detail, created_at FROM link_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing link events: %w", err)
	}
	defer rows.Close()

	var events []LinkEvent
	for rows.Next() {
		var e LinkEvent
		var createdMs int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning link event: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdMs)
		events = append(events, e)
	}
	return events, rows.Err()
}
