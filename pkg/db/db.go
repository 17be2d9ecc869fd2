package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// HourKeyFormat is the layout for snapshot hour keys. Keys sort
// lexicographically in time order.
const HourKeyFormat = "2006-01-02T15"

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// PruneCache removes cache entries whose expiry has passed.
func (d *DB) PruneCache() error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.Exec("DELETE FROM http_cache WHERE expires < ?", now)
	return err
}

// PruneSnapshots removes snapshot hours older than the retention horizon.
func (d *DB) PruneSnapshots(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(HourKeyFormat)
	res, err := d.Exec("DELETE FROM snapshots WHERE hour_utc < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PrunePredictions removes predictions computed before the cutoff.
// Format time compatible with SQLite DEFAULT CURRENT_TIMESTAMP (YYYY-MM-DD HH:MM:SS).
func (d *DB) PrunePredictions(olderThan time.Duration) error {
	deadline := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")
	_, err := d.Exec("DELETE FROM predictions WHERE created_at < ?", deadline)
	return err
}

// PruneWind removes wind readings fetched before the cutoff.
func (d *DB) PruneWind(olderThan time.Duration) error {
	deadline := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)
	_, err := d.Exec("DELETE FROM wind_readings WHERE fetched_at < ?", deadline)
	return err
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			hour_utc TEXT PRIMARY KEY,
			source_hour INTEGER,
			balloons INTEGER,
			rejected INTEGER DEFAULT 0,
			content_hash TEXT,
			data BLOB,
			fetched_at TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS predictions (
			balloon_index INTEGER,
			generation INTEGER,
			lat REAL,
			lon REAL,
			alt REAL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (balloon_index, generation)
		);`,
		`CREATE TABLE IF NOT EXISTS wind_readings (
			cell_key TEXT PRIMARY KEY,
			speed REAL,
			direction REAL,
			cell_lat REAL,
			cell_lon REAL,
			fetched_at TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS http_cache (
			key TEXT PRIMARY KEY,
			value BLOB,
			expires TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	// Migration: Add rejected if missing
	var colCount int
	err := d.QueryRow("SELECT count(*) FROM pragma_table_info('snapshots') WHERE name='rejected'").Scan(&colCount)
	if err == nil && colCount == 0 {
		if _, err := d.Exec("ALTER TABLE snapshots ADD COLUMN rejected INTEGER DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add rejected column: %w", err)
		}
	}

	return nil
}
