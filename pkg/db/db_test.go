package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"stratoscope/pkg/db"
)

func TestDB(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if d == nil {
		t.Fatal("Init() returned nil DB")
	}
	d.Close()

	// Re-open: migrations must be idempotent
	d, err = db.Init(path)
	if err != nil {
		t.Fatalf("Init() on existing db failed: %v", err)
	}
	d.Close()
}

func TestPruneSnapshots(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "prune_test.db"))
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	old := time.Now().Add(-48 * time.Hour).UTC().Format(db.HourKeyFormat)
	fresh := time.Now().UTC().Format(db.HourKeyFormat)
	for _, key := range []string{old, fresh} {
		if _, err := d.Exec("INSERT INTO snapshots (hour_utc, balloons) VALUES (?, ?)", key, 100); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	n, err := d.PruneSnapshots(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneSnapshots failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}

	var remaining int
	if err := d.QueryRow("SELECT count(*) FROM snapshots").Scan(&remaining); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if remaining != 1 {
		t.Errorf("expected 1 remaining snapshot, got %d", remaining)
	}
}

func TestPruneCache(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "cache_test.db"))
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	expired := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	valid := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	if _, err := d.Exec("INSERT INTO http_cache (key, value, expires) VALUES ('a', X'00', ?), ('b', X'00', ?)", expired, valid); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := d.PruneCache(); err != nil {
		t.Fatalf("PruneCache failed: %v", err)
	}

	var remaining int
	if err := d.QueryRow("SELECT count(*) FROM http_cache").Scan(&remaining); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if remaining != 1 {
		t.Errorf("expected 1 remaining cache row, got %d", remaining)
	}
}
