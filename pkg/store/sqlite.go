package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"stratoscope/pkg/archive"
	"stratoscope/pkg/db"
	"stratoscope/pkg/model"
)

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	SnapshotStore
	PredictionStore
	WindStore
	CacheStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Snapshots ---

func (s *SQLiteStore) GetSnapshot(ctx context.Context, hour time.Time) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hour_utc, source_hour, rejected, content_hash, data, fetched_at
		 FROM snapshots WHERE hour_utc = ?`, hour.UTC().Format(db.HourKeyFormat))
	return scanSnapshot(row)
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	blob, err := archive.Encode(snap.Samples)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	fetchedAt := snap.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	query := `INSERT OR REPLACE INTO snapshots (
		hour_utc, source_hour, balloons, rejected, content_hash, data, fetched_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		snap.HourUTC.UTC().Format(db.HourKeyFormat), snap.SourceHour, len(snap.Samples),
		snap.Rejected, snap.Hash, blob, fetchedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetWindow returns the most recent snapshots, newest first.
func (s *SQLiteStore) GetWindow(ctx context.Context, hours int) ([]*model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour_utc, source_hour, rejected, content_hash, data, fetched_at
		 FROM snapshots ORDER BY hour_utc DESC LIMIT ?`, hours)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, snap)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) GetSnapshotHash(ctx context.Context, hour time.Time) (hash string, found bool, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT content_hash FROM snapshots WHERE hour_utc = ?",
		hour.UTC().Format(db.HourKeyFormat)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil // Not stored yet
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*model.Snapshot, error) {
	var (
		snap      model.Snapshot
		hourKey   string
		hash      sql.NullString
		blob      []byte
		fetchedAt sql.NullString
	)

	err := row.Scan(&hourKey, &snap.SourceHour, &snap.Rejected, &hash, &blob, &fetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}

	t, err := time.ParseInLocation(db.HourKeyFormat, hourKey, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("bad hour key %q: %w", hourKey, err)
	}
	snap.HourUTC = t

	if hash.Valid {
		snap.Hash = hash.String
	}
	if fetchedAt.Valid && fetchedAt.String != "" {
		if ft, perr := time.Parse(time.RFC3339, fetchedAt.String); perr == nil {
			snap.FetchedAt = ft
		}
	}

	if len(blob) > 0 {
		samples, err := archive.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", hourKey, err)
		}
		snap.Samples = samples
	} else {
		snap.Samples = make(map[int]model.Sample)
	}

	return &snap, nil
}

// --- Predictions ---

func (s *SQLiteStore) GetPrediction(ctx context.Context, index int, generation uint64) (*model.Prediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT balloon_index, generation, lat, lon, alt, created_at
		 FROM predictions WHERE balloon_index = ? AND generation = ?`, index, generation)

	var p model.Prediction
	err := row.Scan(&p.Index, &p.Generation, &p.Next.Lat, &p.Next.Lon, &p.Next.Alt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) SavePrediction(ctx context.Context, p *model.Prediction) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT OR REPLACE INTO predictions (
		balloon_index, generation, lat, lon, alt, created_at
	) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		p.Index, p.Generation, p.Next.Lat, p.Next.Lon, p.Next.Alt, createdAt,
	)
	return err
}

func (s *SQLiteStore) GetPredictions(ctx context.Context, generation uint64) ([]*model.Prediction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT balloon_index, generation, lat, lon, alt, created_at
		 FROM predictions WHERE generation = ? ORDER BY balloon_index`, generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Prediction
	for rows.Next() {
		var p model.Prediction
		if err := rows.Scan(&p.Index, &p.Generation, &p.Next.Lat, &p.Next.Lon, &p.Next.Alt, &p.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &p)
	}
	return results, rows.Err()
}

// --- Wind ---

func (s *SQLiteStore) GetWindReading(ctx context.Context, cellKey string) (*model.WindReading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT speed, direction, cell_lat, cell_lon, fetched_at
		 FROM wind_readings WHERE cell_key = ?`, cellKey)

	var r model.WindReading
	var fetchedAt sql.NullString
	err := row.Scan(&r.Speed, &r.Direction, &r.CellLat, &r.CellLon, &fetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}

	if fetchedAt.Valid && fetchedAt.String != "" {
		if ft, perr := time.Parse(time.RFC3339, fetchedAt.String); perr == nil {
			r.FetchedAt = ft
		}
	}
	return &r, nil
}

func (s *SQLiteStore) SaveWindReading(ctx context.Context, cellKey string, r *model.WindReading) error {
	fetchedAt := r.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	query := `INSERT OR REPLACE INTO wind_readings (
		cell_key, speed, direction, cell_lat, cell_lon, fetched_at
	) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		cellKey, r.Speed, r.Direction, r.CellLat, r.CellLon, fetchedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *SQLiteStore) ListWindReadings(ctx context.Context) ([]*model.WindReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speed, direction, cell_lat, cell_lon, fetched_at FROM wind_readings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.WindReading
	for rows.Next() {
		var r model.WindReading
		var fetchedAt sql.NullString
		if err := rows.Scan(&r.Speed, &r.Direction, &r.CellLat, &r.CellLon, &fetchedAt); err != nil {
			return nil, err
		}
		if fetchedAt.Valid && fetchedAt.String != "" {
			if ft, perr := time.Parse(time.RFC3339, fetchedAt.String); perr == nil {
				r.FetchedAt = ft
			}
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// --- Cache ---

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	var expires sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value, expires FROM http_cache WHERE key = ?", key).Scan(&val, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		// For cache, treat error as miss
		return nil, false
	}

	// Expired rows are misses; the prune job removes them later
	if expires.Valid && expires.String != "" {
		if exp, perr := time.Parse(time.RFC3339, expires.String); perr == nil && time.Now().After(exp) {
			return nil, false
		}
	}

	// Transparent Decompression
	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		decompressed, err := decompress(val)
		if err == nil {
			return decompressed, true
		}
		// If decompression fails, maybe it's not actually gzipped. Return raw as fallback.
	}

	return val, true
}

func (s *SQLiteStore) HasCache(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM http_cache WHERE key = ?", key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetCache stores a value with an expiry. A non-positive ttl stores the
// entry without expiry.
func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	// Transparent Compression
	compressed, err := compress(val)
	if err == nil {
		val = compressed
	}

	var expires string
	if ttl > 0 {
		expires = time.Now().Add(ttl).UTC().Format(time.RFC3339)
	}

	query := `INSERT OR REPLACE INTO http_cache (key, value, expires, created_at) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, key, val, expires, time.Now())
	return err
}

func (s *SQLiteStore) ListCacheKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM http_cache WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Compression Pooling ---

var (
	// Pool for gzip writers to reuse flate state
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	// Pool for generic byte buffers
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	// Get Buffer
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	// Get Writer
	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)

	// Reset Writer to write to our buffer
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM app_state WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO app_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM app_state WHERE key = ?", key)
	return err
}
