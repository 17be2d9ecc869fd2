package api

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"stratoscope/pkg/config"
	"stratoscope/pkg/constellation"
	"stratoscope/pkg/db"
	"stratoscope/pkg/store"
)

// fakeFeedClient serves canned hour documents keyed by upstream offset.
type fakeFeedClient struct {
	mu   sync.Mutex
	docs map[int]string
}

func newFakeFeedClient() *fakeFeedClient {
	return &fakeFeedClient{docs: make(map[int]string)}
}

func (f *fakeFeedClient) Get(_ context.Context, u, _ string) ([]byte, error) {
	return f.serve(u)
}

func (f *fakeFeedClient) GetWithTTL(_ context.Context, u, _ string, _ time.Duration) ([]byte, error) {
	return f.serve(u)
}

func (f *fakeFeedClient) serve(u string) ([]byte, error) {
	i := strings.LastIndex(u, "/treasure/")
	hour, _ := strconv.Atoi(u[i+len("/treasure/") : i+len("/treasure/")+2])

	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[hour]
	if !ok {
		return nil, fmt.Errorf("api error: status 404")
	}
	return []byte(doc), nil
}

// constellationDoc returns three balloons: index 0 drifts one degree north
// per hour, the others hold station on opposite sides of the globe.
func constellationDoc(hour int) string {
	return fmt.Sprintf("[[%g, 10.0, 12.0], [48.9, 2.3, 14.5], [-33.9, 151.2, 8.1]]", 40.0-float64(hour))
}

func newTestFeed(t *testing.T, f *fakeFeedClient) (*constellation.Service, *store.SQLiteStore) {
	t.Helper()

	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	st := store.NewSQLiteStore(d)
	cfg := config.DefaultConfig().Feed
	cfg.BaseURL = "http://feed.test"
	return constellation.NewService(st, f, cfg), st
}

// newBackfilledFeed seeds the given hours and fills the window from them.
func newBackfilledFeed(t *testing.T, hours int) (*constellation.Service, *store.SQLiteStore) {
	t.Helper()

	f := newFakeFeedClient()
	for hour := 0; hour < hours && hour < constellation.WindowHours; hour++ {
		f.docs[hour] = constellationDoc(hour)
	}
	feed, st := newTestFeed(t, f)
	if err := feed.Backfill(context.Background()); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}
	return feed, st
}
