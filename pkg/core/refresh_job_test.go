package core

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
	"stratoscope/pkg/model"
	"stratoscope/pkg/store"
)

// fakeFeedClient serves canned hour documents keyed by upstream offset.
type fakeFeedClient struct {
	mu    sync.Mutex
	docs  map[int]string
	errs  map[int]error
	calls map[int]int
}

func newFakeFeedClient() *fakeFeedClient {
	return &fakeFeedClient{
		docs:  make(map[int]string),
		errs:  make(map[int]error),
		calls: make(map[int]int),
	}
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
	f.calls[hour]++
	if err, ok := f.errs[hour]; ok {
		return nil, err
	}
	doc, ok := f.docs[hour]
	if !ok {
		return nil, fmt.Errorf("api error: status 404")
	}
	return []byte(doc), nil
}

func (f *fakeFeedClient) callsFor(hour int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hour]
}

func (f *fakeFeedClient) clearErr(hour int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, hour)
}

// driftDoc is a single balloon drifting one degree north per hour.
func driftDoc(hour int) string {
	return fmt.Sprintf("[[%g, 10.0, 12.0]]", 40.0-float64(hour))
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

func TestRefreshJob_ColdStartConverges(t *testing.T) {
	f := newFakeFeedClient()
	for hour := 0; hour < constellation.WindowHours; hour++ {
		f.docs[hour] = driftDoc(hour)
	}
	feed, _ := newTestFeed(t, f)

	job := NewRefreshJob(config.NewProvider(config.DefaultConfig(), nil), feed)

	st := feed.Status()
	if !job.ShouldFire(st) {
		t.Fatal("First tick should fire")
	}
	job.Run(context.Background(), st)

	after := feed.Status()
	if after.HoursPresent != constellation.WindowHours {
		t.Errorf("HoursPresent = %d, want %d", after.HoursPresent, constellation.WindowHours)
	}
	if after.Generation == 0 {
		t.Error("Generation should have advanced")
	}
	if after.Balloons != 1 {
		t.Errorf("Balloons = %d, want 1", after.Balloons)
	}

	// Immediately after a run the job is inside its cadence.
	if job.ShouldFire(after) {
		t.Error("Job should cool down after a run")
	}
}

func TestRefreshJob_BackfillHealsGaps(t *testing.T) {
	f := newFakeFeedClient()
	for hour := 0; hour < constellation.WindowHours; hour++ {
		f.docs[hour] = driftDoc(hour)
	}
	f.errs[5] = fmt.Errorf("api error: status 503")
	feed, _ := newTestFeed(t, f)

	job := NewRefreshJob(config.NewProvider(config.DefaultConfig(), nil), feed)
	job.Run(context.Background(), feed.Status())

	if got := feed.Status().HoursPresent; got != constellation.WindowHours-1 {
		t.Fatalf("HoursPresent = %d, want %d with hour 5 down", got, constellation.WindowHours-1)
	}

	// Upstream recovers; the next pass fetches only the missing hour.
	f.clearErr(5)
	hour3Calls := f.callsFor(3)
	job.lastTime = time.Now().Add(-time.Hour)
	job.Run(context.Background(), feed.Status())

	if got := feed.Status().HoursPresent; got != constellation.WindowHours {
		t.Errorf("HoursPresent = %d, want %d after recovery", got, constellation.WindowHours)
	}
	if got := f.callsFor(5); got != 2 {
		t.Errorf("hour 5 fetched %d times, want 2", got)
	}
	if got := f.callsFor(3); got != hour3Calls {
		t.Errorf("hour 3 refetched during gap healing (%d -> %d calls)", hour3Calls, got)
	}
}

func TestRefreshJob_Cadence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Feed.RefreshInterval = config.Duration(10 * time.Minute)
	cfg.Feed.RetryInterval = config.Duration(2 * time.Minute)

	job := NewRefreshJob(config.NewProvider(cfg, nil), nil)
	job.firstRun = false
	job.lastTime = time.Now().Add(-5 * time.Minute)

	tests := []struct {
		name string
		st   model.FeedStatus
		want bool
	}{
		{"Full window inside refresh interval", model.FeedStatus{HoursPresent: 24}, false},
		{"Gapped window uses retry interval", model.FeedStatus{HoursPresent: 20}, true},
		{"Failed refresh uses retry interval", model.FeedStatus{HoursPresent: 24, LastError: "api error: status 503"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := job.ShouldFire(&tt.st); got != tt.want {
				t.Errorf("ShouldFire() = %v, want %v", got, tt.want)
			}
		})
	}

	// Past the full refresh interval even a healthy window is due.
	job.lastTime = time.Now().Add(-11 * time.Minute)
	if !job.ShouldFire(&model.FeedStatus{HoursPresent: 24}) {
		t.Error("ShouldFire() = false after a full refresh interval")
	}
}
