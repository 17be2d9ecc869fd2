package constellation

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
	"stratoscope/pkg/db"
	"stratoscope/pkg/model"
	"stratoscope/pkg/store"
)

// fakeFetcher serves canned hour documents keyed by upstream offset.
type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[int]string
	errs  map[int]error
	calls map[int]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs:  make(map[int]string),
		errs:  make(map[int]error),
		calls: make(map[int]int),
	}
}

func (f *fakeFetcher) Get(_ context.Context, u, _ string) ([]byte, error) {
	return f.serve(u)
}

func (f *fakeFetcher) GetWithTTL(_ context.Context, u, _ string, _ time.Duration) ([]byte, error) {
	return f.serve(u)
}

func (f *fakeFetcher) serve(u string) ([]byte, error) {
	hour := hourFromURL(u)

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

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func hourFromURL(u string) int {
	i := strings.LastIndex(u, "/treasure/")
	if i < 0 {
		return -1
	}
	h, err := strconv.Atoi(u[i+len("/treasure/") : i+len("/treasure/")+2])
	if err != nil {
		return -1
	}
	return h
}

func newTestService(t *testing.T, f *fakeFetcher) (*Service, *store.SQLiteStore) {
	t.Helper()

	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	st := store.NewSQLiteStore(d)
	cfg := config.DefaultConfig().Feed
	cfg.BaseURL = "http://feed.test"
	return NewService(st, f, cfg), st
}

// Test fixture: balloon 0 drifts 1 degree north per hour, balloon 1 exists
// only in even hours (its entry is null otherwise), balloon 2 sits still
// except for one implausible longitude jump at hour 5.
func buildDoc(hour int) string {
	b0 := fmt.Sprintf("[%g, 10.0, 12.0]", 50.0-float64(hour))

	b1 := "null"
	if hour%2 == 0 {
		b1 = fmt.Sprintf("[%g, 20.0, 14.0]", -30.0+float64(hour))
	}

	lon := 60.0
	if hour == 5 {
		lon = 150.0
	}
	b2 := fmt.Sprintf("[10.0, %g, 16.0]", lon)

	return "[" + b0 + ", " + b1 + ", " + b2 + "]"
}

func TestBackfillWindow(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	for hour := 0; hour < WindowHours; hour++ {
		f.docs[hour] = buildDoc(hour)
	}
	svc, st := newTestService(t, f)

	if err := svc.Backfill(ctx); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	status := svc.Status()
	if status.HoursPresent != WindowHours {
		t.Errorf("HoursPresent = %d, want %d", status.HoursPresent, WindowHours)
	}
	if status.Generation != 1 {
		t.Errorf("Generation = %d, want 1", status.Generation)
	}
	if status.Balloons != 3 {
		t.Errorf("Balloons = %d, want 3", status.Balloons)
	}

	// Motion annotation on the newest hour: 1 degree of latitude per hour
	// is about 111 km/h heading north.
	latest := svc.Latest()
	if latest == nil {
		t.Fatal("Latest() returned nil after backfill")
	}
	b0 := latest.Samples[0]
	if b0.Speed < 110 || b0.Speed > 113 {
		t.Errorf("annotated speed = %v, want ~111 km/h", b0.Speed)
	}
	if b0.Heading > 1 && b0.Heading < 359 {
		t.Errorf("annotated heading = %v, want ~0 (north)", b0.Heading)
	}

	// History is newest first.
	h0 := svc.History(0)
	if len(h0) != WindowHours {
		t.Fatalf("History(0) length = %d, want %d", len(h0), WindowHours)
	}
	if h0[0].Lat != 50.0 || h0[23].Lat != 27.0 {
		t.Errorf("History(0) ordering wrong: first lat %v, last lat %v", h0[0].Lat, h0[23].Lat)
	}

	// Balloon 1 is only present in even hours; the gaps are skipped, not
	// zero-filled.
	h1 := svc.History(1)
	if len(h1) != 12 {
		t.Errorf("History(1) length = %d, want 12", len(h1))
	}
	if len(h1) > 1 && (h1[0].Lat != -30.0 || h1[1].Lat != -28.0) {
		t.Errorf("History(1) should skip gap hours, got lats %v, %v", h1[0].Lat, h1[1].Lat)
	}

	// The hour-5 longitude glitch jumps thousands of kilometers and gets
	// dropped from the track.
	h2 := svc.History(2)
	if len(h2) != WindowHours-1 {
		t.Errorf("History(2) length = %d, want %d", len(h2), WindowHours-1)
	}
	for _, s := range h2 {
		if s.Lon == 150.0 {
			t.Error("History(2) kept the implausible jump")
		}
	}

	// Snapshots were persisted.
	stored, err := st.GetSnapshot(ctx, latest.HourUTC)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if stored == nil || len(stored.Samples) != 3 {
		t.Errorf("persisted snapshot = %+v, want 3 samples", stored)
	}

	// A second backfill finds every slot current and fetches nothing.
	calls := f.totalCalls()
	if err := svc.Backfill(ctx); err != nil {
		t.Fatalf("second Backfill failed: %v", err)
	}
	if f.totalCalls() != calls {
		t.Errorf("second backfill refetched: %d calls, want %d", f.totalCalls(), calls)
	}
}

func TestBackfillDegradesOnFailures(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	for hour := 0; hour < WindowHours; hour++ {
		f.docs[hour] = buildDoc(hour)
	}
	f.errs[3] = fmt.Errorf("api error: status 503")
	f.docs[7] = `<html>502 Bad Gateway</html>`
	svc, _ := newTestService(t, f)

	if err := svc.Backfill(ctx); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	// The unreachable hour is a gap; the unparseable one holds an empty
	// snapshot so the slot is not refetched every cycle.
	if svc.Snapshot(3) != nil {
		t.Error("hour 3 should be a gap")
	}
	snap7 := svc.Snapshot(7)
	if snap7 == nil {
		t.Fatal("hour 7 should hold an empty snapshot")
	}
	if len(snap7.Samples) != 0 {
		t.Errorf("hour 7 samples = %d, want 0", len(snap7.Samples))
	}

	status := svc.Status()
	if status.HoursPresent != WindowHours-1 {
		t.Errorf("HoursPresent = %d, want %d", status.HoursPresent, WindowHours-1)
	}

	// Balloon 0 history: hour 3 gap and hour 7 empty drop two samples.
	if got := len(svc.History(0)); got != WindowHours-2 {
		t.Errorf("History(0) length = %d, want %d", got, WindowHours-2)
	}
}

func TestBackfillKeepsAnnotatedStore(t *testing.T) {
	ctx := context.Background()
	doc := `[[50.0, 10.0, 12.0]]`
	f := newFakeFetcher()
	f.docs[0] = doc
	svc, st := newTestService(t, f)

	base := time.Now().UTC().Truncate(time.Hour)
	enriched := &model.Snapshot{
		HourUTC:   base,
		Samples:   map[int]model.Sample{0: {Lat: 50, Lon: 10, Alt: 12, WindSpeed: 33.0}},
		Hash:      contentHash([]byte(doc)),
		FetchedAt: time.Now().UTC(),
	}
	if err := st.SaveSnapshot(ctx, enriched); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	// The window is empty, so backfill refetches the hour. The stored copy
	// has the same content hash and must keep its wind annotation.
	if err := svc.Backfill(ctx); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	stored, err := st.GetSnapshot(ctx, base)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if stored == nil || stored.Samples[0].WindSpeed != 33.0 {
		t.Errorf("refetch overwrote the annotated snapshot: %+v", stored)
	}
}

func TestRefreshGeneration(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.docs[0] = `[[50.0, 10.0, 12.0], [51.0, 11.0, 13.0]]`
	svc, _ := newTestService(t, f)

	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("RefreshLatest failed: %v", err)
	}
	if gen := svc.Status().Generation; gen != 1 {
		t.Fatalf("generation after first refresh = %d, want 1", gen)
	}

	// Same content: bookkeeping refreshes, generation must not move.
	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("RefreshLatest failed: %v", err)
	}
	status := svc.Status()
	if status.Generation != 1 {
		t.Errorf("generation after unchanged refresh = %d, want 1", status.Generation)
	}
	if status.LastRefresh.IsZero() {
		t.Error("LastRefresh not recorded")
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}

	// Changed content advances the generation exactly once.
	f.mu.Lock()
	f.docs[0] = `[[50.1, 10.2, 12.1], [51.1, 11.2, 13.1], [52.0, 12.0, 14.0]]`
	f.mu.Unlock()
	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("RefreshLatest failed: %v", err)
	}
	status = svc.Status()
	if status.Generation != 2 {
		t.Errorf("generation after changed refresh = %d, want 2", status.Generation)
	}
	if status.Balloons != 3 {
		t.Errorf("Balloons = %d, want 3", status.Balloons)
	}
}

func TestRefreshKeepsWindowOnErrors(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.docs[0] = `[[50.0, 10.0, 12.0]]`
	svc, _ := newTestService(t, f)

	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("RefreshLatest failed: %v", err)
	}

	// Upstream down: the window keeps its last good hour.
	f.mu.Lock()
	f.errs[0] = fmt.Errorf("api error: status 503")
	f.mu.Unlock()
	if err := svc.RefreshLatest(ctx); err == nil {
		t.Fatal("Expected error from failed refresh")
	}
	status := svc.Status()
	if status.Generation != 1 {
		t.Errorf("generation = %d, want 1 after failed refresh", status.Generation)
	}
	if status.LastError == "" {
		t.Error("LastError not recorded")
	}
	if svc.Latest() == nil || len(svc.Latest().Samples) != 1 {
		t.Error("window lost its last good snapshot")
	}

	// Upstream serving junk: same containment.
	f.mu.Lock()
	delete(f.errs, 0)
	f.docs[0] = `<html>maintenance</html>`
	f.mu.Unlock()
	if err := svc.RefreshLatest(ctx); err == nil {
		t.Fatal("Expected error from unparseable refresh")
	}
	if gen := svc.Status().Generation; gen != 1 {
		t.Errorf("generation = %d, want 1 after unparseable refresh", gen)
	}
	if svc.Latest() == nil || len(svc.Latest().Samples) != 1 {
		t.Error("window lost its last good snapshot")
	}

	// Upstream recovers with new content.
	f.mu.Lock()
	f.docs[0] = `[[50.5, 10.5, 12.5]]`
	f.mu.Unlock()
	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("RefreshLatest failed: %v", err)
	}
	status = svc.Status()
	if status.Generation != 2 {
		t.Errorf("generation = %d, want 2 after recovery", status.Generation)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty after recovery", status.LastError)
	}
}

func TestWarmStart(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Hour)

	f := newFakeFetcher()
	svc, st := newTestService(t, f)

	for i := 0; i < 2; i++ {
		err := st.SaveSnapshot(ctx, &model.Snapshot{
			HourUTC:    base.Add(-time.Duration(i) * time.Hour),
			SourceHour: i,
			Samples:    map[int]model.Sample{0: {Lat: 50.0 - float64(i), Lon: 10, Alt: 12}},
			Hash:       fmt.Sprintf("hash-%d", i),
			FetchedAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	if err := svc.WarmStart(ctx); err != nil {
		t.Fatalf("WarmStart failed: %v", err)
	}

	status := svc.Status()
	if status.HoursPresent != 2 {
		t.Errorf("HoursPresent = %d, want 2", status.HoursPresent)
	}
	if status.Generation != 1 {
		t.Errorf("generation = %d, want 1 after restore", status.Generation)
	}
	if got := len(svc.History(0)); got != 2 {
		t.Errorf("History(0) length = %d, want 2", got)
	}

	// A warm start never counts as a refresh.
	if !status.LastRefresh.IsZero() {
		t.Error("LastRefresh should stay zero until the first refresh")
	}
}

func TestUpdateSamples(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.docs[0] = `[[50.0, 10.0, 12.0]]`
	svc, st := newTestService(t, f)

	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("RefreshLatest failed: %v", err)
	}
	latest := svc.Latest()

	annotated := map[int]model.Sample{
		0: {Lat: 50.0, Lon: 10.0, Alt: 12.0, WindSpeed: 42.5, WindDir: 270.0},
	}
	if err := svc.UpdateSamples(ctx, latest.HourUTC, latest.Hash, annotated); err != nil {
		t.Fatalf("UpdateSamples failed: %v", err)
	}

	got := svc.Latest().Samples[0]
	if got.WindSpeed != 42.5 || got.WindDir != 270.0 {
		t.Errorf("wind annotation lost: %+v", got)
	}

	// The annotated snapshot is persisted, so restarts keep the enrichment.
	stored, err := st.GetSnapshot(ctx, latest.HourUTC)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if stored == nil || stored.Samples[0].WindSpeed != 42.5 {
		t.Errorf("persisted snapshot missing annotation: %+v", stored)
	}

	// Updates for hours outside the window are silently dropped.
	if err := svc.UpdateSamples(ctx, latest.HourUTC.Add(-48*time.Hour), latest.Hash, annotated); err != nil {
		t.Fatalf("UpdateSamples for absent hour failed: %v", err)
	}

	// A stale hash means the hour was revised mid-enrichment; the stale
	// sample set must not clobber the revision.
	stale := map[int]model.Sample{0: {Lat: 0, Lon: 0, Alt: 0}}
	if err := svc.UpdateSamples(ctx, latest.HourUTC, "deadbeef", stale); err != nil {
		t.Fatalf("UpdateSamples with stale hash failed: %v", err)
	}
	if got := svc.Latest().Samples[0]; got.WindSpeed != 42.5 {
		t.Errorf("stale update replaced revised samples: %+v", got)
	}
}
