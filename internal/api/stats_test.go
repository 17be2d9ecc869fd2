package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stratoscope/pkg/tracker"
)

func TestStatsReportsProvidersAndRuntime(t *testing.T) {
	_, st := newTestFeed(t, newFakeFeedClient())
	ctx := context.Background()

	tr := tracker.New()
	tr.TrackCacheHit("windborne")
	tr.TrackCacheHit("windborne")
	tr.TrackCacheHit("windborne")
	tr.TrackCacheMiss("windborne")
	tr.TrackAPISuccess("windborne")
	tr.SetFreeTier("windborne", true)

	if err := st.SetCache(ctx, "wb_2026012010", []byte("[]"), time.Hour); err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}
	if err := st.SetCache(ctx, "wb_2026012011", []byte("[]"), time.Hour); err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}
	if err := st.SetCache(ctx, "om_cell", []byte("{}"), time.Hour); err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}

	h := NewStatsHandler(tr, st)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}

	wb, ok := resp.Providers["windborne"]
	if !ok {
		t.Fatalf("Expected windborne provider stats, got %v", resp.Providers)
	}
	if wb.CacheHits != 3 || wb.CacheMisses != 1 || wb.APISuccess != 1 {
		t.Errorf("Unexpected provider counters: %+v", wb)
	}
	if wb.HitRate != 75 {
		t.Errorf("Expected hit rate 75, got %d", wb.HitRate)
	}
	if !wb.FreeTier {
		t.Errorf("Expected free tier flag")
	}

	if resp.Cache.FeedHours != 2 {
		t.Errorf("Expected 2 cached feed hours, got %d", resp.Cache.FeedHours)
	}
	if resp.Runtime.Goroutines <= 0 {
		t.Errorf("Expected a positive goroutine count")
	}
	if resp.Runtime.SysMB == 0 {
		t.Errorf("Expected nonzero reserved memory")
	}
}

func TestStatsEmptyTracker(t *testing.T) {
	h := NewStatsHandler(tracker.New(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if len(resp.Providers) != 0 {
		t.Errorf("Expected no providers, got %v", resp.Providers)
	}
}
