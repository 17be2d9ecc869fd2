package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"stratoscope/pkg/store"
	"stratoscope/pkg/tracker"
)

// StatsHandler serves retrieval and runtime statistics for the dashboard
// diagnostics panel.
type StatsHandler struct {
	tracker *tracker.Tracker
	cache   store.CacheStore
	start   time.Time
}

// NewStatsHandler creates a new StatsHandler. cache may be nil.
func NewStatsHandler(t *tracker.Tracker, cache store.CacheStore) *StatsHandler {
	return &StatsHandler{
		tracker: t,
		cache:   cache,
		start:   time.Now(),
	}
}

type ProviderStatsDTO struct {
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	APISuccess    int64 `json:"api_success"`
	APIZeroResult int64 `json:"api_zero"`
	APIFailures   int64 `json:"api_errors"`
	HitRate       int64 `json:"hit_rate"`
	FreeTier      bool  `json:"free_tier"`
}

type RuntimeStats struct {
	AllocMB    uint64 `json:"alloc_mb"`
	SysMB      uint64 `json:"sys_mb"`
	Goroutines int    `json:"goroutines"`
	UptimeSec  int64  `json:"uptime_sec"`
}

type CacheStats struct {
	FeedHours int `json:"feed_hours"`
}

type StatsResponse struct {
	Runtime   RuntimeStats                `json:"runtime"`
	Cache     CacheStats                  `json:"cache"`
	Providers map[string]ProviderStatsDTO `json:"providers"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := StatsResponse{
		Runtime: RuntimeStats{
			AllocMB:    bToMb(m.Alloc),
			SysMB:      bToMb(m.Sys),
			Goroutines: runtime.NumGoroutine(),
			UptimeSec:  int64(time.Since(h.start).Seconds()),
		},
		Providers: make(map[string]ProviderStatsDTO),
	}

	if h.cache != nil {
		if keys, err := h.cache.ListCacheKeys(r.Context(), "wb_"); err == nil {
			resp.Cache.FeedHours = len(keys)
		}
	}

	for provider, stats := range snapshot {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Providers[provider] = ProviderStatsDTO{
			CacheHits:     stats.CacheHits,
			CacheMisses:   stats.CacheMisses,
			APISuccess:    stats.APISuccess,
			APIZeroResult: stats.APIZeroResult,
			APIFailures:   stats.APIFailures,
			HitRate:       hitRate,
			FreeTier:      stats.FreeTier,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
