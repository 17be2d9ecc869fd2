package core

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"stratoscope/pkg/config"
	"stratoscope/pkg/constellation"
	"stratoscope/pkg/model"
)

// RefreshJob keeps the constellation window current. It refreshes the
// newest hour on the configured cadence and backfills older hours while
// the window still has gaps. While gaps remain or the last refresh failed
// it switches to the shorter retry cadence, so a cold start or an upstream
// outage converges without waiting a full refresh interval. Cadences come
// through the config provider, so runtime adjustments apply on the next
// tick.
type RefreshJob struct {
	BaseJob
	cfgProv  config.Provider
	feed     *constellation.Service
	lastTime time.Time
	firstRun bool
}

func NewRefreshJob(cfgProv config.Provider, feed *constellation.Service) *RefreshJob {
	return &RefreshJob{
		BaseJob:  NewBaseJob("Refresh"),
		cfgProv:  cfgProv,
		feed:     feed,
		firstRun: true,
	}
}

func (j *RefreshJob) ShouldFire(st *model.FeedStatus) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}

	if j.firstRun {
		return true
	}

	ctx := context.Background()
	interval := j.cfgProv.RefreshInterval(ctx)
	if st.HoursPresent < constellation.WindowHours || st.LastError != "" {
		interval = j.cfgProv.RetryInterval(ctx)
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	return time.Since(j.lastTime) >= interval
}

func (j *RefreshJob) Run(ctx context.Context, st *model.FeedStatus) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.lastTime = time.Now()
	j.firstRun = false

	if err := j.feed.RefreshLatest(ctx); err != nil {
		slog.Warn("RefreshJob: refresh failed", "error", err)
	}

	// Backfill only touches missing hours, so running it on every pass is
	// cheap once the window is full.
	if cur := j.feed.Status(); cur.HoursPresent < constellation.WindowHours {
		if err := j.feed.Backfill(ctx); err != nil {
			slog.Warn("RefreshJob: backfill failed", "error", err)
		}
	}
}
