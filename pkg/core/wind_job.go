package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stratoscope/pkg/config"
	"stratoscope/pkg/constellation"
	"stratoscope/pkg/model"
	"stratoscope/pkg/wind"
)

// windWorkers bounds concurrent lookups; the per-provider rate limiter
// paces the actual upstream calls.
const windWorkers = 4

// WindJob enriches the latest snapshot with wind readings after each
// window advance. The provider shares one reading per cell, so a dense
// cluster of balloons costs a single upstream call. Disabling wind at
// runtime pauses the job; the pending generation fires once re-enabled.
type WindJob struct {
	BaseJob
	cfgProv config.Provider
	feed    *constellation.Service
	winds   wind.Provider
	lastGen uint64
}

func NewWindJob(cfgProv config.Provider, feed *constellation.Service, winds wind.Provider) *WindJob {
	return &WindJob{
		BaseJob: NewBaseJob("Wind"),
		cfgProv: cfgProv,
		feed:    feed,
		winds:   winds,
	}
}

func (j *WindJob) ShouldFire(st *model.FeedStatus) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}
	if !j.cfgProv.WindEnabled(context.Background()) {
		return false
	}

	return st.Generation > atomic.LoadUint64(&j.lastGen)
}

func (j *WindJob) Run(ctx context.Context, st *model.FeedStatus) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	atomic.StoreUint64(&j.lastGen, st.Generation)

	snap := j.feed.Latest()
	if snap == nil || len(snap.Samples) == 0 {
		return
	}

	start := time.Now()
	enriched := make(map[int]model.Sample, len(snap.Samples))
	var mu sync.Mutex
	var misses int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(windWorkers)
	for idx, sample := range snap.Samples {
		g.Go(func() error {
			r, err := j.winds.CurrentWind(gctx, sample.Lat, sample.Lon)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// The sample stays in the set, just without wind.
				misses++
			} else {
				sample.WindSpeed = r.Speed
				sample.WindDir = r.Direction
			}
			enriched[idx] = sample
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil || misses == len(enriched) {
		return
	}

	// The snapshot hash pins the install to the samples we read; a revision
	// that landed mid-enrichment wins and we retry next generation.
	if err := j.feed.UpdateSamples(ctx, snap.HourUTC, snap.Hash, enriched); err != nil {
		slog.Warn("WindJob: failed to install wind annotations", "error", err)
		return
	}

	slog.Info("WindJob: snapshot enriched",
		"balloons", len(enriched),
		"missing", misses,
		"duration", time.Since(start),
	)
}
