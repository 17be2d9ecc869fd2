package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"stratoscope/pkg/config"
	"stratoscope/pkg/db"
	"stratoscope/pkg/db/maintenance"
	"stratoscope/pkg/logging"
	"stratoscope/pkg/model"
)

// PruneJob runs database maintenance on the archive cadence: retention
// pruning for snapshots, predictions, wind readings and the HTTP cache.
type PruneJob struct {
	BaseJob
	cfg      *config.Config
	database *db.DB
	lastTime time.Time
}

func NewPruneJob(cfg *config.Config, database *db.DB) *PruneJob {
	return &PruneJob{
		BaseJob:  NewBaseJob("Prune"),
		cfg:      cfg,
		database: database,
		// Maintenance already ran at boot; wait a full interval.
		lastTime: time.Now(),
	}
}

func (j *PruneJob) ShouldFire(st *model.FeedStatus) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}

	interval := time.Duration(j.cfg.Archive.PruneInterval)
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	return time.Since(j.lastTime) >= interval
}

func (j *PruneJob) Run(ctx context.Context, st *model.FeedStatus) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.lastTime = time.Now()

	if err := maintenance.Run(ctx, j.database, j.cfg); err != nil {
		slog.Error("PruneJob: maintenance failed", "error", err)
		logging.LogEvent(&model.FeedEvent{
			Type:    "prune",
			Title:   "Maintenance failed",
			Summary: err.Error(),
		})
		return
	}

	logging.LogEvent(&model.FeedEvent{
		Type:    "prune",
		Title:   "Maintenance completed",
		Summary: fmt.Sprintf("retention %s", time.Duration(j.cfg.Archive.Retention)),
	})
}
