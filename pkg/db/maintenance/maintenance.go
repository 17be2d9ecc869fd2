// Package maintenance bundles database upkeep: retention pruning for
// snapshots, predictions, wind readings and the HTTP cache. It runs once
// at startup and again from the scheduled prune job.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"stratoscope/pkg/config"
	"stratoscope/pkg/db"
)

// Run executes all maintenance tasks. It blocks until completion.
// Individual failures are logged without aborting the remaining tasks;
// the first error is returned so scheduled runs can surface it.
func Run(ctx context.Context, d *db.DB, cfg *config.Config) error {
	slog.Info("Starting database maintenance...")

	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	retention := time.Duration(cfg.Archive.Retention)

	if n, err := pruneSnapshots(ctx, d, retention); err != nil {
		slog.Error("Snapshot pruning failed", "error", err)
		keep(err)
	} else if n > 0 {
		slog.Info("Snapshot pruning completed", "removed", n)
	}

	if err := d.PruneCache(); err != nil {
		slog.Error("Cache pruning failed", "error", err)
		keep(err)
	} else {
		slog.Info("Cache pruning completed")
	}

	if err := d.PrunePredictions(retention); err != nil {
		slog.Error("Prediction pruning failed", "error", err)
		keep(err)
	}

	if err := d.PruneWind(retention); err != nil {
		slog.Error("Wind pruning failed", "error", err)
		keep(err)
	}

	return firstErr
}

// pruneSnapshots culls snapshot hours past the retention horizon.
func pruneSnapshots(ctx context.Context, d *db.DB, retention time.Duration) (int64, error) {
	return d.PruneSnapshots(retention)
}
