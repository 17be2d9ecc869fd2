package core

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"stratoscope/pkg/config"
	"stratoscope/pkg/constellation"
	"stratoscope/pkg/model"
	"stratoscope/pkg/predict"
	"stratoscope/pkg/store"
)

// SweepPublisher receives the outcome of a prediction sweep; the API layer
// fans it out to subscribed dashboards.
type SweepPublisher interface {
	PublishSweep(generation uint64, predicted int)
}

// SweepMetrics receives per-balloon prediction outcomes; the observability
// collector satisfies it. A nil recorder disables instrumentation.
type SweepMetrics interface {
	RecordPrediction(outcome string)
}

// PredictJob recomputes the predicted next position of every tracked
// balloon after each window advance and persists the results keyed by
// generation. Balloons with short histories are skipped, not failed.
// Disabling prediction at runtime pauses the sweep; the pending generation
// fires once re-enabled.
type PredictJob struct {
	BaseJob
	cfgProv config.Provider
	feed    *constellation.Service
	mdl     *predict.Model
	preds   store.PredictionStore
	pub     SweepPublisher
	metrics SweepMetrics
	lastGen uint64
}

func NewPredictJob(cfgProv config.Provider, feed *constellation.Service, mdl *predict.Model, preds store.PredictionStore, pub SweepPublisher) *PredictJob {
	return &PredictJob{
		BaseJob: NewBaseJob("Predict"),
		cfgProv: cfgProv,
		feed:    feed,
		mdl:     mdl,
		preds:   preds,
		pub:     pub,
	}
}

// SetMetrics installs the sweep instrumentation sink. Call before the
// scheduler starts; the field is not guarded.
func (j *PredictJob) SetMetrics(m SweepMetrics) {
	j.metrics = m
}

func (j *PredictJob) recordPrediction(outcome string) {
	if j.metrics != nil {
		j.metrics.RecordPrediction(outcome)
	}
}

func (j *PredictJob) ShouldFire(st *model.FeedStatus) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}
	if !j.cfgProv.PredictEnabled(context.Background()) {
		return false
	}

	return st.Generation > atomic.LoadUint64(&j.lastGen)
}

func (j *PredictJob) Run(ctx context.Context, st *model.FeedStatus) {
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
	var predicted, unavailable, failed int

	for idx := range snap.Samples {
		next, err := predict.Next(j.feed.History(idx), j.mdl)
		if err != nil {
			if errors.Is(err, predict.ErrShapeMismatch) {
				// Every balloon would fail the same way; one report is enough.
				slog.Error("PredictJob: model unusable", "error", err)
				j.recordPrediction("shape_mismatch")
				failed = len(snap.Samples) - predicted - unavailable
				break
			}
			j.recordPrediction("error")
			failed++
			continue
		}
		if next == nil {
			j.recordPrediction("unavailable")
			unavailable++
			continue
		}

		p := &model.Prediction{
			Index:      idx,
			Generation: st.Generation,
			Next:       *next,
			CreatedAt:  time.Now().UTC(),
		}
		if err := j.preds.SavePrediction(ctx, p); err != nil {
			slog.Warn("PredictJob: failed to persist prediction", "index", idx, "error", err)
			j.recordPrediction("error")
			failed++
			continue
		}
		j.recordPrediction("ok")
		predicted++
	}

	if j.pub != nil && predicted > 0 {
		j.pub.PublishSweep(st.Generation, predicted)
	}

	slog.Info("PredictJob: sweep completed",
		"generation", st.Generation,
		"predicted", predicted,
		"unavailable", unavailable,
		"failed", failed,
		"duration", time.Since(start),
	)
}
