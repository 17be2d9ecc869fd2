package core

import (
	"context"
	"math"
	"sync"
	"testing"

	"stratoscope/pkg/config"
	"stratoscope/pkg/constellation"
	"stratoscope/pkg/predict"
)

// zeroModel predicts no displacement: the next position equals the anchor.
func zeroModel() *predict.Model {
	coef := make([][]float64, 3)
	for i := range coef {
		coef[i] = make([]float64, predict.FeatureCount)
	}
	return &predict.Model{Coefficients: coef, Intercepts: []float64{0, 0, 0}}
}

type fakeSweepPublisher struct {
	mu     sync.Mutex
	sweeps []struct {
		gen       uint64
		predicted int
	}
}

func (p *fakeSweepPublisher) PublishSweep(gen uint64, predicted int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweeps = append(p.sweeps, struct {
		gen       uint64
		predicted int
	}{gen, predicted})
}

func TestPredictJob_SweepPersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeedClient()
	for hour := 0; hour < constellation.WindowHours; hour++ {
		f.docs[hour] = driftDoc(hour)
	}
	feed, st := newTestFeed(t, f)
	if err := feed.Backfill(ctx); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	pub := &fakeSweepPublisher{}
	job := NewPredictJob(config.NewProvider(config.DefaultConfig(), nil), feed, zeroModel(), st, pub)

	status := feed.Status()
	if !job.ShouldFire(status) {
		t.Fatal("Job should fire on the first generation")
	}
	job.Run(ctx, status)

	p, err := st.GetPrediction(ctx, 0, status.Generation)
	if err != nil {
		t.Fatalf("GetPrediction failed: %v", err)
	}
	if p == nil {
		t.Fatal("No prediction persisted for balloon 0")
	}
	// Zero displacement: the predicted position is the newest observed one.
	if math.Abs(p.Next.Lat-40.0) > 1e-9 || math.Abs(p.Next.Lon-10.0) > 1e-9 {
		t.Errorf("Next = %+v, want the anchor position (40, 10)", p.Next)
	}

	pub.mu.Lock()
	sweeps := len(pub.sweeps)
	var first struct {
		gen       uint64
		predicted int
	}
	if sweeps > 0 {
		first = pub.sweeps[0]
	}
	pub.mu.Unlock()

	if sweeps != 1 {
		t.Fatalf("Publisher called %d times, want 1", sweeps)
	}
	if first.gen != status.Generation || first.predicted != 1 {
		t.Errorf("Published sweep = %+v, want generation %d with 1 prediction", first, status.Generation)
	}

	if job.ShouldFire(feed.Status()) {
		t.Error("Job should not refire on the same generation")
	}
}

func TestPredictJob_ShortHistoryIsUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeedClient()
	// Five present hours is well short of the 21-sample window.
	for hour := 0; hour < 5; hour++ {
		f.docs[hour] = driftDoc(hour)
	}
	feed, st := newTestFeed(t, f)
	if err := feed.Backfill(ctx); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	pub := &fakeSweepPublisher{}
	job := NewPredictJob(config.NewProvider(config.DefaultConfig(), nil), feed, zeroModel(), st, pub)

	status := feed.Status()
	job.Run(ctx, status)

	if p, _ := st.GetPrediction(ctx, 0, status.Generation); p != nil {
		t.Errorf("Prediction stored despite a short history: %+v", p)
	}

	pub.mu.Lock()
	sweeps := len(pub.sweeps)
	pub.mu.Unlock()
	if sweeps != 0 {
		t.Errorf("Publisher called %d times with nothing predicted", sweeps)
	}
}

func TestPredictJob_RejectsBadModelShape(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeedClient()
	for hour := 0; hour < constellation.WindowHours; hour++ {
		f.docs[hour] = driftDoc(hour)
	}
	feed, st := newTestFeed(t, f)
	if err := feed.Backfill(ctx); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	bad := &predict.Model{
		Coefficients: [][]float64{{1, 2, 3}},
		Intercepts:   []float64{0},
	}
	job := NewPredictJob(config.NewProvider(config.DefaultConfig(), nil), feed, bad, st, nil)

	status := feed.Status()
	job.Run(ctx, status)

	preds, err := st.GetPredictions(ctx, status.Generation)
	if err != nil {
		t.Fatalf("GetPredictions failed: %v", err)
	}
	if len(preds) != 0 {
		t.Errorf("Got %d predictions from a malformed model, want 0", len(preds))
	}
}
