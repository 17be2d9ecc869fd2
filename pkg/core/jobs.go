package core

import (
	"context"
	"sync/atomic"
	"time"

	"stratoscope/pkg/model"
)

// Job defines a scheduled task.
type Job interface {
	Name() string
	ShouldFire(st *model.FeedStatus) bool
	Run(ctx context.Context, st *model.FeedStatus)
}

// BaseJob provides atomic running state to prevent re-entry.
type BaseJob struct {
	name    string
	running int32 // 1 if running, 0 otherwise
}

func NewBaseJob(name string) BaseJob {
	return BaseJob{name: name}
}

func (b *BaseJob) Name() string {
	return b.name
}

// TryLock attempts to set running to 1. Returns true if successful.
func (b *BaseJob) TryLock() bool {
	return atomic.CompareAndSwapInt32(&b.running, 0, 1)
}

func (b *BaseJob) Unlock() {
	atomic.StoreInt32(&b.running, 0)
}

// TimeJob fires when time elapsed exceeds threshold.
type TimeJob struct {
	BaseJob
	lastTime  time.Time
	threshold time.Duration
	action    func(context.Context, model.FeedStatus)
	firstRun  bool
}

func NewTimeJob(name string, threshold time.Duration, action func(context.Context, model.FeedStatus)) *TimeJob {
	return &TimeJob{
		BaseJob:   NewBaseJob(name),
		threshold: threshold,
		action:    action,
		firstRun:  true,
	}
}

func (j *TimeJob) ShouldFire(st *model.FeedStatus) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}

	if j.firstRun {
		return true
	}

	return time.Since(j.lastTime) >= j.threshold
}

func (j *TimeJob) Run(ctx context.Context, st *model.FeedStatus) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.lastTime = time.Now()
	j.firstRun = false

	j.action(ctx, *st)
}

// GenerationJob fires when the feed generation counter advances past the
// last value it processed. A freshly created job treats any non-zero
// generation as new, so it also fires once for a window restored at boot.
type GenerationJob struct {
	BaseJob
	lastGen uint64
	action  func(context.Context, model.FeedStatus)
}

func NewGenerationJob(name string, action func(context.Context, model.FeedStatus)) *GenerationJob {
	return &GenerationJob{
		BaseJob: NewBaseJob(name),
		action:  action,
	}
}

func (j *GenerationJob) ShouldFire(st *model.FeedStatus) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}

	return st.Generation > atomic.LoadUint64(&j.lastGen)
}

func (j *GenerationJob) Run(ctx context.Context, st *model.FeedStatus) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	atomic.StoreUint64(&j.lastGen, st.Generation)

	j.action(ctx, *st)
}
