package core

import (
	"context"
	"log/slog"
	"time"

	"stratoscope/pkg/config"
	"stratoscope/pkg/model"
)

// StatusProvider yields the current feed state; polled once per tick.
type StatusProvider interface {
	Status() *model.FeedStatus
}

// StatusSink is an interface for consumers of the status stream (the API
// layer pushes it to connected dashboards).
type StatusSink interface {
	UpdateStatus(st *model.FeedStatus)
}

// Scheduler manages the central heartbeat and scheduled jobs.
type Scheduler struct {
	cfg  *config.Config
	feed StatusProvider
	sink StatusSink
	jobs []Job
}

// NewScheduler creates a new Scheduler.
func NewScheduler(cfg *config.Config, feed StatusProvider, sink StatusSink) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		feed: feed,
		sink: sink,
		jobs: []Job{},
	}
}

// AddJob registers a job.
func (s *Scheduler) AddJob(j Job) {
	s.jobs = append(s.jobs, j)
}

// Start runs the main loop. It blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.Ticker.StatusLoop)
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "interval", interval, "jobs", len(s.jobs))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	// 1. Pull feed status
	st := s.feed.Status()

	// 2. Broadcast to sink (API)
	if s.sink != nil {
		s.sink.UpdateStatus(st)
	}

	// 3. Evaluate jobs
	for _, job := range s.jobs {
		if job.ShouldFire(st) {
			// Fire and forget
			go job.Run(ctx, st)
		}
	}
}
