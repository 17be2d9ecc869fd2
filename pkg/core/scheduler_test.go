package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"stratoscope/pkg/config"
	"stratoscope/pkg/model"
)

// mockStatusProvider implements StatusProvider
type mockStatusProvider struct {
	mu sync.Mutex
	st model.FeedStatus
}

func (m *mockStatusProvider) Status() *model.FeedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.st
	return &st
}

func (m *mockStatusProvider) SetStatus(st model.FeedStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
}

// mockSink implements StatusSink
type mockSink struct {
	mu      sync.Mutex
	updates int
	last    model.FeedStatus
}

func (m *mockSink) UpdateStatus(st *model.FeedStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.last = *st
}

func (m *mockSink) getUpdates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func TestScheduler_JobExecution(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ticker.StatusLoop = config.Duration(10 * time.Millisecond) // Fast loop

	prov := &mockStatusProvider{}
	sink := &mockSink{}
	sched := NewScheduler(cfg, prov, sink)

	fired := make(chan uint64, 8)
	job := NewGenerationJob("TestGen", func(ctx context.Context, st model.FeedStatus) {
		fired <- st.Generation
	})
	sched.AddJob(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Start(ctx)

	// 1. Generation 0: nothing to process, no fire.
	time.Sleep(50 * time.Millisecond)
	select {
	case g := <-fired:
		t.Fatalf("Job fired at generation %d before any advance", g)
	default:
	}

	// 2. Advance to 1: fires once.
	prov.SetStatus(model.FeedStatus{Generation: 1})
	select {
	case g := <-fired:
		if g != 1 {
			t.Errorf("Job saw generation %d, want 1", g)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Job should have fired after the generation advanced")
	}

	// 3. Generation stays 1: no refire.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-fired:
		t.Error("Job refired without a generation advance")
	default:
	}

	// 4. Advance to 2: fires again.
	prov.SetStatus(model.FeedStatus{Generation: 2})
	select {
	case g := <-fired:
		if g != 2 {
			t.Errorf("Job saw generation %d, want 2", g)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Job should have fired after the second advance")
	}
}

func TestScheduler_PushesStatusToSink(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ticker.StatusLoop = config.Duration(10 * time.Millisecond)

	prov := &mockStatusProvider{}
	prov.SetStatus(model.FeedStatus{Generation: 3, HoursPresent: 24, Balloons: 1000})
	sink := &mockSink{}
	sched := NewScheduler(cfg, prov, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Start(ctx)

	// Wait for a few ticks
	time.Sleep(50 * time.Millisecond)

	if cnt := sink.getUpdates(); cnt == 0 {
		t.Fatal("Sink never received a status update")
	}

	sink.mu.Lock()
	last := sink.last
	sink.mu.Unlock()
	if last.Generation != 3 || last.Balloons != 1000 {
		t.Errorf("Sink saw %+v, want generation 3 with 1000 balloons", last)
	}
}

func TestJob_Concurrency(t *testing.T) {
	// Ensure job doesn't double fire if slow
	job := NewBaseJob("SlowJob")

	// Simulate "ShouldFire" check
	if !job.TryLock() {
		t.Fatal("Should lock when free")
	}

	// Simulate re-entry
	if job.TryLock() {
		t.Fatal("Should fail lock when busy")
	}

	job.Unlock()

	if !job.TryLock() {
		t.Fatal("Should lock again after unlock")
	}
}
