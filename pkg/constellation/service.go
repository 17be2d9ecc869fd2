// Package constellation maintains the rolling 24-hour window of balloon
// snapshots fetched from the upstream feed, and assembles the per-balloon
// histories everything downstream consumes.
package constellation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stratoscope/pkg/config"
	"stratoscope/pkg/db"
	"stratoscope/pkg/geo"
	"stratoscope/pkg/logging"
	"stratoscope/pkg/model"
	"stratoscope/pkg/store"
)

// WindowHours is the depth of the upstream feed: hour offsets 00..23.
const WindowHours = 24

// backHourCacheTTL covers documents for hours that have already closed.
// Their content is terminal, so restarts within the horizon replay from the
// response cache instead of refetching.
const backHourCacheTTL = 24 * time.Hour

// Fetcher is the slice of the retrieval client the feed needs.
type Fetcher interface {
	Get(ctx context.Context, url, cacheKey string) ([]byte, error)
	GetWithTTL(ctx context.Context, url, cacheKey string, ttl time.Duration) ([]byte, error)
}

// FeedMetrics receives fetch outcomes; the observability collector
// satisfies it. A nil recorder disables instrumentation.
type FeedMetrics interface {
	RecordFetch(outcome string)
	RecordRejected(n int)
}

// Service owns the snapshot window. All accessors are safe for concurrent
// use; sample maps are never mutated once a snapshot is visible, so callers
// may hold returned snapshots without copying.
type Service struct {
	store   store.SnapshotStore
	client  Fetcher
	cfg     config.FeedConfig
	logger  *slog.Logger
	metrics FeedMetrics

	mu          sync.RWMutex
	window      [WindowHours]*model.Snapshot // index = hour offset, nil = gap
	generation  uint64
	lastRefresh time.Time
	lastError   string
	upstreamMs  int64
}

// NewService creates the constellation feed service.
func NewService(st store.SnapshotStore, rc Fetcher, cfg config.FeedConfig) *Service {
	return &Service{
		store:  st,
		client: rc,
		cfg:    cfg,
		logger: slog.With("component", "constellation"),
	}
}

// SetMetrics installs the fetch instrumentation sink. Call before the
// scheduler starts; the field is not guarded.
func (s *Service) SetMetrics(m FeedMetrics) {
	s.metrics = m
}

func (s *Service) recordFetch(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordFetch(outcome)
	}
}

// WarmStart restores the window from persisted snapshots so a restart serves
// data before the first backfill completes. Restoring anything advances the
// generation once to wake the downstream jobs.
func (s *Service) WarmStart(ctx context.Context) error {
	snaps, err := s.store.GetWindow(ctx, WindowHours)
	if err != nil {
		return fmt.Errorf("failed to load stored window: %w", err)
	}
	if len(snaps) == 0 {
		return nil
	}

	base := time.Now().UTC().Truncate(time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for _, snap := range snaps {
		offset := int(base.Sub(snap.HourUTC).Hours())
		if offset < 0 || offset >= WindowHours {
			continue
		}
		if s.window[offset] != nil {
			continue
		}
		s.window[offset] = snap
		restored++
	}
	if restored > 0 {
		s.generation++
		s.logger.Info("Window restored from store", "hours", restored)
	}
	return nil
}

// FetchHour retrieves one hour document through the retrieval layer and
// parses it tolerantly. hour is the upstream offset: 0 the newest completed
// hour, 23 the oldest. An unparseable document still yields the (empty)
// snapshot alongside the error so callers can keep the window slot and
// record the failure.
func (s *Service) FetchHour(ctx context.Context, hour int) (*model.Snapshot, error) {
	return s.fetch(ctx, time.Now().UTC().Truncate(time.Hour), hour, true)
}

func (s *Service) fetch(ctx context.Context, base time.Time, hour int, useCache bool) (*model.Snapshot, error) {
	if hour < 0 || hour >= WindowHours {
		return nil, fmt.Errorf("hour %d outside the 24-hour window", hour)
	}

	hourUTC := base.Add(-time.Duration(hour) * time.Hour)
	u := fmt.Sprintf("%s/treasure/%02d.json", strings.TrimSuffix(s.cfg.BaseURL, "/"), hour)

	var (
		body []byte
		err  error
	)
	if useCache {
		key := "wb_" + hourUTC.Format(db.HourKeyFormat)
		if hour > 0 {
			body, err = s.client.GetWithTTL(ctx, u, key, backHourCacheTTL)
		} else {
			body, err = s.client.Get(ctx, u, key)
		}
	} else {
		body, err = s.client.Get(ctx, u, "")
	}
	if err != nil {
		s.recordFetch("network_error")
		return nil, fmt.Errorf("hour %02d fetch failed: %w", hour, err)
	}

	snap := &model.Snapshot{
		HourUTC:    hourUTC,
		SourceHour: hour,
		Hash:       contentHash(body),
		FetchedAt:  time.Now().UTC(),
	}
	samples, rejected, err := parseFeed(body)
	if err != nil {
		snap.Samples = map[int]model.Sample{}
		s.recordFetch("parse_error")
		return snap, fmt.Errorf("hour %02d unparseable: %w", hour, err)
	}
	snap.Samples = samples
	snap.Rejected = rejected
	s.recordFetch("ok")
	if rejected > 0 {
		s.logger.Debug("Dropped corrupt feed entries", "hour", hour, "rejected", rejected)
		if s.metrics != nil {
			s.metrics.RecordRejected(rejected)
		}
	}
	return snap, nil
}

// Backfill fills the window, fetching only hours that are missing or stale.
// Individual hour failures leave gaps; they never fail the backfill itself.
func (s *Service) Backfill(ctx context.Context) error {
	base := time.Now().UTC().Truncate(time.Hour)

	workers := s.cfg.BackfillWorkers
	if workers <= 0 {
		workers = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	fetched := make([]*model.Snapshot, WindowHours)
	for hour := 0; hour < WindowHours; hour++ {
		if s.slotCurrent(base, hour) {
			continue
		}
		g.Go(func() error {
			snap, err := s.fetch(gctx, base, hour, true)
			if err != nil {
				s.logger.Warn("Backfill hour failed", "hour", hour, "error", err)
			}
			fetched[hour] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	loaded := 0
	for hour := WindowHours - 1; hour >= 0; hour-- {
		if fetched[hour] == nil {
			continue
		}
		annotateMotion(fetched[hour], s.olderNeighborLocked(hour))
		s.window[hour] = fetched[hour]
		loaded++
	}
	if loaded > 0 {
		s.generation++
	}
	hoursPresent := 0
	for _, snap := range s.window {
		if snap != nil {
			hoursPresent++
		}
	}
	s.mu.Unlock()

	for hour := 0; hour < WindowHours; hour++ {
		if fetched[hour] == nil {
			continue
		}
		// A stored copy with the same content hash may carry annotations a
		// plain refetch lacks; keep it.
		if h, found, err := s.store.GetSnapshotHash(ctx, fetched[hour].HourUTC); err == nil && found && h == fetched[hour].Hash {
			continue
		}
		if err := s.store.SaveSnapshot(ctx, fetched[hour]); err != nil {
			s.logger.Warn("Failed to persist snapshot", "hour", hour, "error", err)
		}
	}

	if loaded > 0 {
		logging.LogEvent(&model.FeedEvent{
			Type:    "backfill",
			Title:   "Window backfilled",
			Summary: fmt.Sprintf("%d hours fetched, %d of %d present", loaded, hoursPresent, WindowHours),
		})
		s.logger.Info("Backfill complete", "fetched", loaded, "present", hoursPresent)
	}
	return nil
}

// slotCurrent reports whether the window slot already holds the absolute
// hour expected at this offset.
func (s *Service) slotCurrent(base time.Time, hour int) bool {
	expected := base.Add(-time.Duration(hour) * time.Hour)
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.window[hour]
	return snap != nil && snap.HourUTC.Equal(expected)
}

// olderNeighborLocked returns the nearest present snapshot older than the
// given offset. Caller holds s.mu.
func (s *Service) olderNeighborLocked(hour int) *model.Snapshot {
	for i := hour + 1; i < WindowHours; i++ {
		if s.window[i] != nil {
			return s.window[i]
		}
	}
	return nil
}

// RefreshLatest re-fetches hour 00 and advances the feed generation when its
// content changed. Unchanged content updates refresh bookkeeping only.
func (s *Service) RefreshLatest(ctx context.Context) error {
	base := time.Now().UTC().Truncate(time.Hour)

	start := time.Now()
	snap, err := s.fetch(ctx, base, 0, false)
	elapsed := time.Since(start)

	if err != nil {
		// Covers unreachable upstream and unparseable documents alike: the
		// window keeps its last good hour, only the status records the miss.
		s.mu.Lock()
		s.lastError = err.Error()
		s.upstreamMs = elapsed.Milliseconds()
		s.mu.Unlock()
		logging.LogEvent(&model.FeedEvent{Type: "error", Title: "Refresh failed", Summary: err.Error()})
		s.logger.Warn("Refresh failed", "error", err)
		return err
	}

	s.mu.Lock()
	s.lastRefresh = time.Now().UTC()
	s.upstreamMs = elapsed.Milliseconds()
	s.lastError = ""

	cur := s.window[0]
	if cur != nil && cur.Hash == snap.Hash {
		s.mu.Unlock()
		return nil
	}

	var prev *model.Snapshot
	if cur != nil && cur.HourUTC.Before(snap.HourUTC) {
		prev = cur
	} else {
		prev = s.olderNeighborLocked(0)
	}
	annotateMotion(snap, prev)

	switch {
	case cur == nil || cur.HourUTC.Equal(snap.HourUTC):
		// First fill, or upstream revised the current hour in place.
		s.window[0] = snap
	default:
		shift := int(snap.HourUTC.Sub(cur.HourUTC).Hours())
		if shift >= WindowHours {
			s.window = [WindowHours]*model.Snapshot{}
		} else {
			for i := WindowHours - 1; i >= shift; i-- {
				s.window[i] = s.window[i-shift]
			}
			for i := 1; i < shift; i++ {
				s.window[i] = nil
			}
		}
		s.window[0] = snap
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn("Failed to persist snapshot", "hour", 0, "error", err)
	}

	logging.LogEvent(&model.FeedEvent{
		Type:    "refresh",
		Title:   "Window advanced",
		Summary: fmt.Sprintf("generation %d, %d balloons, %d rejected", gen, len(snap.Samples), snap.Rejected),
	})
	s.logger.Info("Feed refreshed", "generation", gen, "balloons", len(snap.Samples), "rejected", snap.Rejected)
	return nil
}

// Window returns the snapshot ring, newest first. Gap hours are nil.
func (s *Service) Window() []*model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Snapshot, WindowHours)
	copy(out, s.window[:])
	return out
}

// Snapshot returns the window entry at the given hour offset, or nil when
// the offset is out of range or a gap.
func (s *Service) Snapshot(hour int) *model.Snapshot {
	if hour < 0 || hour >= WindowHours {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window[hour]
}

// Latest returns the newest snapshot, or nil before the first fill.
func (s *Service) Latest() *model.Snapshot {
	return s.Snapshot(0)
}

// History assembles the most-recent-first sample sequence for one balloon,
// skipping hours where it is absent and positions that jump implausibly far
// between hours. The result feeds the predictor unchanged.
func (s *Service) History(index int) model.History {
	pts := s.trackPoints(index)
	hist := make(model.History, 0, len(pts))
	for _, p := range pts {
		hist = append(hist, p.Sample)
	}
	return hist
}

// Track returns the per-hour points for one balloon, newest first, with
// their window hour offsets preserved.
func (s *Service) Track(index int) model.Balloon {
	return model.Balloon{Index: index, Track: s.trackPoints(index)}
}

func (s *Service) trackPoints(index int) []model.TrackPoint {
	maxJumpKm := s.cfg.MaxJump.Km()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var pts []model.TrackPoint
	var prevSample *model.Sample // newest accepted so far
	var prevHour time.Time
	for hour := 0; hour < WindowHours; hour++ {
		snap := s.window[hour]
		if snap == nil {
			continue
		}
		sample, ok := snap.Samples[index]
		if !ok {
			continue
		}
		if prevSample != nil && maxJumpKm > 0 {
			elapsed := prevHour.Sub(snap.HourUTC).Hours()
			if elapsed < 1 {
				elapsed = 1
			}
			distKm := geo.Distance(
				geo.Point{Lat: prevSample.Lat, Lon: prevSample.Lon},
				geo.Point{Lat: sample.Lat, Lon: sample.Lon},
			) / 1000.0
			if distKm > maxJumpKm*elapsed {
				// Positional glitch; leave a gap rather than feed it onward.
				continue
			}
		}
		pts = append(pts, model.TrackPoint{Hour: hour, Sample: sample})
		kept := sample
		prevSample = &kept
		prevHour = snap.HourUTC
	}
	return pts
}

// Status reports the scheduler-visible feed state.
func (s *Service) Status() *model.FeedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &model.FeedStatus{
		Generation:  s.generation,
		LastRefresh: s.lastRefresh,
		LastError:   s.lastError,
		UpstreamMs:  s.upstreamMs,
	}
	for _, snap := range s.window {
		if snap != nil {
			st.HoursPresent++
		}
	}
	if s.window[0] != nil {
		st.Balloons = len(s.window[0].Samples)
	}
	return st
}

// UpdateSamples swaps the sample set of the snapshot at the given absolute
// hour and persists the result. The swap keeps copy-on-write semantics:
// readers holding the previous snapshot are unaffected. hash is the content
// hash the caller read the samples from; updates for hours that have left
// the window, or that were revised since the caller read them, are dropped.
func (s *Service) UpdateSamples(ctx context.Context, hourUTC time.Time, hash string, samples map[int]model.Sample) error {
	var updated *model.Snapshot

	s.mu.Lock()
	for i, snap := range s.window {
		if snap == nil || !snap.HourUTC.Equal(hourUTC) {
			continue
		}
		if snap.Hash != hash {
			break
		}
		clone := *snap
		clone.Samples = samples
		s.window[i] = &clone
		updated = &clone
		break
	}
	s.mu.Unlock()

	if updated == nil {
		return nil
	}
	if err := s.store.SaveSnapshot(ctx, updated); err != nil {
		return fmt.Errorf("failed to persist annotated snapshot: %w", err)
	}
	return nil
}

// annotateMotion derives per-sample speed and heading from the transition
// out of prev. Balloons absent from prev keep zero motion fields. Must run
// before snap becomes visible to readers.
func annotateMotion(snap, prev *model.Snapshot) {
	if prev == nil {
		return
	}
	elapsed := snap.HourUTC.Sub(prev.HourUTC).Hours()
	if elapsed <= 0 {
		return
	}
	for idx, cur := range snap.Samples {
		p, ok := prev.Samples[idx]
		if !ok {
			continue
		}
		from := geo.Point{Lat: p.Lat, Lon: p.Lon}
		to := geo.Point{Lat: cur.Lat, Lon: cur.Lon}
		cur.Speed = geo.Distance(from, to) / 1000.0 / elapsed
		cur.Heading = geo.Bearing(from, to)
		snap.Samples[idx] = cur
	}
}
