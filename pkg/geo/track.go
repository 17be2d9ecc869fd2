package geo

// TrackBuffer keeps a rolling window of position fixes and derives a
// smoothed ground track from them. Hourly balloon fixes wobble around the
// true drift direction; the bearing from the oldest to the newest fix in
// the window absorbs most of that jitter.
type TrackBuffer struct {
	fixes []Point
	size  int
}

// NewTrackBuffer creates a buffer smoothing over the given number of fixes.
func NewTrackBuffer(size int) *TrackBuffer {
	if size < 2 {
		size = 2
	}
	return &TrackBuffer{size: size}
}

// Push adds a fix and returns the smoothed track. With fewer than two fixes
// there is no direction yet and the fallback heading is returned.
func (b *TrackBuffer) Push(p Point, fallback float64) float64 {
	b.fixes = append(b.fixes, p)
	if len(b.fixes) > b.size {
		b.fixes = b.fixes[1:]
	}

	if len(b.fixes) < 2 {
		return fallback
	}
	return Bearing(b.fixes[0], b.fixes[len(b.fixes)-1])
}
