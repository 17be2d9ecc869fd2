// Package track derives chart-ready statistics from balloon tracks.
package track

import (
	"math"
	"time"

	"stratoscope/pkg/geo"
	"stratoscope/pkg/model"
)

// smoothingWindow is the number of recent points feeding the smoothed
// heading.
const smoothingWindow = 4

// BuildStats derives the per-leg speed, heading, climb and distance series
// for one balloon. interval is the nominal spacing between window hours;
// legs spanning gaps use their real elapsed time, so speeds stay honest
// across missing hours. Legs come out in chronological order.
func BuildStats(b model.Balloon, interval time.Duration) *model.TrackStats {
	stats := &model.TrackStats{Index: b.Index}
	track := b.Track
	if len(track) == 0 {
		return stats
	}

	hourScale := interval.Hours()
	if hourScale <= 0 {
		hourScale = 1
	}

	minAlt, maxAlt := track[0].Alt, track[0].Alt
	for _, p := range track {
		minAlt = math.Min(minAlt, p.Alt)
		maxAlt = math.Max(maxAlt, p.Alt)
	}
	stats.MinAltKm = minAlt
	stats.MaxAltKm = maxAlt

	buf := geo.NewTrackBuffer(smoothingWindow)
	cumulative := 0.0

	// The track arrives newest first; walk from the oldest end to build
	// chronological legs.
	for i := len(track) - 1; i >= 0; i-- {
		p := track[i]
		stats.SmoothedHeading = buf.Push(geo.Point{Lat: p.Lat, Lon: p.Lon}, stats.SmoothedHeading)

		if i == len(track)-1 {
			continue
		}
		older, newer := track[i+1], p
		elapsed := float64(older.Hour-newer.Hour) * hourScale
		if elapsed <= 0 {
			continue
		}

		from := geo.Point{Lat: older.Lat, Lon: older.Lon}
		to := geo.Point{Lat: newer.Lat, Lon: newer.Lon}
		distKm := geo.Distance(from, to) / 1000.0
		cumulative += distKm

		stats.Legs = append(stats.Legs, model.TrackLeg{
			FromHour:     older.Hour,
			ToHour:       newer.Hour,
			ElapsedHours: elapsed,
			DistanceKm:   distKm,
			SpeedKmh:     distKm / elapsed,
			Heading:      geo.Bearing(from, to),
			ClimbKmh:     (newer.Alt - older.Alt) / elapsed,
			CumulativeKm: cumulative,
		})
	}
	stats.TotalKm = cumulative
	return stats
}
