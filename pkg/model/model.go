package model

import (
	"time"
)

// Sample is one observation of a tracked balloon at a point in time.
// Latitude and longitude are degrees, altitude is kilometers. The motion and
// wind fields are optional on the wire and default to zero when absent;
// predictions never carry them.
type Sample struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`

	Speed     float64 `json:"balloon_speed,omitempty"` // ground speed, km/h
	Heading   float64 `json:"balloon_dir,omitempty"`   // degrees [0, 360)
	WindSpeed float64 `json:"windspeed,omitempty"`     // km/h
	WindDir   float64 `json:"winddir,omitempty"`       // degrees [0, 360)
}

// History is an ordered sequence of samples for one balloon, most recent
// first (index 0 = latest hour).
type History []Sample

// TrackPoint pairs a sample with the window hour it was observed in
// (0 = most recent hour, 23 = oldest).
type TrackPoint struct {
	Hour int `json:"hour"`
	Sample
}

// Balloon is one index-identified track across the 24-hour window. Hours
// where the balloon was absent or its entry was rejected leave gaps in the
// track rather than zero-valued points.
type Balloon struct {
	Index int          `json:"index"`
	Track []TrackPoint `json:"track"` // newest first
}

// TrackLeg is one derived hour-to-hour transition of a balloon track.
// ElapsedHours is usually 1 but grows across window gaps.
type TrackLeg struct {
	FromHour     int     `json:"from_hour"`
	ToHour       int     `json:"to_hour"`
	ElapsedHours float64 `json:"elapsed_hours"`
	DistanceKm   float64 `json:"distance_km"`
	SpeedKmh     float64 `json:"speed_kmh"`
	Heading      float64 `json:"heading"`
	ClimbKmh     float64 `json:"climb_kmh"`
	CumulativeKm float64 `json:"cumulative_km"`
}

// TrackStats bundles the derived chart series for one balloon.
// SmoothedHeading averages the last few legs so the dashboard arrow does not
// jitter with single-hour noise.
type TrackStats struct {
	Index           int        `json:"index"`
	Legs            []TrackLeg `json:"legs"` // chronological
	TotalKm         float64    `json:"total_km"`
	MinAltKm        float64    `json:"min_alt_km"`
	MaxAltKm        float64    `json:"max_alt_km"`
	SmoothedHeading float64    `json:"smoothed_heading"`
}

// Snapshot is one decoded feed hour. Samples are keyed by balloon index;
// entries rejected during parsing are simply absent.
type Snapshot struct {
	HourUTC    time.Time      `json:"hour_utc"`
	SourceHour int            `json:"source_hour"` // feed offset at fetch time (0 = newest)
	Samples    map[int]Sample `json:"samples"`
	Rejected   int            `json:"rejected"`
	Hash       string         `json:"hash,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

// WindReading is one current-wind observation for a quantized cell.
type WindReading struct {
	Speed     float64   `json:"windspeed"` // km/h
	Direction float64   `json:"winddir"`   // degrees, meteorological (from)
	CellLat   float64   `json:"cell_lat"`
	CellLon   float64   `json:"cell_lon"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Prediction is a predicted next position for one balloon, tagged with the
// feed generation it was computed against.
type Prediction struct {
	Index      int       `json:"index"`
	Generation uint64    `json:"generation"`
	Next       Sample    `json:"next"`
	CreatedAt  time.Time `json:"created_at"`
}

// FeedStatus is the scheduler-visible state of the constellation feed.
type FeedStatus struct {
	Generation   uint64    `json:"generation"`
	HoursPresent int       `json:"hours_present"`
	Balloons     int       `json:"balloons"`
	LastRefresh  time.Time `json:"last_refresh"`
	LastError    string    `json:"last_error,omitempty"`
	UpstreamMs   int64     `json:"upstream_ms"`
}

// Healthy reports whether the feed has a full enough window to serve
// dashboards: at least the latest hour present and a refresh on record.
func (s *FeedStatus) Healthy() bool {
	return s.HoursPresent > 0 && !s.LastRefresh.IsZero()
}

// FeedEvent is a notable occurrence worth keeping in the event log:
// a window advance, a recovered hour, an upstream failure.
type FeedEvent struct {
	Type      string    `json:"type"` // refresh, backfill, error, prune
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
