package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"stratoscope/pkg/constellation"
)

// ConstellationHandler serves the feed window: the latest constellation as
// GeoJSON and individual hours for the dashboard scrubber.
type ConstellationHandler struct {
	feed *constellation.Service
}

// NewConstellationHandler creates a new ConstellationHandler.
func NewConstellationHandler(feed *constellation.Service) *ConstellationHandler {
	return &ConstellationHandler{feed: feed}
}

// HandleConstellation returns the newest snapshot as a FeatureCollection of
// point features, one per balloon, sorted by index.
func (h *ConstellationHandler) HandleConstellation(w http.ResponseWriter, r *http.Request) {
	fc := geojson.NewFeatureCollection()

	if snap := h.feed.Latest(); snap != nil {
		indices := make([]int, 0, len(snap.Samples))
		for idx := range snap.Samples {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		for _, idx := range indices {
			s := snap.Samples[idx]
			f := geojson.NewFeature(orb.Point{s.Lon, s.Lat})
			f.Properties["index"] = idx
			f.Properties["alt"] = s.Alt
			f.Properties["speed"] = s.Speed
			f.Properties["heading"] = s.Heading
			f.Properties["windspeed"] = s.WindSpeed
			f.Properties["winddir"] = s.WindDir
			fc.Append(f)
		}
	}

	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		slog.Error("Failed to encode constellation response", "error", err)
	}
}

// HandleSnapshot returns one hour of the window as raw samples. The hour is
// an offset back from the newest snapshot, 0..23.
func (h *ConstellationHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	hour, err := strconv.Atoi(r.PathValue("hour"))
	if err != nil || hour < 0 || hour >= constellation.WindowHours {
		http.Error(w, "hour must be in 0..23", http.StatusBadRequest)
		return
	}

	snap := h.feed.Snapshot(hour)
	if snap == nil {
		http.Error(w, "hour not in window", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		slog.Error("Failed to encode snapshot response", "error", err)
	}
}
