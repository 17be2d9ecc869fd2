package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"stratoscope/pkg/wind"
)

// WindHandler answers point wind queries for the dashboard inspector.
type WindHandler struct {
	winds wind.Provider
}

// NewWindHandler creates a new WindHandler.
func NewWindHandler(winds wind.Provider) *WindHandler {
	return &WindHandler{winds: winds}
}

// HandleWind returns the current wind at ?lat=..&lon=... Upstream failures
// surface as 502 so the dashboard can tell them from bad input.
func (h *WindHandler) HandleWind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr == "" || lonStr == "" {
		http.Error(w, "lat and lon are required", http.StatusBadRequest)
		return
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		http.Error(w, "lat must be a number in -90..90", http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil || lon < -180 || lon > 180 {
		http.Error(w, "lon must be a number in -180..180", http.StatusBadRequest)
		return
	}

	reading, err := h.winds.CurrentWind(r.Context(), lat, lon)
	if err != nil {
		slog.Warn("Wind lookup failed", "lat", lat, "lon", lon, "error", err)
		http.Error(w, "wind lookup failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reading); err != nil {
		slog.Error("Failed to encode wind response", "error", err)
	}
}
