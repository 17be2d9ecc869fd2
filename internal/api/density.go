package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/uber/h3-go/v4"

	"stratoscope/pkg/constellation"
)

// defaultDensityRes keeps cells continent-sized, which reads well for a
// thousand balloons spread over the whole globe.
const defaultDensityRes = 3

// DensityCell is one occupied H3 cell with its balloon count and center.
type DensityCell struct {
	Cell  string  `json:"cell"`
	Count int     `json:"count"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// DensityHandler aggregates the latest constellation into H3 cells for the
// dashboard heat layer.
type DensityHandler struct {
	feed *constellation.Service
}

// NewDensityHandler creates a new DensityHandler.
func NewDensityHandler(feed *constellation.Service) *DensityHandler {
	return &DensityHandler{feed: feed}
}

// HandleDensity returns the occupied cells at ?res=0..15 (default 3),
// densest first.
func (h *DensityHandler) HandleDensity(w http.ResponseWriter, r *http.Request) {
	res := defaultDensityRes
	if s := r.URL.Query().Get("res"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 || v > 15 {
			http.Error(w, "res must be in 0..15", http.StatusBadRequest)
			return
		}
		res = v
	}

	counts := make(map[h3.Cell]int)
	if snap := h.feed.Latest(); snap != nil {
		for _, s := range snap.Samples {
			cell, err := h3.LatLngToCell(h3.NewLatLng(s.Lat, s.Lon), res)
			if err != nil {
				slog.Debug("Skipping unindexable sample", "lat", s.Lat, "lon", s.Lon, "error", err)
				continue
			}
			counts[cell]++
		}
	}

	cells := make([]DensityCell, 0, len(counts))
	for cell, n := range counts {
		center, err := h3.CellToLatLng(cell)
		if err != nil {
			continue
		}
		cells = append(cells, DensityCell{
			Cell:  cell.String(),
			Count: n,
			Lat:   center.Lat,
			Lon:   center.Lng,
		})
	}

	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Count != cells[j].Count {
			return cells[i].Count > cells[j].Count
		}
		return cells[i].Cell < cells[j].Cell
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cells); err != nil {
		slog.Error("Failed to encode density response", "error", err)
	}
}
