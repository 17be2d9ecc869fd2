package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"stratoscope/pkg/constellation"
	"stratoscope/pkg/model"
	"stratoscope/pkg/predict"
	"stratoscope/pkg/store"
	"stratoscope/pkg/track"
)

// BalloonHandler serves per-balloon tracks, derived statistics and predicted
// next positions.
type BalloonHandler struct {
	feed  *constellation.Service
	preds store.PredictionStore
	mdl   *predict.Model
}

// NewBalloonHandler creates a new BalloonHandler. mdl may be nil when
// prediction is disabled.
func NewBalloonHandler(feed *constellation.Service, preds store.PredictionStore, mdl *predict.Model) *BalloonHandler {
	return &BalloonHandler{feed: feed, preds: preds, mdl: mdl}
}

// TrackResponse pairs the GeoJSON line with the raw per-hour points.
type TrackResponse struct {
	Index  int                `json:"index"`
	Line   *geojson.Feature   `json:"line"`
	Points []model.TrackPoint `json:"points"` // newest first
}

// HandleTrack returns the balloon's window track as a LineString plus the
// per-hour points behind it.
func (h *BalloonHandler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	idx, ok := balloonIndex(w, r)
	if !ok {
		return
	}

	b := h.feed.Track(idx)
	if len(b.Track) == 0 {
		http.Error(w, "no track for balloon", http.StatusNotFound)
		return
	}

	// Track arrives newest first; the line wants chronological order.
	line := make(orb.LineString, 0, len(b.Track))
	for i := len(b.Track) - 1; i >= 0; i-- {
		p := b.Track[i]
		line = append(line, orb.Point{p.Lon, p.Lat})
	}

	f := geojson.NewFeature(line)
	f.Properties["index"] = idx

	resp := TrackResponse{
		Index:  idx,
		Line:   f,
		Points: b.Track,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode track response", "error", err)
	}
}

// HandleStats returns the derived chart series for one balloon.
func (h *BalloonHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	idx, ok := balloonIndex(w, r)
	if !ok {
		return
	}

	b := h.feed.Track(idx)
	if len(b.Track) == 0 {
		http.Error(w, "no track for balloon", http.StatusNotFound)
		return
	}

	stats := track.BuildStats(b, time.Hour)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		slog.Error("Failed to encode stats response", "error", err)
	}
}

// HandlePrediction returns the predicted next position for one balloon. The
// stored sweep result for the current generation wins; otherwise the model
// runs on the spot. 204 when the balloon has too little history, 422 when
// the model does not fit the feature window.
func (h *BalloonHandler) HandlePrediction(w http.ResponseWriter, r *http.Request) {
	idx, ok := balloonIndex(w, r)
	if !ok {
		return
	}
	st := h.feed.Status()

	if h.preds != nil {
		p, err := h.preds.GetPrediction(r.Context(), idx, st.Generation)
		if err != nil {
			slog.Warn("Stored prediction lookup failed", "index", idx, "error", err)
		} else if p != nil {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(p); err != nil {
				slog.Error("Failed to encode prediction response", "error", err)
			}
			return
		}
	}

	next, err := predict.Next(h.feed.History(idx), h.mdl)
	if err != nil {
		if errors.Is(err, predict.ErrShapeMismatch) {
			http.Error(w, "prediction model does not fit the feature window", http.StatusUnprocessableEntity)
			return
		}
		slog.Error("Prediction failed", "index", idx, "error", err)
		http.Error(w, "prediction failed", http.StatusInternalServerError)
		return
	}
	if next == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	p := model.Prediction{
		Index:      idx,
		Generation: st.Generation,
		Next:       *next,
		CreatedAt:  time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&p); err != nil {
		slog.Error("Failed to encode prediction response", "error", err)
	}
}

// balloonIndex parses the {index} path segment. On failure it writes the 400
// and reports false.
func balloonIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 {
		http.Error(w, "invalid balloon index", http.StatusBadRequest)
		return 0, false
	}
	return idx, true
}
