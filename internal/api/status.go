package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"stratoscope/pkg/model"
)

// StatusResponse is the API response structure.
type StatusResponse struct {
	model.FeedStatus
	Healthy bool `json:"healthy"`
}

// FeedGauges receives the per-tick window counts; the observability
// collector satisfies it.
type FeedGauges interface {
	SetFeedCounts(balloons, hoursPresent int)
}

// StatusHandler keeps the latest feed status published by the scheduler and
// serves it to dashboards. Every update also reaches the WebSocket hub and
// the window gauges.
type StatusHandler struct {
	mu     sync.RWMutex
	status model.FeedStatus
	hub    *Hub
	gauges FeedGauges
}

// NewStatusHandler creates a new StatusHandler. hub and gauges may be nil.
func NewStatusHandler(hub *Hub, gauges FeedGauges) *StatusHandler {
	return &StatusHandler{hub: hub, gauges: gauges}
}

// UpdateStatus implements core.StatusSink.
func (h *StatusHandler) UpdateStatus(st *model.FeedStatus) {
	h.mu.Lock()
	h.status = *st
	h.mu.Unlock()

	if h.gauges != nil {
		h.gauges.SetFeedCounts(st.Balloons, st.HoursPresent)
	}
	if h.hub != nil {
		h.hub.BroadcastStatus(st)
	}
}

func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	st := h.status
	h.mu.RUnlock()

	resp := StatusResponse{
		FeedStatus: st,
		Healthy:    st.Healthy(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode status response", "error", err)
	}
}
