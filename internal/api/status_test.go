package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stratoscope/pkg/model"
)

type captureGauges struct {
	balloons int
	hours    int
}

func (g *captureGauges) SetFeedCounts(balloons, hoursPresent int) {
	g.balloons = balloons
	g.hours = hoursPresent
}

func TestStatusHandlerServesLatest(t *testing.T) {
	h := NewStatusHandler(nil, nil)
	h.UpdateStatus(&model.FeedStatus{
		Generation:   7,
		HoursPresent: 24,
		Balloons:     1042,
		LastRefresh:  time.Now().UTC(),
	})

	rec := httptest.NewRecorder()
	h.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Generation != 7 || resp.Balloons != 1042 {
		t.Errorf("Unexpected status: %+v", resp)
	}
	if !resp.Healthy {
		t.Errorf("Expected a full recent window to report healthy")
	}
}

func TestStatusHandlerEmptyFeedUnhealthy(t *testing.T) {
	h := NewStatusHandler(nil, nil)

	rec := httptest.NewRecorder()
	h.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Healthy {
		t.Errorf("Expected zero-value status to report unhealthy")
	}
}

func TestStatusHandlerDrivesGauges(t *testing.T) {
	g := &captureGauges{}
	h := NewStatusHandler(nil, g)

	h.UpdateStatus(&model.FeedStatus{Balloons: 12, HoursPresent: 3})

	if g.balloons != 12 || g.hours != 3 {
		t.Errorf("Expected gauges (12, 3), got (%d, %d)", g.balloons, g.hours)
	}
}
