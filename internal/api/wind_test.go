package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stratoscope/pkg/model"
)

type fakeWindProvider struct {
	reading *model.WindReading
	err     error
}

func (f *fakeWindProvider) CurrentWind(_ context.Context, lat, lon float64) (*model.WindReading, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.reading, nil
}

func TestWindLookup(t *testing.T) {
	h := NewWindHandler(&fakeWindProvider{reading: &model.WindReading{
		Speed:     15.5,
		Direction: 270,
		CellLat:   40.0,
		CellLon:   10.0,
		FetchedAt: time.Now().UTC(),
	}})

	rec := httptest.NewRecorder()
	h.HandleWind(rec, httptest.NewRequest(http.MethodGet, "/api/wind?lat=40.02&lon=10.04", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var reading model.WindReading
	if err := json.Unmarshal(rec.Body.Bytes(), &reading); err != nil {
		t.Fatalf("Failed to decode reading: %v", err)
	}
	if reading.Speed != 15.5 || reading.Direction != 270 {
		t.Errorf("Unexpected reading: %+v", reading)
	}
}

func TestWindParamValidation(t *testing.T) {
	h := NewWindHandler(&fakeWindProvider{reading: &model.WindReading{}})

	cases := []string{
		"/api/wind",
		"/api/wind?lat=40",
		"/api/wind?lon=10",
		"/api/wind?lat=abc&lon=10",
		"/api/wind?lat=40&lon=xyz",
		"/api/wind?lat=95&lon=10",
		"/api/wind?lat=40&lon=190",
	}
	for _, url := range cases {
		rec := httptest.NewRecorder()
		h.HandleWind(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rec.Code)
		}
	}
}

func TestWindUpstreamFailure(t *testing.T) {
	h := NewWindHandler(&fakeWindProvider{err: fmt.Errorf("open-meteo unreachable")})

	rec := httptest.NewRecorder()
	h.HandleWind(rec, httptest.NewRequest(http.MethodGet, "/api/wind?lat=40&lon=10", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 on upstream failure, got %d", rec.Code)
	}
}
