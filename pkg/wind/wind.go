// Package wind resolves current wind conditions at balloon positions through
// the Open-Meteo forecast API. Positions are quantized to cells so nearby
// balloons share one reading, with an in-memory LRU in front of the store.
package wind

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"stratoscope/pkg/config"
	"stratoscope/pkg/geo"
	"stratoscope/pkg/logging"
	"stratoscope/pkg/model"
	"stratoscope/pkg/store"
)

// Provider resolves the current wind at a position. A nil reading always
// travels with a non-nil error; callers degrade to zero-wind features.
type Provider interface {
	CurrentWind(ctx context.Context, lat, lon float64) (*model.WindReading, error)
}

// Fetcher is the slice of the retrieval client the provider needs.
type Fetcher interface {
	Get(ctx context.Context, url, cacheKey string) ([]byte, error)
}

// LookupMetrics receives lookup outcomes; the observability collector
// satisfies it. A nil recorder disables instrumentation.
type LookupMetrics interface {
	RecordWindLookup(outcome string)
}

// OpenMeteo implements Provider against the Open-Meteo forecast endpoint.
type OpenMeteo struct {
	client  Fetcher
	store   store.WindStore
	cfg     config.WindConfig
	logger  *slog.Logger
	cache   *expirable.LRU[string, *model.WindReading]
	metrics LookupMetrics
}

// NewOpenMeteo creates the provider. Readings live in the LRU for the
// configured TTL and persist to the store so restarts keep warm cells.
func NewOpenMeteo(rc Fetcher, st store.WindStore, cfg config.WindConfig) *OpenMeteo {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := time.Duration(cfg.TTL)
	if ttl <= 0 {
		ttl = 45 * time.Minute
	}
	return &OpenMeteo{
		client: rc,
		store:  st,
		cfg:    cfg,
		logger: slog.With("component", "wind"),
		cache:  expirable.NewLRU[string, *model.WindReading](size, nil, ttl),
	}
}

// SetMetrics installs the lookup instrumentation sink. Call before the
// scheduler starts; the field is not guarded.
func (p *OpenMeteo) SetMetrics(m LookupMetrics) {
	p.metrics = m
}

func (p *OpenMeteo) recordLookup(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordWindLookup(outcome)
	}
}

// cell quantizes a position to its lookup cell. Longitude is normalized
// first so both sides of the antimeridian land in the same grid.
func (p *OpenMeteo) cell(lat, lon float64) (cellLat, cellLon float64) {
	size := p.cfg.CellSizeDeg
	if size <= 0 {
		size = 0.1
	}
	cellLat = math.Round(lat/size) * size
	// Normalize again after rounding: values near +180 quantize onto the
	// +180 edge, which is the same meridian as -180.
	cellLon = geo.NormalizeLon(math.Round(geo.NormalizeLon(lon)/size) * size)
	return cellLat, cellLon
}

func cellKey(cellLat, cellLon float64) string {
	return fmt.Sprintf("wind_%.2f_%.2f", cellLat, cellLon)
}

// CurrentWind returns the wind at the cell containing (lat, lon). Readings
// are returned shared; callers must not mutate them.
func (p *OpenMeteo) CurrentWind(ctx context.Context, lat, lon float64) (*model.WindReading, error) {
	cellLat, cellLon := p.cell(lat, lon)
	key := cellKey(cellLat, cellLon)

	if reading, ok := p.cache.Get(key); ok {
		logging.Trace(p.logger, "Cell cache hit", "cell", key)
		p.recordLookup("memory")
		return reading, nil
	}

	ttl := time.Duration(p.cfg.TTL)

	// A reading persisted by a previous run still counts while fresh.
	if reading, err := p.store.GetWindReading(ctx, key); err != nil {
		p.logger.Warn("Wind store lookup failed", "cell", key, "error", err)
	} else if reading != nil && time.Since(reading.FetchedAt) < ttl {
		p.cache.Add(key, reading)
		p.recordLookup("store")
		return reading, nil
	}

	reading, err := p.fetch(ctx, cellLat, cellLon)
	if err != nil {
		p.recordLookup("error")
		return nil, err
	}

	p.cache.Add(key, reading)
	p.recordLookup("fetched")
	if err := p.store.SaveWindReading(ctx, key, reading); err != nil {
		p.logger.Warn("Failed to persist wind reading", "cell", key, "error", err)
	}
	return reading, nil
}

// Preload seeds the LRU from persisted readings so a restart does not
// refetch every warm cell at once.
func (p *OpenMeteo) Preload(ctx context.Context) error {
	readings, err := p.store.ListWindReadings(ctx)
	if err != nil {
		return fmt.Errorf("failed to list wind readings: %w", err)
	}

	ttl := time.Duration(p.cfg.TTL)
	loaded := 0
	for _, reading := range readings {
		if time.Since(reading.FetchedAt) >= ttl {
			continue
		}
		p.cache.Add(cellKey(reading.CellLat, reading.CellLon), reading)
		loaded++
	}
	if loaded > 0 {
		p.logger.Info("Wind cache preloaded", "cells", loaded)
	}
	return nil
}

func (p *OpenMeteo) fetch(ctx context.Context, cellLat, cellLon float64) (*model.WindReading, error) {
	u, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid wind base URL: %w", err)
	}
	u.Path = "/v1/forecast"

	q := u.Query()
	q.Set("latitude", fmt.Sprintf("%.2f", cellLat))
	q.Set("longitude", fmt.Sprintf("%.2f", cellLon))
	q.Set("current", "wind_speed_10m,wind_direction_10m")
	u.RawQuery = q.Encode()

	body, err := p.client.Get(ctx, u.String(), "")
	if err != nil {
		return nil, fmt.Errorf("wind lookup failed: %w", err)
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode wind response: %w", err)
	}

	return &model.WindReading{
		Speed:     resp.Current.WindSpeed,
		Direction: resp.Current.WindDirection,
		CellLat:   cellLat,
		CellLon:   cellLon,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// forecastResponse is the slice of the Open-Meteo payload we consume.
// Speeds arrive in km/h, directions in meteorological degrees.
type forecastResponse struct {
	Current struct {
		WindSpeed     float64 `json:"wind_speed_10m"`
		WindDirection float64 `json:"wind_direction_10m"`
	} `json:"current"`
}
