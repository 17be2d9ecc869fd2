package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"stratoscope/internal/observability"
	"stratoscope/pkg/config"
	"stratoscope/pkg/version"
)

// NewServer creates and configures the HTTP server.
// It accepts handlers for all API endpoints and a shutdownFunc for graceful shutdown.
func NewServer(cfg config.ServerConfig, status *StatusHandler, feed *ConstellationHandler, balloons *BalloonHandler, windH *WindHandler, density *DensityHandler, stats *StatsHandler, cfgH *ConfigHandler, hub *Hub, collector *observability.Collector, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	mux.HandleFunc("GET /health", handleHealth)

	// 2. Status Endpoint
	mux.HandleFunc("GET /api/status", status.handleStatus)

	// 2b. Version Endpoint
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2c. Config Endpoints
	mux.HandleFunc("GET /api/config", cfgH.HandleGetConfig)
	mux.HandleFunc("PATCH /api/config", cfgH.HandleSetConfig)

	// 2d. Stats Endpoint
	mux.Handle("GET /api/stats", stats)

	// 2e. Logs Endpoint
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 2f. Constellation Endpoints
	mux.HandleFunc("GET /api/constellation", feed.HandleConstellation)
	mux.HandleFunc("GET /api/snapshots/{hour}", feed.HandleSnapshot)

	// 2g. Balloon Endpoints
	mux.HandleFunc("GET /api/balloons/{index}/track", balloons.HandleTrack)
	mux.HandleFunc("GET /api/balloons/{index}/stats", balloons.HandleStats)
	mux.HandleFunc("GET /api/balloons/{index}/prediction", balloons.HandlePrediction)

	// 2h. Density Endpoint
	mux.HandleFunc("GET /api/density", density.HandleDensity)

	// 2i. Wind Endpoint
	if windH != nil {
		mux.HandleFunc("GET /api/wind", windH.HandleWind)
	}

	// 2j. Push Channel
	mux.HandleFunc("GET /ws", hub.HandleWS)

	// 2k. Metrics Endpoint
	if collector != nil {
		mux.Handle("GET /metrics", collector.Handler())
	}

	// 3. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Call shutdown in a goroutine to allow response to flush
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	// 4. Static Frontend Serving (SPA)
	// Registered only when the dist directory is actually there, so API-only
	// deployments do not serve index.html fallbacks for every path.
	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			spaFS := &spaFileSystem{root: http.Dir(cfg.StaticDir)}
			mux.Handle("/", http.FileServer(spaFS))
		} else {
			slog.Warn("Static dashboard directory missing, SPA disabled", "dir", cfg.StaticDir)
		}
	}

	var handler http.Handler = mux
	if collector != nil {
		handler = collector.HTTPMiddleware(mux)
	}

	return &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
