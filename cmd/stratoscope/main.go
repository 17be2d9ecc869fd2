package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stratoscope/internal/api"
	"stratoscope/internal/observability"
	"stratoscope/pkg/config"
	"stratoscope/pkg/constellation"
	"stratoscope/pkg/core"
	"stratoscope/pkg/db"
	"stratoscope/pkg/db/maintenance"
	"stratoscope/pkg/logging"
	"stratoscope/pkg/predict"
	"stratoscope/pkg/probe"
	"stratoscope/pkg/request"
	"stratoscope/pkg/store"
	"stratoscope/pkg/tracker"
	"stratoscope/pkg/version"
	"stratoscope/pkg/wind"
)

var initConfig = flag.Bool("init-config", false, "Generate default config file and exit")

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault("configs/stratoscope.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated: configs/stratoscope.yaml")
		return
	}

	if err := run(context.Background(), "configs/stratoscope.yaml"); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Daemon failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A .env file can supply the feed URL overrides during development; a
	// missing file is fine.
	_ = godotenv.Load()
	if os.Getenv("STRATOSCOPE_TRACE") != "" {
		logging.EnableTrace = true
	}

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("Stratoscope started", "version", version.Version)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := maintenance.Run(ctx, dbConn, appCfg); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	tr := tracker.New()
	tr.SetFreeTier("windborne", true)
	tr.SetFreeTier("open-meteo", true)

	reqClient := request.New(st, tr, request.ClientConfig{
		Retries:   appCfg.Request.Retries,
		Timeout:   time.Duration(appCfg.Request.Timeout),
		BaseDelay: time.Duration(appCfg.Request.Backoff.BaseDelay),
		MaxDelay:  time.Duration(appCfg.Request.Backoff.MaxDelay),
		CacheTTL:  time.Duration(appCfg.Archive.CacheTTL),
		Rates:     appCfg.Request.Rates,
	})

	feed := constellation.NewService(st, reqClient, appCfg.Feed)
	winds := wind.NewOpenMeteo(reqClient, st, appCfg.Wind)

	// The model loads whenever a file is present so the runtime toggle can
	// switch prediction on without a restart.
	mdl := loadModel(appCfg)

	cfgProv := config.NewProvider(appCfg, st)

	if err := feed.WarmStart(ctx); err != nil {
		slog.Warn("Warm start skipped", "error", err)
	}
	if err := winds.Preload(ctx); err != nil {
		slog.Warn("Wind cache preload failed", "error", err)
	}

	// Startup Probes
	if err := runProbes(ctx, appCfg, st, reqClient, winds, mdl); err != nil {
		return err
	}

	collector, err := observability.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	feed.SetMetrics(collector)
	winds.SetMetrics(collector)

	// Status handler and hub (must exist before the scheduler so no tick
	// is lost)
	hub := api.NewHub(collector)
	defer hub.Close()
	statusH := api.NewStatusHandler(hub, collector)

	// Scheduler
	sched := setupScheduler(appCfg, cfgProv, feed, winds, mdl, st, dbConn, hub, statusH, collector)
	go sched.Start(ctx)

	// Server
	return runServer(ctx, appCfg, feed, winds, mdl, st, tr, cfgProv, statusH, hub, collector)
}

func initDB(appCfg *config.Config) (*db.DB, *store.SQLiteStore, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

func loadModel(cfg *config.Config) *predict.Model {
	mdl, err := predict.LoadModel(cfg.Predict.ModelPath)
	if err != nil {
		slog.Warn("Prediction model unavailable", "path", cfg.Predict.ModelPath, "error", err)
		return nil
	}
	slog.Info("Prediction model loaded", "path", cfg.Predict.ModelPath)
	return mdl
}

func runProbes(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, client *request.Client, winds *wind.OpenMeteo, mdl *predict.Model) error {
	probes := []probe.Probe{
		{
			Name:     "Database",
			Check:    probe.DatabaseCheck(st),
			Critical: true,
		},
		{
			Name:     "Prediction Model",
			Check:    probe.ModelCheck(mdl),
			Critical: cfg.Predict.Enabled,
		},
		{
			Name:     "Constellation Feed",
			Check:    probe.FeedCheck(client, cfg.Feed.BaseURL),
			Critical: false,
		},
	}
	if cfg.Wind.Enabled {
		probes = append(probes, probe.Probe{
			Name:     "Wind API",
			Check:    probe.WindCheck(winds),
			Critical: false,
		})
	}

	results := probe.Run(ctx, probes)
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}
	return nil
}

func setupScheduler(cfg *config.Config, cfgProv config.Provider, feed *constellation.Service, winds *wind.OpenMeteo, mdl *predict.Model, st *store.SQLiteStore, dbConn *db.DB, hub *api.Hub, statusH *api.StatusHandler, collector *observability.Collector) *core.Scheduler {
	sched := core.NewScheduler(cfg, feed, statusH)

	sched.AddJob(core.NewRefreshJob(cfgProv, feed))
	sched.AddJob(core.NewWindJob(cfgProv, feed, winds))

	predictJob := core.NewPredictJob(cfgProv, feed, mdl, st, hub)
	predictJob.SetMetrics(collector)
	sched.AddJob(predictJob)

	sched.AddJob(core.NewPruneJob(cfg, dbConn))

	return sched
}

func runServer(ctx context.Context, cfg *config.Config, feed *constellation.Service, winds *wind.OpenMeteo, mdl *predict.Model, st *store.SQLiteStore, tr *tracker.Tracker, cfgProv config.Provider, statusH *api.StatusHandler, hub *api.Hub, collector *observability.Collector) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(cfg.Server,
		statusH,
		api.NewConstellationHandler(feed),
		api.NewBalloonHandler(feed, st, mdl),
		api.NewWindHandler(winds),
		api.NewDensityHandler(feed),
		api.NewStatsHandler(tr, st),
		api.NewConfigHandler(st, cfgProv),
		hub,
		collector,
		shutdownFunc,
	)

	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
