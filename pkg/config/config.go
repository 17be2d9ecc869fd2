package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	Wind    WindConfig    `yaml:"wind"`
	Predict PredictConfig `yaml:"predict"`
	Request RequestConfig `yaml:"request"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
	DB      DBConfig      `yaml:"db"`
	Server  ServerConfig  `yaml:"server"`
	Ticker  TickerConfig  `yaml:"ticker"`
}

// FeedConfig holds settings for the upstream constellation feed.
type FeedConfig struct {
	BaseURL         string   `yaml:"base_url" validate:"required,url"`
	RefreshInterval Duration `yaml:"refresh_interval" validate:"gt=0"`
	RetryInterval   Duration `yaml:"retry_interval" validate:"gt=0"`
	BackfillWorkers int      `yaml:"backfill_workers" validate:"gte=1,lte=24"`
	MaxJump         Distance `yaml:"max_jump" validate:"gt=0"`
}

// WindConfig holds settings for the wind lookup provider.
type WindConfig struct {
	Enabled     bool     `yaml:"enabled"`
	BaseURL     string   `yaml:"base_url" validate:"required,url"`
	CellSizeDeg float64  `yaml:"cell_size_deg" validate:"gt=0,lte=5"`
	CacheSize   int      `yaml:"cache_size" validate:"gte=1"`
	TTL         Duration `yaml:"ttl" validate:"gt=0"`
}

// PredictConfig holds settings for the trajectory predictor.
type PredictConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelPath string `yaml:"model_path" validate:"required"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries" validate:"gte=0"`
	Timeout Duration      `yaml:"timeout" validate:"gt=0"`
	Backoff BackoffConfig `yaml:"backoff"`
	// Rates maps an upstream provider name to its requests-per-second
	// budget; 0 disables the limiter for that provider.
	Rates map[string]float64 `yaml:"rates" validate:"dive,gte=0"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay  Duration `yaml:"max_delay" validate:"gt=0"`
}

// ArchiveConfig holds retention settings for stored snapshots and caches.
type ArchiveConfig struct {
	Retention     Duration `yaml:"retention" validate:"gt=0"`
	CacheTTL      Duration `yaml:"cache_ttl" validate:"gt=0"`
	PruneInterval Duration `yaml:"prune_interval" validate:"gt=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings    `yaml:"server"`
	Requests LogSettings    `yaml:"requests"`
	Events   LogSettings    `yaml:"events"`
	Rotation RotationConfig `yaml:"rotation"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// RotationConfig holds log rotation settings.
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" validate:"gte=1"`
	MaxBackups int  `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int  `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool `yaml:"compress"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address" validate:"required"`
	// StaticDir is served at / when it exists; the daemon runs headless
	// otherwise.
	StaticDir string `yaml:"static_dir"`
}

// TickerConfig holds ticker settings.
type TickerConfig struct {
	StatusLoop Duration `yaml:"status_loop" validate:"gt=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			BaseURL:         "https://a.windbornesystems.com",
			RefreshInterval: Duration(10 * time.Minute),
			RetryInterval:   Duration(2 * time.Minute),
			BackfillWorkers: 4,
			MaxJump:         Distance(500), // 500km between hourly samples
		},
		Wind: WindConfig{
			Enabled:     true,
			BaseURL:     "https://api.open-meteo.com",
			CellSizeDeg: 0.1,
			CacheSize:   4096,
			TTL:         Duration(45 * time.Minute),
		},
		Predict: PredictConfig{
			Enabled:   true,
			ModelPath: "./data/model.json",
		},
		Request: RequestConfig{
			Retries: 5,
			Timeout: Duration(300 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(60 * time.Second),
			},
			Rates: map[string]float64{
				"windborne":  2,
				"open-meteo": 4,
			},
		},
		Archive: ArchiveConfig{
			Retention:     Duration(14 * Day),
			CacheTTL:      Duration(90 * time.Minute),
			PruneInterval: Duration(6 * time.Hour),
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			Events: LogSettings{
				Path:  "./logs/events.log",
				Level: "INFO",
			},
			Rotation: RotationConfig{
				MaxSizeMB:  20,
				MaxBackups: 5,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		DB: DBConfig{
			Path: "./data/stratoscope.db",
		},
		Server: ServerConfig{
			Address:   "localhost:8420",
			StaticDir: "./web/dist",
		},
		Ticker: TickerConfig{
			StatusLoop: Duration(5 * time.Second),
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk (to preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Read existing file if it exists
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Load from Env if empty (as a fallback, but do NOT save back to disk)
		if cfg.Feed.BaseURL == "" {
			if u := os.Getenv("CONSTELLATION_FEED_URL"); u != "" {
				cfg.Feed.BaseURL = u
			}
		}
		if cfg.Wind.BaseURL == "" {
			if u := os.Getenv("OPEN_METEO_BASE_URL"); u != "" {
				cfg.Wind.BaseURL = u
			}
		}

		if err := validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	// If file does not exist, save defaults
	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Stratoscope Configuration
# -------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles)

`)
	data = append(header, data...)

	// Inject comments for fields whose values need context.
	// We use regex to find the keys with indentation to ensure we place comments correctly.

	reLevel := regexp.MustCompile(`(?m)^(\s+)level:`)
	data = reLevel.ReplaceAll(data, []byte("${1}# Options: DEBUG, INFO, WARN, ERROR\n${1}level:"))

	reRates := regexp.MustCompile(`(?m)^(\s+)rates:`)
	data = reRates.ReplaceAll(data, []byte("${1}# Requests per second per upstream provider; 0 disables the limiter\n${1}rates:"))

	reCell := regexp.MustCompile(`(?m)^(\s+)cell_size_deg:`)
	data = reCell.ReplaceAll(data, []byte("${1}# Wind lookups within one cell share a reading\n${1}cell_size_deg:"))

	reJump := regexp.MustCompile(`(?m)^(\s+)max_jump:`)
	data = reJump.ReplaceAll(data, []byte("${1}# Hour-to-hour moves beyond this are treated as feed corruption\n${1}max_jump:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, do nothing
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write default config
	return Save(path, DefaultConfig())
}
