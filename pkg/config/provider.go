package config

import (
	"context"
	"time"

	"stratoscope/pkg/store"
)

// Provider defines the interface for settings that can change at runtime.
// Reads consult the state store first and fall back to the file config.
type Provider interface {
	// Feed cadences
	RefreshInterval(ctx context.Context) time.Duration
	RetryInterval(ctx context.Context) time.Duration

	// Enrichment toggles
	WindEnabled(ctx context.Context) bool
	PredictEnabled(ctx context.Context) bool

	// Raw access (for components that need settings outside the
	// runtime-adjustable set)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider. A nil store makes every read
// fall back to the file config.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

// --- Implementations ---

func (p *UnifiedProvider) RefreshInterval(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyRefreshInterval, time.Duration(p.base.Feed.RefreshInterval))
}

func (p *UnifiedProvider) RetryInterval(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyRetryInterval, time.Duration(p.base.Feed.RetryInterval))
}

func (p *UnifiedProvider) WindEnabled(ctx context.Context) bool {
	return p.getBool(ctx, KeyWindEnabled, p.base.Wind.Enabled)
}

func (p *UnifiedProvider) PredictEnabled(ctx context.Context) bool {
	return p.getBool(ctx, KeyPredictEnabled, p.base.Predict.Enabled)
}

// --- Helpers ---

func (p *UnifiedProvider) getBool(ctx context.Context, key string, fallback bool) bool {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val == "true"
		}
	}
	return fallback
}

func (p *UnifiedProvider) getDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if dur, err := ParseDuration(val); err == nil && dur > 0 {
				return dur
			}
		}
	}
	return fallback
}
