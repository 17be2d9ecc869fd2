package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"stratoscope/pkg/config"
	"stratoscope/pkg/constellation"
	"stratoscope/pkg/store"
)

// ConfigHandler serves and updates the runtime-adjustable settings. Updates
// land in the state store, where the config provider picks them up on the
// next scheduler tick.
type ConfigHandler struct {
	store   store.StateStore
	cfgProv config.Provider
	appCfg  *config.Config
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(st store.StateStore, cfg config.Provider) *ConfigHandler {
	return &ConfigHandler{
		store:   st,
		cfgProv: cfg,
		appCfg:  cfg.AppConfig(),
	}
}

// ConfigResponse represents the config API response. The read-only fields at
// the bottom give the dashboard context it cannot change.
type ConfigResponse struct {
	RefreshInterval string `json:"refresh_interval"`
	RetryInterval   string `json:"retry_interval"`
	WindEnabled     bool   `json:"wind_enabled"`
	PredictEnabled  bool   `json:"predict_enabled"`

	FeedURL     string `json:"feed_url"`
	WindowHours int    `json:"window_hours"`
}

// ConfigRequest represents a config update. Pointers distinguish absent
// fields from explicit values; an explicit null resets the setting to its
// file default.
type ConfigRequest struct {
	RefreshInterval *string `json:"refresh_interval,omitempty"`
	RetryInterval   *string `json:"retry_interval,omitempty"`
	WindEnabled     *bool   `json:"wind_enabled,omitempty"`
	PredictEnabled  *bool   `json:"predict_enabled,omitempty"`
}

// HandleGetConfig returns the current configuration.
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	resp := h.getConfigResponse(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode config response", "error", err)
	}
}

func (h *ConfigHandler) getConfigResponse(ctx context.Context) ConfigResponse {
	return ConfigResponse{
		RefreshInterval: h.cfgProv.RefreshInterval(ctx).String(),
		RetryInterval:   h.cfgProv.RetryInterval(ctx).String(),
		WindEnabled:     h.cfgProv.WindEnabled(ctx),
		PredictEnabled:  h.cfgProv.PredictEnabled(ctx),
		FeedURL:         h.appCfg.Feed.BaseURL,
		WindowHours:     constellation.WindowHours,
	}
}

// HandleSetConfig updates the configuration and returns the result of the
// equivalent GET.
func (h *ConfigHandler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req ConfigRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if err := h.applyDuration(ctx, body, "refresh_interval", config.KeyRefreshInterval, req.RefreshInterval); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.applyDuration(ctx, body, "retry_interval", config.KeyRetryInterval, req.RetryInterval); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.applyBool(ctx, body, "wind_enabled", config.KeyWindEnabled, req.WindEnabled); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.applyBool(ctx, body, "predict_enabled", config.KeyPredictEnabled, req.PredictEnabled); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.HandleGetConfig(w, r)
}

func (h *ConfigHandler) applyDuration(ctx context.Context, body []byte, jsonKey, stateKey string, val *string) error {
	if val == nil {
		if containsJSONKey(body, jsonKey) {
			// Explicit null resets to the file default.
			return h.store.DeleteState(ctx, stateKey)
		}
		return nil
	}

	dur, err := config.ParseDuration(*val)
	if err != nil || dur <= 0 {
		return fmt.Errorf("%s must be a positive duration", jsonKey)
	}
	if err := h.store.SetState(ctx, stateKey, *val); err != nil {
		return err
	}
	slog.Debug("Config updated", stateKey, *val)
	return nil
}

func (h *ConfigHandler) applyBool(ctx context.Context, body []byte, jsonKey, stateKey string, val *bool) error {
	if val == nil {
		if containsJSONKey(body, jsonKey) {
			return h.store.DeleteState(ctx, stateKey)
		}
		return nil
	}

	strVal := "false"
	if *val {
		strVal = "true"
	}
	if err := h.store.SetState(ctx, stateKey, strVal); err != nil {
		return err
	}
	slog.Debug("Config updated", stateKey, strVal)
	return nil
}

func containsJSONKey(body []byte, key string) bool {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
