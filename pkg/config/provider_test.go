package config

import (
	"context"
	"testing"
	"time"
)

// MockStateStore implements store.StateStore for testing.
type MockStateStore struct {
	data map[string]string
}

func NewMockStateStore() *MockStateStore {
	return &MockStateStore{data: make(map[string]string)}
}

func (m *MockStateStore) GetState(ctx context.Context, key string) (string, bool) {
	val, ok := m.data[key]
	return val, ok
}

func (m *MockStateStore) SetState(ctx context.Context, key, val string) error {
	m.data[key] = val
	return nil
}

func (m *MockStateStore) DeleteState(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestUnifiedProvider(t *testing.T) {
	ctx := context.Background()
	baseCfg := DefaultConfig()
	baseCfg.Feed.RefreshInterval = Duration(10 * time.Minute)
	baseCfg.Feed.RetryInterval = Duration(2 * time.Minute)
	baseCfg.Wind.Enabled = true
	baseCfg.Predict.Enabled = false

	st := NewMockStateStore()
	p := NewProvider(baseCfg, st)

	t.Run("Defaults_And_Fallbacks", func(t *testing.T) {
		if p.RefreshInterval(ctx) != 10*time.Minute {
			t.Errorf("expected 10m, got %v", p.RefreshInterval(ctx))
		}
		if p.RetryInterval(ctx) != 2*time.Minute {
			t.Errorf("expected 2m, got %v", p.RetryInterval(ctx))
		}
		if p.WindEnabled(ctx) != true {
			t.Error("expected wind enabled")
		}
		if p.PredictEnabled(ctx) != false {
			t.Error("expected predict disabled")
		}
		if p.AppConfig() != baseCfg {
			t.Error("expected baseCfg")
		}
	})

	t.Run("Store_Overrides", func(t *testing.T) {
		st.SetState(ctx, KeyRefreshInterval, "30m")
		st.SetState(ctx, KeyRetryInterval, "90s")
		st.SetState(ctx, KeyWindEnabled, "false")
		st.SetState(ctx, KeyPredictEnabled, "true")

		if p.RefreshInterval(ctx) != 30*time.Minute {
			t.Errorf("expected 30m, got %v", p.RefreshInterval(ctx))
		}
		if p.RetryInterval(ctx) != 90*time.Second {
			t.Errorf("expected 90s, got %v", p.RetryInterval(ctx))
		}
		if p.WindEnabled(ctx) != false {
			t.Error("expected wind disabled via override")
		}
		if p.PredictEnabled(ctx) != true {
			t.Error("expected predict enabled via override")
		}
	})

	t.Run("Conversion_Errors_Fallbacks", func(t *testing.T) {
		st.SetState(ctx, KeyRefreshInterval, "invalid")
		st.SetState(ctx, KeyRetryInterval, "-5m")

		if p.RefreshInterval(ctx) != 10*time.Minute {
			t.Errorf("expected fallback 10m, got %v", p.RefreshInterval(ctx))
		}
		if p.RetryInterval(ctx) != 2*time.Minute {
			t.Errorf("expected fallback 2m, got %v", p.RetryInterval(ctx))
		}
	})

	t.Run("Delete_Restores_Default", func(t *testing.T) {
		st.SetState(ctx, KeyWindEnabled, "false")
		if p.WindEnabled(ctx) != false {
			t.Error("expected override to apply before delete")
		}
		st.DeleteState(ctx, KeyWindEnabled)
		if p.WindEnabled(ctx) != true {
			t.Error("expected file default after delete")
		}
	})

	t.Run("Empty_Store_Handle", func(t *testing.T) {
		pNone := NewProvider(baseCfg, nil)
		if pNone.RefreshInterval(ctx) != 10*time.Minute {
			t.Errorf("expected 10m, got %v", pNone.RefreshInterval(ctx))
		}
		if pNone.WindEnabled(ctx) != true {
			t.Error("expected wind enabled fallback")
		}
	})
}
