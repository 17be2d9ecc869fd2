package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stratoscope/pkg/model"
	"stratoscope/pkg/predict"
	"stratoscope/pkg/store"
)

// Fetcher is the slice of the retrieval client the reachability checks use.
// Checks pass an empty cache key so probe traffic never pollutes the cache.
type Fetcher interface {
	Get(ctx context.Context, url, cacheKey string) ([]byte, error)
}

// WindSource is the slice of the wind provider the wind check uses.
type WindSource interface {
	CurrentWind(ctx context.Context, lat, lon float64) (*model.WindReading, error)
}

// DatabaseCheck verifies the database accepts writes with a state
// round-trip under a probe-scoped key.
func DatabaseCheck(st store.StateStore) CheckFunc {
	return func(ctx context.Context) error {
		const key = "probe_heartbeat"

		stamp := time.Now().UTC().Format(time.RFC3339Nano)
		if err := st.SetState(ctx, key, stamp); err != nil {
			return fmt.Errorf("state write failed: %w", err)
		}
		got, ok := st.GetState(ctx, key)
		if !ok || got != stamp {
			return fmt.Errorf("state read-back mismatch: got %q, want %q", got, stamp)
		}
		return nil
	}
}

// ModelCheck validates the prediction model dimensions.
func ModelCheck(m *predict.Model) CheckFunc {
	return func(ctx context.Context) error {
		if m == nil {
			return fmt.Errorf("no model loaded")
		}
		return m.Validate()
	}
}

// FeedCheck fetches the newest constellation hour and verifies a document
// came back. Content validation belongs to the feed service; this only
// answers "is the upstream there".
func FeedCheck(client Fetcher, baseURL string) CheckFunc {
	return func(ctx context.Context) error {
		u := fmt.Sprintf("%s/treasure/00.json", strings.TrimSuffix(baseURL, "/"))
		body, err := client.Get(ctx, u, "")
		if err != nil {
			return fmt.Errorf("feed unreachable: %w", err)
		}
		if len(body) == 0 {
			return fmt.Errorf("feed returned an empty document")
		}
		return nil
	}
}

// WindCheck resolves the wind at a fixed reference position.
func WindCheck(winds WindSource) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := winds.CurrentWind(ctx, 52.5, 13.4); err != nil {
			return fmt.Errorf("wind API unreachable: %w", err)
		}
		return nil
	}
}
