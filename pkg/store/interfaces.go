package store

import (
	"context"
	"time"

	"stratoscope/pkg/model"
)

// SnapshotStore handles hour snapshot persistence.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, hour time.Time) (*model.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	GetWindow(ctx context.Context, hours int) ([]*model.Snapshot, error)
	GetSnapshotHash(ctx context.Context, hour time.Time) (hash string, found bool, err error)
}

// PredictionStore handles predicted positions per feed generation.
type PredictionStore interface {
	GetPrediction(ctx context.Context, index int, generation uint64) (*model.Prediction, error)
	SavePrediction(ctx context.Context, p *model.Prediction) error
	GetPredictions(ctx context.Context, generation uint64) ([]*model.Prediction, error)
}

// WindStore persists wind readings keyed by quantized cell.
type WindStore interface {
	GetWindReading(ctx context.Context, cellKey string) (*model.WindReading, error)
	SaveWindReading(ctx context.Context, cellKey string, r *model.WindReading) error
	ListWindReadings(ctx context.Context) ([]*model.WindReading, error)
}

// CacheStore handles generic key-value caching with per-entry expiry.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte, ttl time.Duration) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
