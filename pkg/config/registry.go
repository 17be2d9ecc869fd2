package config

// Persistent state keys (Registry). Values under these keys live in the
// state store and override the file config until deleted.
const (
	KeyRefreshInterval = "refresh_interval"
	KeyRetryInterval   = "retry_interval"
	KeyWindEnabled     = "wind_enabled"
	KeyPredictEnabled  = "predict_enabled"
)
